// Package classify decides whether an instrument is a fund-type product.
//
// The providers' own category fields are unreliable for exchange-traded
// products, so the decision is a best-effort heuristic: substring match of the
// display name against known fund brands. Manual overrides always win and the
// reclassification pass re-applies the current keyword set to stored rows.
package classify

import (
	"strings"
	"sync"

	"github.com/stockdata-project/collector/internal/models"
	"github.com/stockdata-project/collector/internal/pipeline"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// DefaultFundKeywords are fund brand prefixes as they appear in listed names.
// Brokerage house names (KB, NH, MIRAE, KIWOOM) are left out on purpose: they
// also head ordinary equities such as the brokers' own shares. Entries with a
// trailing space only match as a separate word.
var DefaultFundKeywords = []string{
	"KODEX", "TIGER", "ARIRANG", "KBSTAR", "KOSEF", "TREX", "SOL ", "ACE ",
	"TIMEFOLIO", "RISE", "PLUS", "HANARO", "SMART", "KINDEX", "SYNTH",
	"TRUE", "MULTI", "FOCUS", "ITF", "ALPHA", "KTOP", "QV",
	"1Q", "HK ", "마이티", "에셋플러스",
}

// Input is what the reconciler looks at.
type Input struct {
	Code     string
	Name     string
	Segment  string
	FundHint bool
}

// Result is the decided classification.
type Result struct {
	MarketType   string
	AssetType    string
	ClassifiedBy string
}

// IsFund reports whether the result is a fund-type classification.
func (r Result) IsFund() bool {
	return r.AssetType == models.AssetETF
}

// Reconciler classifies records. It is safe for concurrent use; overrides can
// be replaced while a run is in flight.
type Reconciler struct {
	keywords []string

	mu        sync.RWMutex
	overrides map[string]models.InstrumentOverride
}

// NewReconciler builds a reconciler. A nil keyword slice means DefaultFundKeywords.
func NewReconciler(keywords []string, overrides []models.InstrumentOverride) *Reconciler {
	if keywords == nil {
		keywords = DefaultFundKeywords
	}
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = Normalize(k); strings.TrimSpace(k) != "" {
			normalized = append(normalized, k)
		}
	}

	r := &Reconciler{keywords: normalized}
	r.SetOverrides(overrides)
	return r
}

// SetOverrides replaces the override table.
func (r *Reconciler) SetOverrides(overrides []models.InstrumentOverride) {
	m := make(map[string]models.InstrumentOverride, len(overrides))
	for _, o := range overrides {
		m[o.StockCode] = o
	}
	r.mu.Lock()
	r.overrides = m
	r.mu.Unlock()
}

// Override returns the manual classification for code, if any.
func (r *Reconciler) Override(code string) (models.InstrumentOverride, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.overrides[code]
	return o, ok
}

// Keywords returns the normalised keyword set in use.
func (r *Reconciler) Keywords() []string {
	out := make([]string, len(r.keywords))
	copy(out, r.keywords)
	return out
}

// MatchKeyword returns the first fund keyword contained in name.
func (r *Reconciler) MatchKeyword(name string) (string, bool) {
	n := Normalize(name)
	for _, k := range r.keywords {
		if strings.Contains(n, k) {
			return k, true
		}
	}
	return "", false
}

// IsFund decides fund-type from the display name and ticker code alone.
func (r *Reconciler) IsFund(name, code string) bool {
	if o, ok := r.Override(code); ok {
		return o.AssetType == models.AssetETF
	}
	_, ok := r.MatchKeyword(name)
	return ok
}

// Decide applies override > provider fund hint > keyword > exchange segment.
func (r *Reconciler) Decide(in Input) Result {
	if o, ok := r.Override(in.Code); ok {
		return Result{MarketType: o.MarketType, AssetType: o.AssetType, ClassifiedBy: models.ClassifiedByOverride}
	}
	if in.FundHint {
		return Result{MarketType: models.MarketETF, AssetType: models.AssetETF, ClassifiedBy: models.ClassifiedByProvider}
	}
	if _, ok := r.MatchKeyword(in.Name); ok {
		return Result{MarketType: models.MarketETF, AssetType: models.AssetETF, ClassifiedBy: models.ClassifiedByKeyword}
	}
	res := Result{MarketType: SegmentMarket(in.Segment), AssetType: models.AssetStock, ClassifiedBy: models.ClassifiedBySegment}
	if res.MarketType == models.MarketETF {
		res.AssetType = models.AssetETF
	}
	return res
}

// Classify implements pipeline.Classifier.
func (r *Reconciler) Classify(rec *pipeline.Record) {
	res := r.Decide(Input{
		Code:     rec.Instrument.StockCode,
		Name:     rec.Instrument.StockName,
		Segment:  rec.Segment,
		FundHint: rec.FundHint,
	})
	rec.Instrument.MarketType = res.MarketType
	rec.Instrument.AssetType = res.AssetType
	rec.Instrument.ClassifiedBy = res.ClassifiedBy
	if rec.Instrument.ExchangeSegment == "" {
		rec.Instrument.ExchangeSegment = strings.ToUpper(strings.TrimSpace(rec.Segment))
	}
	// fund-only endpoints send no segment; record where the row was listed
	// so the hint survives an override being set and cleared
	if rec.FundHint && rec.Instrument.ExchangeSegment == "" {
		rec.Instrument.ExchangeSegment = models.MarketETF
	}
}

// SegmentMarket maps a provider market category to a stored market type.
func SegmentMarket(segment string) string {
	switch strings.ToUpper(strings.TrimSpace(segment)) {
	case models.MarketKOSPI:
		return models.MarketKOSPI
	case models.MarketKOSDAQ, "KOSDAQ GLOBAL":
		return models.MarketKOSDAQ
	case models.MarketKONEX:
		return models.MarketKONEX
	case models.MarketETF:
		return models.MarketETF
	}
	return models.MarketETC
}

// Normalize composes Hangul (NFC) and folds full-width Latin and digits to
// ASCII so that "ＫＯＤＥＸ" and "KODEX" compare equal. Case is preserved.
func Normalize(s string) string {
	return width.Fold.String(norm.NFC.String(s))
}

// AdjustKeywords returns base plus add, minus remove, without duplicates.
func AdjustKeywords(base, add, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, k := range remove {
		drop[Normalize(k)] = struct{}{}
	}
	seen := make(map[string]struct{}, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, k := range list {
			n := Normalize(k)
			if _, ok := drop[n]; ok {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}
