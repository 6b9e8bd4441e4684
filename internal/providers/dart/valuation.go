package dart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/models"
	"github.com/stockdata-project/collector/internal/pipeline"
	"github.com/stockdata-project/collector/internal/store"
)

// Report identifies one periodic filing.
type Report struct {
	Year     int
	Code     string
	Quarters int // quarters covered by the cumulative income figures
}

func (r Report) String() string {
	switch r.Code {
	case ReportAnnual:
		return fmt.Sprintf("%d FY", r.Year)
	case ReportHalf:
		return fmt.Sprintf("%d H1", r.Year)
	}
	return fmt.Sprintf("%d Q%d", r.Year, r.Quarters)
}

// ReportCandidates lists the filings most likely to be the latest on now,
// newest first. Quarterly reports are due 45 days after quarter end and the
// annual report 90 days after year end; a couple of older filings follow as
// fallbacks for late filers.
func ReportCandidates(now time.Time) []Report {
	y := now.Year()
	all := []struct {
		r   Report
		due time.Time
	}{
		{Report{y, ReportQ3, 3}, time.Date(y, 11, 14, 0, 0, 0, 0, time.UTC)},
		{Report{y, ReportHalf, 2}, time.Date(y, 8, 14, 0, 0, 0, 0, time.UTC)},
		{Report{y, ReportQ1, 1}, time.Date(y, 5, 15, 0, 0, 0, 0, time.UTC)},
		{Report{y - 1, ReportAnnual, 4}, time.Date(y, 3, 31, 0, 0, 0, 0, time.UTC)},
		{Report{y - 1, ReportQ3, 3}, time.Date(y-1, 11, 14, 0, 0, 0, 0, time.UTC)},
		{Report{y - 1, ReportHalf, 2}, time.Date(y-1, 8, 14, 0, 0, 0, 0, time.UTC)},
		{Report{y - 2, ReportAnnual, 4}, time.Date(y-1, 3, 31, 0, 0, 0, 0, time.UTC)},
	}

	var out []Report
	for _, c := range all {
		// a report may appear early, so the newest one not yet due is tried first
		if len(out) == 0 && now.Before(c.due.AddDate(0, 0, -30)) {
			continue
		}
		out = append(out, c.r)
		if len(out) == 4 {
			break
		}
	}
	return out
}

// Financials are the figures valuation needs, in KRW.
type Financials struct {
	NetIncome   null.Int
	TotalEquity null.Int
}

// ExtractFinancials picks net income (the controlling-interest line when the
// statement splits it out) and total equity, preferring the consolidated
// statement. Interim net income is annualised from the cumulative figure.
func ExtractFinancials(accounts []Account, quarters int) Financials {
	var out Financials
	for _, fsDiv := range []string{"CFS", "OFS"} {
		var income *Account
		for i := range accounts {
			a := &accounts[i]
			if a.FSDiv != fsDiv {
				continue
			}
			name := strings.ReplaceAll(a.AccountName, " ", "")
			switch {
			case isControllingIncome(name):
				income = a
			case income == nil && strings.HasPrefix(name, "당기순이익"):
				income = a
			case !out.TotalEquity.Valid && name == "자본총계":
				out.TotalEquity = parseAmount(a.ThisTermAmount)
			}
		}
		if income != nil && !out.NetIncome.Valid {
			amount := parseAmount(income.ThisTermAddAmt)
			if !amount.Valid {
				amount = parseAmount(income.ThisTermAmount)
			}
			if amount.Valid && quarters > 0 && quarters < 4 {
				amount = null.IntFrom(amount.Int64 * 4 / int64(quarters))
			}
			out.NetIncome = amount
		}
		if out.NetIncome.Valid && out.TotalEquity.Valid {
			break
		}
	}
	return out
}

func isControllingIncome(name string) bool {
	return strings.Contains(name, "순이익") && strings.Contains(name, "지배") && !strings.Contains(name, "비지배")
}

func parseAmount(s string) null.Int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "-" {
		return null.Int{}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return null.Int{}
	}
	return null.IntFrom(n)
}

// Valuation is the per-share view of Financials at a price.
type Valuation struct {
	EPS null.Int
	BPS null.Int
	PER decimal.NullDecimal
	PBR decimal.NullDecimal
}

// Compute derives EPS/BPS from shares outstanding and PER/PBR from the close.
// Ratios are rounded to 2 places and left null when the per-share figure is
// not positive.
func Compute(f Financials, closePrice, shares int64) Valuation {
	var v Valuation
	if shares <= 0 {
		return v
	}
	price := decimal.NewFromInt(closePrice)
	sh := decimal.NewFromInt(shares)

	if f.NetIncome.Valid {
		eps := decimal.NewFromInt(f.NetIncome.Int64).Div(sh)
		v.EPS = null.IntFrom(eps.IntPart())
		if eps.IsPositive() && closePrice > 0 {
			v.PER = decimal.NewNullDecimal(price.Div(eps).Round(2))
		}
	}
	if f.TotalEquity.Valid {
		bps := decimal.NewFromInt(f.TotalEquity.Int64).Div(sh)
		v.BPS = null.IntFrom(bps.IntPart())
		if bps.IsPositive() && closePrice > 0 {
			v.PBR = decimal.NewNullDecimal(price.Div(bps).Round(2))
		}
	}
	return v
}

// PriceLookup reads what valuation needs from the store.
type PriceLookup interface {
	GetInstrument(ctx context.Context, code string) (*models.Instrument, error)
	LatestPrice(ctx context.Context, code string) (*models.DailyPrice, error)
}

// ValuationSource refreshes PER/PBR/EPS/BPS for ticker units.
type ValuationSource struct {
	Client    *Client
	Lookup    PriceLookup
	CorpCodes map[string]string // ticker -> DART corp code
	Now       func() time.Time
	CallDelay time.Duration
	Sleep     func(ctx context.Context, d time.Duration) error
}

func NewValuationSource(c *Client, lookup PriceLookup, corpCodes map[string]string) *ValuationSource {
	return &ValuationSource{
		Client:    c,
		Lookup:    lookup,
		CorpCodes: corpCodes,
		Now:       time.Now,
		CallDelay: 100 * time.Millisecond,
		Sleep:     pipeline.SleepContext,
	}
}

func (s *ValuationSource) Name() string { return "valuation" }

func (s *ValuationSource) Fetch(ctx context.Context, u pipeline.Unit) (*pipeline.Batch, error) {
	code := u.Ticker
	noData := &pipeline.NoDataError{Source: s.Name(), Unit: u}
	log := logger.With(logger.Fields{"source": s.Name(), "unit": code})

	corpCode, ok := s.CorpCodes[code]
	if !ok || corpCode == "" {
		log.Warn("no corp code mapped; add it to the universe file")
		return nil, noData
	}

	inst, err := s.Lookup.GetInstrument(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("instrument not collected yet")
		return nil, noData
	}
	if err != nil {
		return nil, err
	}
	if !inst.ListedShares.Valid || inst.ListedShares.Int64 <= 0 {
		log.Warn("no listed share count stored")
		return nil, noData
	}
	price, err := s.Lookup.LatestPrice(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("no stored close price")
		return nil, noData
	}
	if err != nil {
		return nil, err
	}

	report, accounts, err := s.latestAccounts(ctx, corpCode)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, noData
	}

	v := Compute(ExtractFinancials(accounts, report.Quarters), price.ClosePrice, inst.ListedShares.Int64)
	row := *inst
	row.EPS, row.BPS, row.PER, row.PBR = v.EPS, v.BPS, v.PER, v.PBR
	row.LastReportDate = report.String()

	log.Debug("report %s: eps=%v bps=%v per=%v pbr=%v", report, v.EPS.Int64, v.BPS.Int64, v.PER.Decimal, v.PBR.Decimal)

	return &pipeline.Batch{
		Records:           []pipeline.Record{{Instrument: row, Segment: row.ExchangeSegment}},
		TotalCount:        1,
		InstrumentMode:    pipeline.InstrumentUpsert,
		InstrumentColumns: store.ValuationColumns,
	}, nil
}

func (s *ValuationSource) latestAccounts(ctx context.Context, corpCode string) (*Report, []Account, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = pipeline.SleepContext
	}

	for i, r := range ReportCandidates(now()) {
		if i > 0 {
			if err := sleep(ctx, s.CallDelay); err != nil {
				return nil, nil, err
			}
		}
		accounts, err := s.Client.GetSingleAccounts(ctx, corpCode, strconv.Itoa(r.Year), r.Code)
		if errors.Is(err, ErrNoReport) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		r := r
		return &r, accounts, nil
	}
	return nil, nil, nil
}
