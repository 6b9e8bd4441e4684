package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/stockdata-project/collector/internal/classify"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/models"
	"github.com/stockdata-project/collector/internal/pipeline"
	"github.com/stockdata-project/collector/internal/store"
)

// ClassificationService re-applies the fund heuristic to stored instruments
// and manages manual overrides.
type ClassificationService struct {
	Store      *store.Store
	Redis      *redis.Client
	Reconciler *classify.Reconciler
}

func NewClassificationService(st *store.Store, rdb *redis.Client, r *classify.Reconciler) *ClassificationService {
	return &ClassificationService{Store: st, Redis: rdb, Reconciler: r}
}

// Change is one row whose classification moved.
type Change struct {
	StockCode string `json:"stock_code"`
	StockName string `json:"stock_name"`
	From      string `json:"from"`
	To        string `json:"to"`
	AssetType string `json:"asset_type"`
	By        string `json:"classified_by"`
	Keyword   string `json:"keyword,omitempty"`
}

type changeKind int

const (
	unchanged changeKind = iota
	overridden
	promoted
	demoted
)

// ReclassifyReport summarises a reclassification pass.
type ReclassifyReport struct {
	DryRun     bool     `json:"dry_run"`
	Scanned    int      `json:"scanned"`
	Promoted   []Change `json:"promoted"`
	Demoted    []Change `json:"demoted"`
	Overridden []Change `json:"overridden"`
}

// Changed returns how many rows moved.
func (r *ReclassifyReport) Changed() int {
	return len(r.Promoted) + len(r.Demoted) + len(r.Overridden)
}

// Reclassify scans every stored instrument. Keyword matches not yet marked as
// funds are promoted; fund rows that no longer match are demoted to their
// exchange segment, or KONEX when that is unknown. Provider-classified rows
// are left alone and overrides always win. With dryRun set nothing is written.
func (s *ClassificationService) Reclassify(ctx context.Context, dryRun bool) (*ReclassifyReport, error) {
	if err := s.LoadOverrides(ctx); err != nil {
		return nil, err
	}

	rows, err := s.Store.ListInstruments(ctx, store.InstrumentFilter{})
	if err != nil {
		return nil, err
	}

	report := &ReclassifyReport{
		DryRun:     dryRun,
		Scanned:    len(rows),
		Promoted:   []Change{},
		Demoted:    []Change{},
		Overridden: []Change{},
	}

	for _, row := range rows {
		change, kind := s.decide(row)
		switch kind {
		case unchanged:
			continue
		case overridden:
			report.Overridden = append(report.Overridden, change)
		case promoted:
			report.Promoted = append(report.Promoted, change)
		case demoted:
			report.Demoted = append(report.Demoted, change)
		}

		if dryRun {
			continue
		}
		if err := s.Store.SetClassification(ctx, row.StockCode, change.To, change.AssetType, change.By); err != nil {
			return report, fmt.Errorf("reclassify %s: %w", row.StockCode, err)
		}
	}

	mode := "applied"
	if dryRun {
		mode = "dry run"
	}
	logger.Info("reclassification (%s): scanned=%d promoted=%d demoted=%d overridden=%d",
		mode, report.Scanned, len(report.Promoted), len(report.Demoted), len(report.Overridden))

	if !dryRun && report.Changed() > 0 {
		if _, err := clearStatsCache(ctx, s.Redis); err != nil {
			logger.Warn("failed to clear stats cache: %v", err)
		}
	}
	return report, nil
}

func (s *ClassificationService) decide(row models.Instrument) (Change, changeKind) {
	change := Change{StockCode: row.StockCode, StockName: row.StockName, From: row.MarketType}

	if o, ok := s.Reconciler.Override(row.StockCode); ok {
		if row.MarketType == o.MarketType && row.AssetType == o.AssetType && row.ClassifiedBy == models.ClassifiedByOverride {
			return change, unchanged
		}
		change.To, change.AssetType, change.By = o.MarketType, o.AssetType, models.ClassifiedByOverride
		return change, overridden
	}
	if row.ClassifiedBy == models.ClassifiedByProvider {
		return change, unchanged
	}

	keyword, matched := s.Reconciler.MatchKeyword(row.StockName)
	switch {
	case matched && row.MarketType != models.MarketETF:
		change.To, change.AssetType, change.By = models.MarketETF, models.AssetETF, models.ClassifiedByKeyword
		change.Keyword = strings.TrimSpace(keyword)
		return change, promoted

	case !matched && row.IsFund():
		to := classify.SegmentMarket(row.ExchangeSegment)
		if to == models.MarketETF || to == models.MarketETC {
			to = models.MarketKONEX
		}
		change.To, change.AssetType, change.By = to, models.AssetStock, models.ClassifiedBySegment
		return change, demoted
	}
	return change, unchanged
}

// LoadOverrides refreshes the reconciler's override table from the store.
func (s *ClassificationService) LoadOverrides(ctx context.Context) error {
	overrides, err := s.Store.ListOverrides(ctx)
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}
	s.Reconciler.SetOverrides(overrides)
	return nil
}

// SetOverride stores a manual classification and applies it to the stored
// instrument, if present.
func (s *ClassificationService) SetOverride(ctx context.Context, o models.InstrumentOverride) (*models.InstrumentOverride, error) {
	o.StockCode = strings.TrimSpace(o.StockCode)
	o.MarketType = strings.ToUpper(strings.TrimSpace(o.MarketType))
	o.AssetType = strings.ToUpper(strings.TrimSpace(o.AssetType))
	if o.AssetType == "" {
		o.AssetType = models.AssetStock
		if o.MarketType == models.MarketETF {
			o.AssetType = models.AssetETF
		}
	}
	if o.StockCode == "" {
		return nil, &pipeline.ConfigurationError{Key: "stock_code", Reason: "is required"}
	}
	if !models.ValidMarketType(o.MarketType) {
		return nil, &pipeline.ConfigurationError{Key: "market_type", Reason: fmt.Sprintf("%q is not a known market type", o.MarketType)}
	}
	if o.AssetType != models.AssetStock && o.AssetType != models.AssetETF {
		return nil, &pipeline.ConfigurationError{Key: "asset_type", Reason: fmt.Sprintf("%q must be STOCK or ETF", o.AssetType)}
	}

	if err := s.Store.PutOverride(ctx, o); err != nil {
		return nil, err
	}
	if err := s.Store.SetClassification(ctx, o.StockCode, o.MarketType, o.AssetType, models.ClassifiedByOverride); err != nil {
		return nil, err
	}
	if err := s.LoadOverrides(ctx); err != nil {
		return nil, err
	}
	if _, err := clearStatsCache(ctx, s.Redis); err != nil {
		logger.Warn("failed to clear stats cache: %v", err)
	}
	return &o, nil
}

// ClearOverride removes a manual classification and re-derives the stored
// row's classification from the heuristic.
func (s *ClassificationService) ClearOverride(ctx context.Context, code string) (*models.Instrument, error) {
	if err := s.Store.DeleteOverride(ctx, code); err != nil {
		return nil, err
	}
	if err := s.LoadOverrides(ctx); err != nil {
		return nil, err
	}

	row, err := s.Store.GetInstrument(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res := s.Reconciler.Decide(classify.Input{
		Code:     row.StockCode,
		Name:     row.StockName,
		Segment:  row.ExchangeSegment,
		FundHint: row.ListedAsFund(),
	})
	if err := s.Store.SetClassification(ctx, code, res.MarketType, res.AssetType, res.ClassifiedBy); err != nil {
		return nil, err
	}
	row.MarketType, row.AssetType, row.ClassifiedBy = res.MarketType, res.AssetType, res.ClassifiedBy

	if _, err := clearStatsCache(ctx, s.Redis); err != nil {
		logger.Warn("failed to clear stats cache: %v", err)
	}
	return row, nil
}
