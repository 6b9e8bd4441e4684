package store

import (
	"context"
	"errors"
	"time"

	"github.com/stockdata-project/collector/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by single-row lookups.
var ErrNotFound = errors.New("not found")

// InstrumentFilter narrows ListInstruments. Zero fields match everything.
type InstrumentFilter struct {
	Codes        []string
	MarketTypes  []string
	ClassifiedBy []string
}

// ListInstruments returns stored instruments ordered by code.
func (s *Store) ListInstruments(ctx context.Context, f InstrumentFilter) ([]models.Instrument, error) {
	q := s.DB.WithContext(ctx).Model(&models.Instrument{})
	if len(f.Codes) > 0 {
		q = q.Where("stock_code IN ?", f.Codes)
	}
	if len(f.MarketTypes) > 0 {
		q = q.Where("market_type IN ?", f.MarketTypes)
	}
	if len(f.ClassifiedBy) > 0 {
		q = q.Where("classified_by IN ? OR classified_by IS NULL OR classified_by = ''", f.ClassifiedBy)
	}

	var rows []models.Instrument
	if err := q.Order("stock_code").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetInstrument returns one instrument or ErrNotFound.
func (s *Store) GetInstrument(ctx context.Context, code string) (*models.Instrument, error) {
	var inst models.Instrument
	err := s.DB.WithContext(ctx).Where("stock_code = ?", code).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// SetClassification rewrites the classification columns of one instrument.
func (s *Store) SetClassification(ctx context.Context, code, marketType, assetType, by string) error {
	_, err := s.withRetry(ctx, models.Instrument{}.TableName(), func(tx *gorm.DB) (int64, error) {
		res := tx.Model(&models.Instrument{}).Where("stock_code = ?", code).Updates(map[string]interface{}{
			"market_type":   marketType,
			"asset_type":    assetType,
			"classified_by": by,
		})
		return res.RowsAffected, res.Error
	})
	return err
}

// ListOverrides returns every manual classification.
func (s *Store) ListOverrides(ctx context.Context) ([]models.InstrumentOverride, error) {
	var rows []models.InstrumentOverride
	if err := s.DB.WithContext(ctx).Order("stock_code").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// PutOverride creates or replaces the override for o.StockCode.
func (s *Store) PutOverride(ctx context.Context, o models.InstrumentOverride) error {
	_, err := s.withRetry(ctx, models.InstrumentOverride{}.TableName(), func(tx *gorm.DB) (int64, error) {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stock_code"}},
			DoUpdates: clause.AssignmentColumns([]string{"market_type", "asset_type", "note", "updated_at"}),
		}).Create(&o)
		return res.RowsAffected, res.Error
	})
	return err
}

// DeleteOverride removes the override for code. Missing overrides are ErrNotFound.
func (s *Store) DeleteOverride(ctx context.Context, code string) error {
	res := s.DB.WithContext(ctx).Where("stock_code = ?", code).Delete(&models.InstrumentOverride{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestPrice returns the most recent stored price for code.
func (s *Store) LatestPrice(ctx context.Context, code string) (*models.DailyPrice, error) {
	var p models.DailyPrice
	err := s.DB.WithContext(ctx).Where("stock_code = ?", code).Order("trade_date DESC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarketCount is the number of instruments per market type.
type MarketCount struct {
	MarketType string `json:"market_type"`
	Count      int64  `json:"count"`
}

// MarketCounts groups instruments by market type.
func (s *Store) MarketCounts(ctx context.Context) ([]MarketCount, error) {
	var rows []MarketCount
	err := s.DB.WithContext(ctx).Model(&models.Instrument{}).
		Select("market_type, COUNT(*) AS count").
		Group("market_type").
		Order("market_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DataRange describes the stored price history.
type DataRange struct {
	From        *time.Time `json:"from"`
	To          *time.Time `json:"to"`
	TradingDays int64      `json:"trading_days"`
	PriceRows   int64      `json:"price_rows"`
	Instruments int64      `json:"instruments"`
}

// PriceDataRange returns the earliest and latest trade dates and row counts.
func (s *Store) PriceDataRange(ctx context.Context) (*DataRange, error) {
	db := s.DB.WithContext(ctx)
	out := &DataRange{}

	if err := db.Model(&models.DailyPrice{}).Count(&out.PriceRows).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Instrument{}).Count(&out.Instruments).Error; err != nil {
		return nil, err
	}
	if out.PriceRows == 0 {
		return out, nil
	}
	if err := db.Model(&models.DailyPrice{}).Distinct("trade_date").Count(&out.TradingDays).Error; err != nil {
		return nil, err
	}

	dates, err := s.TradeDates(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	if len(dates) > 0 {
		from, to := dates[0], dates[len(dates)-1]
		out.From, out.To = &from, &to
	}
	return out, nil
}

// TradeDates lists the distinct trade dates on or after since, ascending.
func (s *Store) TradeDates(ctx context.Context, since time.Time) ([]time.Time, error) {
	q := s.DB.WithContext(ctx).Model(&models.DailyPrice{})
	if !since.IsZero() {
		q = q.Where("trade_date >= ?", models.TradeDay(since))
	}
	var dates []time.Time
	if err := q.Distinct().Order("trade_date").Pluck("trade_date", &dates).Error; err != nil {
		return nil, err
	}
	for i := range dates {
		dates[i] = models.TradeDay(dates[i])
	}
	return dates, nil
}

// RecordRun stores a run summary.
func (s *Store) RecordRun(ctx context.Context, run *models.IngestRun) error {
	_, err := s.withRetry(ctx, models.IngestRun{}.TableName(), func(tx *gorm.DB) (int64, error) {
		res := tx.Create(run)
		return res.RowsAffected, res.Error
	})
	return err
}

// LastRun returns the most recent run for source.
func (s *Store) LastRun(ctx context.Context, source string) (*models.IngestRun, error) {
	var run models.IngestRun
	err := s.DB.WithContext(ctx).Where("source = ?", source).Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
