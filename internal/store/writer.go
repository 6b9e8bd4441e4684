package store

import (
	"context"

	"github.com/stockdata-project/collector/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Instrument column sets owned by each source.
var (
	StockColumns = []string{
		"stock_name", "market_type", "asset_type", "exchange_segment", "classified_by",
		"isin_code", "listed_shares", "market_cap",
	}
	ETFColumns = append(append([]string{}, StockColumns...),
		"nav", "net_asset_total", "base_index_name", "base_index_close",
	)
	ValuationColumns = []string{"per", "pbr", "eps", "bps", "last_report_date"}
)

// nullablePriceColumns keep their stored value when a source reports null,
// so a source without change figures never erases another source's.
var nullablePriceColumns = []string{"vs", "change_rate", "trading_value"}

// nullableInstrumentColumns are master facts a provider sometimes omits.
// Valuation columns are not listed: a null PER after a loss is a real value.
var nullableInstrumentColumns = map[string]bool{
	"listed_shares": true, "market_cap": true,
	"nav": true, "net_asset_total": true, "base_index_close": true,
}

// keepOnNull assigns excluded.col unless it is null, in which case the
// stored value stays.
func keepOnNull(table, col string) clause.Assignment {
	return clause.Assignment{
		Column: clause.Column{Name: col},
		Value:  gorm.Expr("COALESCE(excluded." + col + ", " + table + "." + col + ")"),
	}
}

// UpsertInstruments inserts rows or overwrites the given columns on conflict
// with stock_code. With no columns, existing rows are left untouched.
func (s *Store) UpsertInstruments(ctx context.Context, rows []models.Instrument, columns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "stock_code"}}}
	if len(columns) == 0 {
		onConflict.DoNothing = true
	} else {
		table := models.Instrument{}.TableName()
		set := clause.AssignmentColumns([]string{"updated_at"})
		for _, col := range columns {
			if nullableInstrumentColumns[col] {
				set = append(set, keepOnNull(table, col))
				continue
			}
			set = append(set, clause.AssignmentColumns([]string{col})...)
		}
		onConflict.DoUpdates = set
	}

	return s.withRetry(ctx, models.Instrument{}.TableName(), func(tx *gorm.DB) (int64, error) {
		res := tx.Clauses(onConflict).CreateInBatches(&rows, s.BatchSize)
		return res.RowsAffected, res.Error
	})
}

// InsertInstrumentsIfAbsent inserts rows whose stock_code is not stored yet.
func (s *Store) InsertInstrumentsIfAbsent(ctx context.Context, rows []models.Instrument) (int64, error) {
	return s.UpsertInstruments(ctx, rows, nil)
}

// UpsertDailyPrices inserts or overwrites prices keyed by (stock_code, trade_date).
func (s *Store) UpsertDailyPrices(ctx context.Context, rows []models.DailyPrice) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for i := range rows {
		rows[i].TradeDate = models.TradeDay(rows[i].TradeDate)
	}

	set := clause.AssignmentColumns([]string{
		"open_price", "high_price", "low_price", "close_price", "volume", "updated_at",
	})
	for _, col := range nullablePriceColumns {
		set = append(set, keepOnNull(models.DailyPrice{}.TableName(), col))
	}
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "stock_code"}, {Name: "trade_date"}},
		DoUpdates: set,
	}

	return s.withRetry(ctx, models.DailyPrice{}.TableName(), func(tx *gorm.DB) (int64, error) {
		// ids assigned by a rolled back attempt must not leak into the next one
		for i := range rows {
			rows[i].ID = 0
		}
		res := tx.Clauses(onConflict).CreateInBatches(&rows, s.BatchSize)
		return res.RowsAffected, res.Error
	})
}
