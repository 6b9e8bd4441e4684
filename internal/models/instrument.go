/**
 * @description
 * Instrument database model.
 * Maps to the 'stocks' table in PostgreSQL, keyed by the 6-character ticker code.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/shopspring/decimal: exact NAV, index and ratio columns
 * - github.com/guregu/null/v6: optional integer facts
 */

package models

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// Market types stored in stocks.market_type
const (
	MarketKOSPI  = "KOSPI"
	MarketKOSDAQ = "KOSDAQ"
	MarketKONEX  = "KONEX"
	MarketETF    = "ETF"
	MarketETC    = "ETC"
)

// Asset types stored in stocks.asset_type
const (
	AssetStock = "STOCK"
	AssetETF   = "ETF"
)

// Classification sources stored in stocks.classified_by
const (
	ClassifiedByKeyword  = "keyword"
	ClassifiedByProvider = "provider"
	ClassifiedByOverride = "override"
	ClassifiedBySegment  = "segment"
)

// Instrument is one tradable security (ordinary equity or fund-like product).
// Rows are created on first sighting and never deleted by the pipeline.
type Instrument struct {
	StockCode       string `gorm:"primaryKey;column:stock_code;size:12" json:"stock_code"`
	StockName       string `gorm:"column:stock_name;size:200;index" json:"stock_name"`
	MarketType      string `gorm:"column:market_type;size:20;index" json:"market_type"`
	AssetType       string `gorm:"column:asset_type;size:20;default:STOCK" json:"asset_type"`
	ExchangeSegment string `gorm:"column:exchange_segment;size:20" json:"exchange_segment"`
	ClassifiedBy    string `gorm:"column:classified_by;size:20" json:"classified_by"`

	ISINCode       string              `gorm:"column:isin_code;size:20" json:"isin_code,omitempty"`
	ListedShares   null.Int            `gorm:"column:listed_shares" json:"listed_shares"`
	MarketCap      null.Int            `gorm:"column:market_cap" json:"market_cap"`
	NAV            decimal.NullDecimal `gorm:"column:nav;type:decimal(18,2)" json:"nav"`
	NetAssetTotal  null.Int            `gorm:"column:net_asset_total" json:"net_asset_total"`
	BaseIndexName  string              `gorm:"column:base_index_name;size:200" json:"base_index_name,omitempty"`
	BaseIndexClose decimal.NullDecimal `gorm:"column:base_index_close;type:decimal(18,2)" json:"base_index_close"`

	PER            decimal.NullDecimal `gorm:"column:per;type:decimal(10,2)" json:"per"`
	PBR            decimal.NullDecimal `gorm:"column:pbr;type:decimal(10,2)" json:"pbr"`
	EPS            null.Int            `gorm:"column:eps" json:"eps"`
	BPS            null.Int            `gorm:"column:bps" json:"bps"`
	LastReportDate string              `gorm:"column:last_report_date;size:40" json:"last_report_date,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by Instrument to `stocks`
func (Instrument) TableName() string {
	return "stocks"
}

// IsFund reports whether the row is classified as a fund-type product.
func (i Instrument) IsFund() bool {
	return i.MarketType == MarketETF || i.AssetType == AssetETF
}

// ListedAsFund reports whether the provider itself listed the row as a fund,
// either through a fund-only endpoint or an ETF exchange segment.
func (i Instrument) ListedAsFund() bool {
	return i.ExchangeSegment == MarketETF
}

// InstrumentOverride pins a manual classification for one ticker. The
// reconciler consults overrides before any heuristic.
type InstrumentOverride struct {
	StockCode  string    `gorm:"primaryKey;column:stock_code;size:12" json:"stock_code"`
	MarketType string    `gorm:"column:market_type;size:20;not null" json:"market_type"`
	AssetType  string    `gorm:"column:asset_type;size:20;not null" json:"asset_type"`
	Note       string    `gorm:"column:note;size:500" json:"note,omitempty"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by InstrumentOverride
func (InstrumentOverride) TableName() string {
	return "instrument_overrides"
}

// ValidMarketType reports whether s is one of the stored market types.
func ValidMarketType(s string) bool {
	switch s {
	case MarketKOSPI, MarketKOSDAQ, MarketKONEX, MarketETF, MarketETC:
		return true
	}
	return false
}
