/**
 * @description
 * Daily price fact model.
 * Maps to the 'daily_prices' table; at most one row per (stock_code, trade_date).
 *
 * @dependencies
 * - gorm.io/gorm
 */

package models

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// DailyPrice is one instrument's trading summary for one calendar date
type DailyPrice struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	StockCode  string    `gorm:"column:stock_code;size:12;not null;uniqueIndex:uq_daily_prices_code_date,priority:1" json:"stock_code"`
	TradeDate  time.Time `gorm:"column:trade_date;type:date;not null;uniqueIndex:uq_daily_prices_code_date,priority:2;index" json:"trade_date"`
	OpenPrice  int64     `gorm:"column:open_price" json:"open_price"`
	HighPrice  int64     `gorm:"column:high_price" json:"high_price"`
	LowPrice   int64     `gorm:"column:low_price" json:"low_price"`
	ClosePrice int64     `gorm:"column:close_price" json:"close_price"`
	Volume     int64     `gorm:"column:volume" json:"volume"`

	Vs           null.Int            `gorm:"column:vs" json:"vs"`
	ChangeRate   decimal.NullDecimal `gorm:"column:change_rate;type:decimal(10,2)" json:"change_rate"`
	TradingValue null.Int            `gorm:"column:trading_value" json:"trading_value"`

	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by DailyPrice to `daily_prices`
func (DailyPrice) TableName() string {
	return "daily_prices"
}

// TradeDay truncates t to a UTC calendar date, the form stored in trade_date.
func TradeDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
