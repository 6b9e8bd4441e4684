package models

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses
const (
	RunCompleted = "completed" // every unit attempted, none failed
	RunPartial   = "partial"   // every unit attempted, some failed
	RunCancelled = "cancelled"
	RunAborted   = "aborted" // stopped by a configuration error
)

// IngestRun records the outcome of one batch driver invocation
type IngestRun struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Source         string     `gorm:"column:source;size:40;index" json:"source"`
	Status         string     `gorm:"column:status;size:20" json:"status"`
	Attempted      int        `gorm:"column:attempted" json:"attempted"`
	Done           int        `gorm:"column:done" json:"done"`
	NoData         int        `gorm:"column:no_data" json:"no_data"`
	Failed         int        `gorm:"column:failed" json:"failed"`
	InstrumentRows int64      `gorm:"column:instrument_rows" json:"instrument_rows"`
	PriceRows      int64      `gorm:"column:price_rows" json:"price_rows"`
	FailedUnits    string     `gorm:"column:failed_units;type:text" json:"failed_units,omitempty"`
	StartedAt      time.Time  `gorm:"column:started_at" json:"started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at" json:"finished_at"`
}

// TableName overrides the table name used by IngestRun
func (IngestRun) TableName() string {
	return "ingest_runs"
}
