package pipeline

import (
	"context"

	"github.com/stockdata-project/collector/internal/models"
)

// Record is one provider row normalised into the common shape. Price is nil
// when the source only reports master data, or when the row had no usable
// close price.
type Record struct {
	Instrument models.Instrument
	Price      *models.DailyPrice

	// Segment is the provider's raw market category (e.g. "KOSPI").
	Segment string
	// FundHint is set when the endpoint itself only lists fund products.
	FundHint bool
}

// InstrumentMode controls how a batch's instrument rows are written.
type InstrumentMode int

const (
	// InstrumentUpsert inserts or overwrites Batch.InstrumentColumns.
	InstrumentUpsert InstrumentMode = iota
	// InstrumentInsertOnly inserts missing rows and leaves existing ones alone.
	InstrumentInsertOnly
	// InstrumentSkip writes no instrument rows.
	InstrumentSkip
)

// Batch is everything a source returned for one unit.
type Batch struct {
	Records    []Record
	TotalCount int

	InstrumentMode    InstrumentMode
	InstrumentColumns []string
}

// Source is the Source Adapter contract.
type Source interface {
	Name() string
	// Fetch returns all records for u. Zero results must be reported as a
	// *NoDataError; transport and payload problems as *TransientFetchError.
	Fetch(ctx context.Context, u Unit) (*Batch, error)
}

// Classifier is the Reconciler contract. It sets market type, asset type and
// classification source on the record's instrument.
type Classifier interface {
	Classify(r *Record)
}

// Writer is the Upsert Writer contract. Both methods return rows affected and
// a *PersistenceError on failure.
type Writer interface {
	UpsertInstruments(ctx context.Context, rows []models.Instrument, columns []string) (int64, error)
	InsertInstrumentsIfAbsent(ctx context.Context, rows []models.Instrument) (int64, error)
	UpsertDailyPrices(ctx context.Context, rows []models.DailyPrice) (int64, error)
}
