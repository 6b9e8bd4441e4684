package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stockdata-project/collector/internal/models"
)

// State is a unit's position in PENDING → FETCHING → (NO_DATA | FETCHED) →
// WRITING → (DONE | FAILED). A fetch error moves FETCHING straight to FAILED.
type State string

const (
	StatePending  State = "PENDING"
	StateFetching State = "FETCHING"
	StateNoData   State = "NO_DATA"
	StateFetched  State = "FETCHED"
	StateWriting  State = "WRITING"
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateNoData || s == StateDone || s == StateFailed
}

// UnitEvent is emitted on every state transition.
type UnitEvent struct {
	RunID          uuid.UUID `json:"run_id"`
	Source         string    `json:"source"`
	Unit           string    `json:"unit"`
	Index          int       `json:"index"`
	Total          int       `json:"total"`
	State          State     `json:"state"`
	Error          string    `json:"error,omitempty"`
	InstrumentRows int64     `json:"instrument_rows,omitempty"`
	PriceRows      int64     `json:"price_rows,omitempty"`
	At             time.Time `json:"at"`
}

// Observer receives unit events. Implementations must not block for long.
type Observer interface {
	OnUnit(ev UnitEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(UnitEvent)

func (f ObserverFunc) OnUnit(ev UnitEvent) { f(ev) }

// UnitResult is the terminal outcome of one unit.
type UnitResult struct {
	Unit           Unit
	State          State
	Err            error
	InstrumentRows int64
	PriceRows      int64
}

// Summary accumulates a run's counters. Attempted == Done + NoData + Failed.
type Summary struct {
	RunID          uuid.UUID
	Source         string
	Attempted      int
	Done           int
	NoData         int
	Failed         int
	InstrumentRows int64
	PriceRows      int64
	Cancelled      bool
	// Aborted is the error that stopped the run early, e.g. a rejected
	// service key. Units after it were not attempted.
	Aborted        error
	StartedAt      time.Time
	FinishedAt     time.Time
	Results        []UnitResult
}

// FailedUnits lists the units that ended FAILED, for an explicit re-run.
func (s Summary) FailedUnits() []Unit {
	var out []Unit
	for _, r := range s.Results {
		if r.State == StateFailed {
			out = append(out, r.Unit)
		}
	}
	return out
}

// Status maps the summary to an IngestRun status.
func (s Summary) Status() string {
	switch {
	case s.Aborted != nil:
		return models.RunAborted
	case s.Cancelled:
		return models.RunCancelled
	case s.Failed > 0:
		return models.RunPartial
	}
	return models.RunCompleted
}

// Driver is the Batch Driver: sequential fetch → classify → write per unit,
// with a fixed courtesy delay between units. A failing unit never stops the
// run unless PolicyFor says to abort.
type Driver struct {
	Source     Source
	Classifier Classifier
	Writer     Writer
	Delay      time.Duration
	Observer   Observer

	// Sleep waits between units; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now stamps events; replaced in tests.
	Now func() time.Time
}

// NewDriver wires a driver with the default sleeper and clock.
func NewDriver(src Source, cls Classifier, w Writer, delay time.Duration) *Driver {
	return &Driver{
		Source:     src,
		Classifier: cls,
		Writer:     w,
		Delay:      delay,
		Sleep:      SleepContext,
		Now:        time.Now,
	}
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run attempts every unit in order. Cancellation of ctx, or a unit error whose
// policy is ActionAbort, stops the run after the current unit; the remaining
// units are left unattempted.
func (d *Driver) Run(ctx context.Context, units []Unit) Summary {
	now := d.now
	sleep := d.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	sum := Summary{
		RunID:     uuid.New(),
		Source:    d.Source.Name(),
		StartedAt: now(),
		Results:   make([]UnitResult, 0, len(units)),
	}

	for i, u := range units {
		if ctx.Err() != nil {
			sum.Cancelled = true
			break
		}

		res := d.runUnit(ctx, sum.RunID, i, len(units), u)
		sum.Results = append(sum.Results, res)
		sum.Attempted++
		sum.InstrumentRows += res.InstrumentRows
		sum.PriceRows += res.PriceRows
		switch res.State {
		case StateDone:
			sum.Done++
		case StateNoData:
			sum.NoData++
		default:
			sum.Failed++
		}

		if res.State == StateFailed && PolicyFor(res.Err) == ActionAbort {
			sum.Aborted = res.Err
			break
		}

		if i < len(units)-1 {
			if err := sleep(ctx, d.Delay); err != nil {
				sum.Cancelled = true
				break
			}
		}
	}

	sum.FinishedAt = now()
	return sum
}

func (d *Driver) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Driver) runUnit(ctx context.Context, runID uuid.UUID, idx, total int, u Unit) UnitResult {
	res := UnitResult{Unit: u, State: StatePending}
	emit := func(st State, err error) {
		res.State = st
		res.Err = err
		if d.Observer == nil {
			return
		}
		ev := UnitEvent{
			RunID:          runID,
			Source:         d.Source.Name(),
			Unit:           u.String(),
			Index:          idx + 1,
			Total:          total,
			State:          st,
			InstrumentRows: res.InstrumentRows,
			PriceRows:      res.PriceRows,
			At:             d.now(),
		}
		if err != nil {
			ev.Error = err.Error()
		}
		d.Observer.OnUnit(ev)
	}

	emit(StatePending, nil)
	emit(StateFetching, nil)

	batch, err := d.Source.Fetch(ctx, u)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			emit(StateNoData, nil)
			return res
		}
		emit(StateFailed, err)
		return res
	}
	if batch == nil || len(batch.Records) == 0 {
		emit(StateNoData, nil)
		return res
	}
	emit(StateFetched, nil)

	instruments, prices := d.reconcile(batch)

	emit(StateWriting, nil)

	n, err := d.writeInstruments(ctx, batch, instruments)
	if err != nil {
		emit(StateFailed, err)
		return res
	}
	res.InstrumentRows = n

	if len(prices) > 0 {
		n, err := d.Writer.UpsertDailyPrices(ctx, prices)
		if err != nil {
			emit(StateFailed, err)
			return res
		}
		res.PriceRows = n
	}

	emit(StateDone, nil)
	return res
}

// reconcile classifies every record and deduplicates by natural key, keeping
// the last occurrence. A single upsert statement cannot touch the same key twice.
func (d *Driver) reconcile(b *Batch) ([]models.Instrument, []models.DailyPrice) {
	instIdx := make(map[string]int, len(b.Records))
	priceIdx := make(map[string]int, len(b.Records))
	instruments := make([]models.Instrument, 0, len(b.Records))
	prices := make([]models.DailyPrice, 0, len(b.Records))

	for i := range b.Records {
		r := &b.Records[i]
		if r.Instrument.StockCode == "" {
			continue
		}
		if d.Classifier != nil {
			d.Classifier.Classify(r)
		}

		code := r.Instrument.StockCode
		if j, ok := instIdx[code]; ok {
			instruments[j] = r.Instrument
		} else {
			instIdx[code] = len(instruments)
			instruments = append(instruments, r.Instrument)
		}

		if r.Price == nil {
			continue
		}
		p := *r.Price
		p.StockCode = code
		p.TradeDate = models.TradeDay(p.TradeDate)
		key := code + "|" + p.TradeDate.Format(time.DateOnly)
		if j, ok := priceIdx[key]; ok {
			prices[j] = p
		} else {
			priceIdx[key] = len(prices)
			prices = append(prices, p)
		}
	}
	return instruments, prices
}

func (d *Driver) writeInstruments(ctx context.Context, b *Batch, rows []models.Instrument) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	switch b.InstrumentMode {
	case InstrumentSkip:
		return 0, nil
	case InstrumentInsertOnly:
		return d.Writer.InsertInstrumentsIfAbsent(ctx, rows)
	default:
		return d.Writer.UpsertInstruments(ctx, rows, b.InstrumentColumns)
	}
}
