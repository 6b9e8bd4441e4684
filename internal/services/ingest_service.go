/**
 * @description
 * Service layer for batch ingestion.
 * Builds a provider source from configuration, runs the batch driver under a
 * per-source lock, records the run and caches its summary in Redis.
 *
 * @dependencies
 * - internal/pipeline
 * - internal/providers/{datagokr,dart,kis}
 * - internal/store
 * - github.com/redis/go-redis/v9
 */

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stockdata-project/collector/internal/classify"
	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/models"
	"github.com/stockdata-project/collector/internal/pipeline"
	"github.com/stockdata-project/collector/internal/providers/dart"
	"github.com/stockdata-project/collector/internal/providers/datagokr"
	"github.com/stockdata-project/collector/internal/providers/kis"
	"github.com/stockdata-project/collector/internal/store"
)

// Source kinds accepted by BuildSource
const (
	SourceStocks    = "stocks"
	SourceETF       = "etf"
	SourceKIS       = "kis"
	SourceValuation = "valuation"
)

const (
	CacheKeyLastRunPrefix = "ingest:runs:last:"

	defaultLockAttempts = 5
)

type IngestService struct {
	Store      *store.Store
	Redis      *redis.Client
	Config     *config.Config
	Universe   *config.Universe
	Reconciler *classify.Reconciler

	// Observers receive every unit event besides the log.
	Observers    []pipeline.Observer
	LockAttempts int
	// Sleep overrides the driver's courtesy delay; tests set a no-op.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewIngestService(st *store.Store, rdb *redis.Client, cfg *config.Config, universe *config.Universe) *IngestService {
	keywords := classify.DefaultFundKeywords
	if universe != nil {
		keywords = classify.AdjustKeywords(keywords, universe.Keywords.Add, universe.Keywords.Remove)
	}
	return &IngestService{
		Store:        st,
		Redis:        rdb,
		Config:       cfg,
		Universe:     universe,
		Reconciler:   classify.NewReconciler(keywords, nil),
		LockAttempts: defaultLockAttempts,
	}
}

// BuildSource returns the adapter for kind after checking its credentials.
func (s *IngestService) BuildSource(kind string) (pipeline.Source, error) {
	cfg := s.Config
	switch kind {
	case SourceStocks, SourceETF:
		if err := cfg.Require(config.RequireDataGoKr); err != nil {
			return nil, err
		}
		client := datagokr.NewClient(cfg)
		if kind == SourceETF {
			return datagokr.NewETFSource(client, cfg.Ingest.PageSize, cfg.Ingest.PageDelay), nil
		}
		return datagokr.NewStockSource(client, cfg.Ingest.PageSize, cfg.Ingest.PageDelay), nil
	case SourceKIS:
		if err := cfg.Require(config.RequireKIS); err != nil {
			return nil, err
		}
		return kis.NewDailySource(kis.NewClient(cfg), s.Universe), nil
	case SourceValuation:
		if err := cfg.Require(config.RequireDart); err != nil {
			return nil, err
		}
		var corpCodes map[string]string
		if s.Universe != nil {
			corpCodes = s.Universe.CorpCodes()
		}
		return dart.NewValuationSource(dart.NewClient(cfg), s.Store, corpCodes), nil
	}
	return nil, &pipeline.ConfigurationError{
		Key:    "source",
		Reason: fmt.Sprintf("unknown source %q (want %s, %s, %s or %s)", kind, SourceStocks, SourceETF, SourceKIS, SourceValuation),
	}
}

// UnitParams selects the units of a run. Date-driven sources use From/To, or
// the Days weekdays-inclusive window ending at Now when From is zero.
// Ticker-driven sources use Tickers, or the universe when empty.
type UnitParams struct {
	From    time.Time
	To      time.Time
	Days    int
	Tickers []string
	Now     time.Time
}

// Units expands params into the unit list for kind.
func (s *IngestService) Units(kind string, p UnitParams) ([]pipeline.Unit, error) {
	switch kind {
	case SourceStocks, SourceETF:
		to := p.To
		if to.IsZero() {
			to = p.Now
			if to.IsZero() {
				to = time.Now()
			}
		}
		from := p.From
		if from.IsZero() {
			days := p.Days
			if days < 1 {
				days = 1
			}
			from = to.AddDate(0, 0, -(days - 1))
		}
		if pipeline.DateUnit(from).Date.After(pipeline.DateUnit(to).Date) {
			return nil, &pipeline.ConfigurationError{Key: "from", Reason: "is after to"}
		}
		return pipeline.DateUnits(from, to, true), nil

	case SourceKIS, SourceValuation:
		codes := p.Tickers
		if len(codes) == 0 && s.Universe != nil {
			codes = s.Universe.Codes()
		}
		units := pipeline.TickerUnits(codes)
		if len(units) == 0 {
			return nil, &pipeline.ConfigurationError{Key: "tickers", Reason: "none given and the universe file lists none"}
		}
		return units, nil
	}
	return nil, &pipeline.ConfigurationError{Key: "source", Reason: fmt.Sprintf("unknown source %q", kind)}
}

// Run drives src over units. Unit failures end up in the summary. An error is
// returned when the run could not start, or alongside the recorded summary
// when a configuration error aborted it part way.
func (s *IngestService) Run(ctx context.Context, src pipeline.Source, units []pipeline.Unit) (*pipeline.Summary, error) {
	attempts := s.LockAttempts
	if attempts < 1 {
		attempts = 1
	}
	release, err := s.Store.AcquireRunLock(ctx, "ingest:"+src.Name(), attempts)
	if err != nil {
		return nil, err
	}
	defer release()

	overrides, err := s.Store.ListOverrides(ctx)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	s.Reconciler.SetOverrides(overrides)

	log := logger.With(logger.Fields{"source": src.Name()})
	log.Info("starting run over %d unit(s)", len(units))

	driver := pipeline.NewDriver(src, s.Reconciler, s.Store, s.Config.Ingest.UnitDelay)
	driver.Observer = observers(append([]pipeline.Observer{pipeline.ObserverFunc(logUnit)}, s.Observers...))
	if s.Sleep != nil {
		driver.Sleep = s.Sleep
	}

	sum := driver.Run(ctx, units)
	log.With(logger.Fields{"run_id": sum.RunID.String()}).Info(
		"run %s: attempted=%d done=%d no_data=%d failed=%d instruments=%d prices=%d",
		sum.Status(), sum.Attempted, sum.Done, sum.NoData, sum.Failed, sum.InstrumentRows, sum.PriceRows,
	)

	// the run happened even if ctx was cancelled mid-way; record it regardless
	bg := context.WithoutCancel(ctx)
	run := RunRecord(sum)
	if err := s.Store.RecordRun(bg, run); err != nil {
		log.Error(err, "failed to record run")
	}
	s.cacheRun(bg, run)
	if sum.InstrumentRows+sum.PriceRows > 0 {
		if _, err := clearStatsCache(bg, s.Redis); err != nil {
			log.Warn("failed to clear stats cache: %v", err)
		}
	}

	if sum.Aborted != nil {
		return &sum, sum.Aborted
	}
	return &sum, nil
}

// LastRun returns the most recent run for source, preferring the cache.
func (s *IngestService) LastRun(ctx context.Context, source string) (*models.IngestRun, error) {
	if s.Redis != nil {
		val, err := s.Redis.Get(ctx, CacheKeyLastRunPrefix+source).Result()
		if err == nil {
			var run models.IngestRun
			if err := json.Unmarshal([]byte(val), &run); err == nil {
				return &run, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			logger.Warn("last run cache read failed: %v", err)
		}
	}

	run, err := s.Store.LastRun(ctx, source)
	if err != nil {
		return nil, err
	}
	s.cacheRun(ctx, run)
	return run, nil
}

func (s *IngestService) cacheRun(ctx context.Context, run *models.IngestRun) {
	if s.Redis == nil {
		return
	}
	data, err := json.Marshal(run)
	if err != nil {
		return
	}
	if err := s.Redis.Set(ctx, CacheKeyLastRunPrefix+run.Source, data, 0).Err(); err != nil {
		logger.Warn("failed to cache run summary: %v", err)
	}
}

// RunRecord converts a driver summary into its stored form.
func RunRecord(sum pipeline.Summary) *models.IngestRun {
	failed := sum.FailedUnits()
	names := make([]string, 0, len(failed))
	for _, u := range failed {
		names = append(names, u.String())
	}
	finished := sum.FinishedAt
	return &models.IngestRun{
		ID:             sum.RunID,
		Source:         sum.Source,
		Status:         sum.Status(),
		Attempted:      sum.Attempted,
		Done:           sum.Done,
		NoData:         sum.NoData,
		Failed:         sum.Failed,
		InstrumentRows: sum.InstrumentRows,
		PriceRows:      sum.PriceRows,
		FailedUnits:    strings.Join(names, ","),
		StartedAt:      sum.StartedAt,
		FinishedAt:     &finished,
	}
}

type observers []pipeline.Observer

func (o observers) OnUnit(ev pipeline.UnitEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.OnUnit(ev)
		}
	}
}

// logUnit logs terminal transitions; intermediate ones only at debug level.
func logUnit(ev pipeline.UnitEvent) {
	log := logger.With(logger.Fields{
		"source": ev.Source,
		"unit":   ev.Unit,
		"state":  string(ev.State),
		"run_id": ev.RunID.String(),
	})
	progress := fmt.Sprintf("[%d/%d]", ev.Index, ev.Total)

	switch ev.State {
	case pipeline.StateDone:
		log.Info("%s %s written: %d instrument(s), %d price(s)", progress, ev.Unit, ev.InstrumentRows, ev.PriceRows)
	case pipeline.StateNoData:
		log.Info("%s %s has no data (market holiday or nothing listed)", progress, ev.Unit)
	case pipeline.StateFailed:
		log.Error(errors.New(ev.Error), "%s %s failed", progress, ev.Unit)
	default:
		log.Debug("%s %s %s", progress, ev.Unit, ev.State)
	}
}
