/**
 * @description
 * One-shot batch collector.
 * Runs one provider source over a date window or a ticker list and writes
 * instruments and daily prices idempotently.
 *
 * @dependencies
 * - internal/services: IngestService
 * - internal/db: Postgres (or local sqlite) and Redis connections
 *
 * @notes
 * - Exit status is 0 even when some units failed; failed units are logged and
 *   recorded with the run so they can be re-run with -from/-to or -tickers.
 * - Configuration problems exit 1, connection failures 2, a concurrent run of
 *   the same source 3.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/db"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/pipeline"
	"github.com/stockdata-project/collector/internal/services"
	"github.com/stockdata-project/collector/internal/store"
)

const (
	exitConfig     = 1
	exitConnection = 2
	exitBusy       = 3
)

func main() {
	source := flag.String("source", services.SourceStocks, "stocks | etf | kis | valuation")
	from := flag.String("from", "", "first date (YYYYMMDD or YYYY-MM-DD); date sources only")
	to := flag.String("to", "", "last date, default today; date sources only")
	days := flag.Int("days", 30, "calendar days back from -to when -from is not given")
	tickers := flag.String("tickers", "", "comma separated ticker codes; default is the universe file")
	universePath := flag.String("universe", "", "universe file, default UNIVERSE_PATH")
	migrate := flag.Bool("migrate", false, "create or update tables before collecting")
	flag.Parse()

	os.Exit(run(*source, *from, *to, *days, *tickers, *universePath, *migrate))
}

func run(source, from, to string, days int, tickers, universePath string, migrate bool) int {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config: %v", err)
		return exitConfig
	}
	if universePath == "" {
		universePath = cfg.Ingest.UniversePath
	}

	universe, err := loadUniverse(universePath, source)
	if err != nil {
		logger.Error("%v", err)
		return exitConfig
	}

	params := services.UnitParams{Days: days, Now: time.Now()}
	if params.From, err = optionalDate("from", from); err != nil {
		logger.Error("%v", err)
		return exitConfig
	}
	if params.To, err = optionalDate("to", to); err != nil {
		logger.Error("%v", err)
		return exitConfig
	}
	if tickers != "" {
		params.Tickers = strings.Split(tickers, ",")
	}

	pgDB, err := db.Open(cfg)
	if err != nil {
		logger.Error("failed to connect to database: %v", err)
		return exitConnection
	}
	defer db.Close(pgDB)

	redisClient, closeRedis, err := db.ConnectRedisOrLocal(cfg)
	if err != nil {
		logger.Error("failed to connect to redis: %v", err)
		return exitConnection
	}
	defer closeRedis()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.FromConfig(pgDB, cfg)
	if migrate {
		if err := st.Migrate(ctx); err != nil {
			logger.Error("migration failed: %v", err)
			return exitConnection
		}
	}

	svc := services.NewIngestService(st, redisClient, cfg, universe)
	svc.Observers = append(svc.Observers, services.NewProgressPublisher(redisClient))

	src, err := svc.BuildSource(source)
	if err != nil {
		logger.Error("%v", err)
		return exitConfig
	}
	units, err := svc.Units(source, params)
	if err != nil {
		logger.Error("%v", err)
		return exitConfig
	}

	sum, err := svc.Run(ctx, src, units)
	if sum != nil {
		printSummary(sum)
	}
	var cfgErr *pipeline.ConfigurationError
	switch {
	case errors.Is(err, store.ErrLockBusy):
		logger.Error("another %s run is in progress", source)
		return exitBusy
	case errors.As(err, &cfgErr):
		logger.Error("run aborted: %v", err)
		return exitConfig
	case err != nil:
		logger.Error("run could not start: %v", err)
		return exitConnection
	}
	return 0
}

func loadUniverse(path, source string) (*config.Universe, error) {
	u, err := config.LoadUniverse(path)
	if err == nil {
		return u, nil
	}
	if errors.Is(err, os.ErrNotExist) && (source == services.SourceStocks || source == services.SourceETF) {
		// date sources only use the file for keyword adjustments
		return nil, nil
	}
	return nil, err
}

func optionalDate(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := pipeline.ParseDate(value)
	if err != nil {
		return time.Time{}, &pipeline.ConfigurationError{Key: "-" + name, Reason: err.Error()}
	}
	return t, nil
}

func printSummary(sum *pipeline.Summary) {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("run %s (%s): %s\n", sum.RunID, sum.Source, sum.Status())
	fmt.Printf("  attempted %d, done %d, no data %d, failed %d\n", sum.Attempted, sum.Done, sum.NoData, sum.Failed)
	fmt.Printf("  instruments %d, prices %d, took %s\n", sum.InstrumentRows, sum.PriceRows, sum.FinishedAt.Sub(sum.StartedAt).Round(time.Second))
	if failed := sum.FailedUnits(); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, u := range failed {
			names = append(names, u.String())
		}
		fmt.Printf("  failed units: %s\n", strings.Join(names, ", "))
	}
	fmt.Println(strings.Repeat("=", 60))
}
