package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stockdata-project/collector/internal/classify"
	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/db"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/services"
	"github.com/stockdata-project/collector/internal/store"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report changes without writing them")
	universePath := flag.String("universe", "", "universe file for keyword adjustments, default UNIVERSE_PATH")
	flag.Parse()

	os.Exit(run(*dryRun, *universePath))
}

func run(dryRun bool, universePath string) int {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config: %v", err)
		return 1
	}
	if universePath == "" {
		universePath = cfg.Ingest.UniversePath
	}

	keywords := classify.DefaultFundKeywords
	if u, err := config.LoadUniverse(universePath); err == nil {
		keywords = classify.AdjustKeywords(keywords, u.Keywords.Add, u.Keywords.Remove)
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Error("%v", err)
		return 1
	}

	pgDB, err := db.Open(cfg)
	if err != nil {
		logger.Error("failed to connect to database: %v", err)
		return 2
	}
	defer db.Close(pgDB)

	redisClient, closeRedis, err := db.ConnectRedisOrLocal(cfg)
	if err != nil {
		logger.Error("failed to connect to redis: %v", err)
		return 2
	}
	defer closeRedis()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := services.NewClassificationService(store.FromConfig(pgDB, cfg), redisClient, classify.NewReconciler(keywords, nil))
	report, err := svc.Reclassify(ctx, dryRun)
	if err != nil {
		logger.Error("reclassification failed: %v", err)
		return 2
	}

	for _, group := range []struct {
		title   string
		changes []services.Change
	}{
		{"overridden", report.Overridden},
		{"promoted to ETF", report.Promoted},
		{"demoted from ETF", report.Demoted},
	} {
		fmt.Printf("%s: %d\n", group.title, len(group.changes))
		for _, c := range group.changes {
			fmt.Printf("  %s %-30s %s -> %s (%s)\n", c.StockCode, c.StockName, c.From, c.To, c.By)
		}
	}
	if dryRun {
		fmt.Println("dry run: nothing was written")
	}
	return 0
}
