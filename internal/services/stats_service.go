package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/pipeline"
	"github.com/stockdata-project/collector/internal/store"
)

const (
	CacheKeyMarketCounts = "stats:markets"
	CacheKeyDataRange    = "stats:data-range"
	CacheKeyMissingData  = "stats:missing:%d"
	CacheTTL             = 5 * time.Minute

	statsCachePattern = "stats:*"
	maxMissingDays    = 366
)

// StatsService answers the admin data-health questions. Results are cached
// in Redis for CacheTTL; a run that writes rows clears the cache.
type StatsService struct {
	Store *store.Store
	Redis *redis.Client
	Now   func() time.Time
}

func NewStatsService(st *store.Store, rdb *redis.Client) *StatsService {
	return &StatsService{Store: st, Redis: rdb, Now: time.Now}
}

// MissingReport lists weekdays in a window with no stored prices. Exchange
// holidays show up here too; the report does not know the calendar.
type MissingReport struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Weekdays  int       `json:"weekdays"`
	Collected int       `json:"collected"`
	Missing   []string  `json:"missing"`
}

// MarketCounts returns instrument counts per market type
func (s *StatsService) MarketCounts(ctx context.Context) ([]store.MarketCount, error) {
	var counts []store.MarketCount
	if s.cached(ctx, CacheKeyMarketCounts, &counts) {
		return counts, nil
	}

	counts, err := s.Store.MarketCounts(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, CacheKeyMarketCounts, counts)
	return counts, nil
}

// DataRange returns the stored price history range
func (s *StatsService) DataRange(ctx context.Context) (*store.DataRange, error) {
	var dr store.DataRange
	if s.cached(ctx, CacheKeyDataRange, &dr) {
		return &dr, nil
	}

	out, err := s.Store.PriceDataRange(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, CacheKeyDataRange, out)
	return out, nil
}

// MissingData checks the last days calendar days, today included.
func (s *StatsService) MissingData(ctx context.Context, days int) (*MissingReport, error) {
	if days < 1 || days > maxMissingDays {
		return nil, &pipeline.ConfigurationError{Key: "days", Reason: fmt.Sprintf("must be between 1 and %d", maxMissingDays)}
	}
	key := fmt.Sprintf(CacheKeyMissingData, days)
	var report MissingReport
	if s.cached(ctx, key, &report) {
		return &report, nil
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	to := pipeline.DateUnit(now()).Date
	from := to.AddDate(0, 0, -(days - 1))

	dates, err := s.Store.TradeDates(ctx, from)
	if err != nil {
		return nil, err
	}
	have := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		have[d.Format(time.DateOnly)] = struct{}{}
	}

	out := &MissingReport{From: from, To: to, Missing: []string{}}
	for _, u := range pipeline.DateUnits(from, to, true) {
		out.Weekdays++
		if _, ok := have[u.String()]; ok {
			out.Collected++
			continue
		}
		out.Missing = append(out.Missing, u.String())
	}

	s.cache(ctx, key, out)
	return out, nil
}

// ClearCache drops every cached stats entry and returns how many were removed.
func (s *StatsService) ClearCache(ctx context.Context) (int64, error) {
	return clearStatsCache(ctx, s.Redis)
}

func (s *StatsService) cached(ctx context.Context, key string, dst interface{}) bool {
	if s.Redis == nil {
		return false
	}
	val, err := s.Redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("stats cache read %s failed: %v", key, err)
		}
		return false
	}
	// a corrupt entry falls through to the database
	return json.Unmarshal([]byte(val), dst) == nil
}

func (s *StatsService) cache(ctx context.Context, key string, v interface{}) {
	if s.Redis == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.Redis.Set(ctx, key, data, CacheTTL).Err(); err != nil {
		logger.Warn("failed to cache %s: %v", key, err)
	}
}

func clearStatsCache(ctx context.Context, rdb *redis.Client) (int64, error) {
	if rdb == nil {
		return 0, nil
	}
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := rdb.Scan(ctx, cursor, statsCachePattern, 100).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
