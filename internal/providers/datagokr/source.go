package datagokr

import (
	"context"
	"time"

	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/pipeline"
	"github.com/stockdata-project/collector/internal/store"
)

type pageFunc func(ctx context.Context, params GetPriceParams) (*Page, error)

// PriceSource walks every page of one endpoint for a date unit.
type PriceSource struct {
	name      string
	fetch     pageFunc
	fundHint  bool
	columns   []string
	PageSize  int
	PageDelay time.Duration
	Sleep     func(ctx context.Context, d time.Duration) error
}

// NewStockSource reads the stock endpoint (KOSPI, KOSDAQ, KONEX).
func NewStockSource(c *Client, pageSize int, pageDelay time.Duration) *PriceSource {
	return &PriceSource{
		name:      "stocks",
		fetch:     c.GetStockPrices,
		columns:   store.StockColumns,
		PageSize:  pageSize,
		PageDelay: pageDelay,
		Sleep:     pipeline.SleepContext,
	}
}

// NewETFSource reads the ETF endpoint. Every row it returns is a fund.
func NewETFSource(c *Client, pageSize int, pageDelay time.Duration) *PriceSource {
	return &PriceSource{
		name:      "etf",
		fetch:     c.GetETFPrices,
		fundHint:  true,
		columns:   store.ETFColumns,
		PageSize:  pageSize,
		PageDelay: pageDelay,
		Sleep:     pipeline.SleepContext,
	}
}

func (s *PriceSource) Name() string { return s.name }

// Fetch pages through u's base date until a short page or totalCount is reached.
func (s *PriceSource) Fetch(ctx context.Context, u pipeline.Unit) (*pipeline.Batch, error) {
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = pipeline.SleepContext
	}

	batch := &pipeline.Batch{InstrumentMode: pipeline.InstrumentUpsert, InstrumentColumns: s.columns}
	var seen, skipped int

	for pageNo := 1; ; pageNo++ {
		if pageNo > 1 {
			if err := sleep(ctx, s.PageDelay); err != nil {
				return nil, err
			}
		}

		page, err := s.fetch(ctx, GetPriceParams{BaseDate: u.BaseDate(), PageNo: pageNo, NumOfRows: pageSize})
		if err != nil {
			return nil, err
		}
		if pageNo == 1 {
			batch.TotalCount = page.TotalCount
			if page.TotalCount == 0 {
				return nil, &pipeline.NoDataError{Source: s.name, Unit: u}
			}
		}

		for _, item := range page.Items {
			rec := pipeline.Record{
				Instrument: item.ToInstrument(),
				Segment:    item.Text("mrktCtg"),
				FundHint:   s.fundHint,
			}
			if rec.Instrument.StockCode == "" {
				skipped++
				continue
			}
			if p, ok := item.ToDailyPrice(u.Date); ok {
				rec.Price = p
			} else {
				skipped++
			}
			batch.Records = append(batch.Records, rec)
		}
		seen += len(page.Items)

		if len(page.Items) < pageSize || seen >= page.TotalCount {
			break
		}
	}

	logger.With(logger.Fields{"source": s.name, "unit": u.String()}).
		Debug("fetched %d of %d rows, %d without usable price", seen, batch.TotalCount, skipped)
	return batch, nil
}
