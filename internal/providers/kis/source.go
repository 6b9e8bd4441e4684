package kis

import (
	"context"
	"strings"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/models"
	"github.com/stockdata-project/collector/internal/pipeline"
)

// DailySource collects recent daily bars per ticker. Instrument rows are only
// created for tickers not seen before, named from the universe file; the
// open-data sources own the master data.
type DailySource struct {
	Client   *Client
	Universe *config.Universe
}

func NewDailySource(c *Client, u *config.Universe) *DailySource {
	return &DailySource{Client: c, Universe: u}
}

func (s *DailySource) Name() string { return sourceName }

func (s *DailySource) Fetch(ctx context.Context, u pipeline.Unit) (*pipeline.Batch, error) {
	code := u.Ticker
	bars, err := s.Client.GetDailyPrices(ctx, code)
	if err != nil {
		return nil, err
	}

	inst := models.Instrument{StockCode: code, StockName: code}
	var segment string
	if s.Universe != nil {
		if t, ok := s.Universe.Lookup(code); ok {
			inst.StockName = t.Name
			segment = t.Market
		}
	}
	inst.ExchangeSegment = strings.ToUpper(segment)

	batch := &pipeline.Batch{TotalCount: len(bars), InstrumentMode: pipeline.InstrumentInsertOnly}
	for _, bar := range bars {
		p, ok := bar.ToDailyPrice(code)
		if !ok {
			continue
		}
		batch.Records = append(batch.Records, pipeline.Record{Instrument: inst, Price: p, Segment: segment})
	}
	if len(batch.Records) == 0 {
		return nil, &pipeline.NoDataError{Source: sourceName, Unit: u}
	}
	return batch, nil
}

func parseInt(s string) null.Int {
	d := parseDecimal(s)
	if !d.Valid {
		return null.Int{}
	}
	return null.IntFrom(d.Decimal.IntPart())
}

func parseDecimal(s string) decimal.NullDecimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
