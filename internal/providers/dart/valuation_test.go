package dart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/models"
	"github.com/stockdata-project/collector/internal/pipeline"
	"github.com/stockdata-project/collector/internal/store"
)

type stubLookup struct {
	inst  *models.Instrument
	price *models.DailyPrice
}

func (s stubLookup) GetInstrument(context.Context, string) (*models.Instrument, error) {
	if s.inst == nil {
		return nil, store.ErrNotFound
	}
	return s.inst, nil
}

func (s stubLookup) LatestPrice(context.Context, string) (*models.DailyPrice, error) {
	if s.price == nil {
		return nil, store.ErrNotFound
	}
	return s.price, nil
}

const annualAccounts = `{"status":"000","message":"정상","list":[
 {"fs_div":"OFS","sj_div":"IS","account_nm":"당기순이익","thstrm_amount":"1,000"},
 {"fs_div":"CFS","sj_div":"BS","account_nm":"자본총계","thstrm_amount":"40,000,000"},
 {"fs_div":"CFS","sj_div":"IS","account_nm":"당기순이익(손실)","thstrm_amount":"5,000,000"}
]}`

func newTestClient(srv *httptest.Server) *Client {
	cfg := &config.Config{}
	cfg.Dart.BaseURL = srv.URL + "/api/"
	cfg.Dart.APIKey = "key"
	cfg.Ingest.HTTPTimeout = 2 * time.Second
	return NewClient(cfg)
}

func TestReportCandidates(t *testing.T) {
	got := ReportCandidates(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC))
	want := []string{"2024 Q3", "2024 H1", "2024 Q1", "2023 FY"}
	if len(got) != len(want) {
		t.Fatalf("unexpected candidates %v", got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Fatalf("candidate %d: want %s, got %s", i, want[i], got[i])
		}
	}

	early := ReportCandidates(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if early[0].Year != 2023 || early[0].Code != ReportQ3 {
		t.Fatalf("expected previous Q3 first in February, got %v", early[0])
	}
}

func TestExtractFinancialsPrefersConsolidated(t *testing.T) {
	accounts := []Account{
		{FSDiv: "OFS", AccountName: "당기순이익", ThisTermAmount: "1,000"},
		{FSDiv: "CFS", AccountName: "당기순이익(손실)", ThisTermAmount: "300", ThisTermAddAmt: "900"},
		{FSDiv: "CFS", AccountName: "자본총계", ThisTermAmount: "10,000"},
	}
	f := ExtractFinancials(accounts, 3)
	if f.NetIncome.Int64 != 1200 {
		t.Fatalf("expected annualised cumulative 900*4/3=1200, got %v", f.NetIncome)
	}
	if f.TotalEquity.Int64 != 10000 {
		t.Fatalf("unexpected equity %v", f.TotalEquity)
	}
}

func TestExtractFinancialsPrefersControllingInterest(t *testing.T) {
	accounts := []Account{
		{FSDiv: "CFS", AccountName: "당기순이익(손실)", ThisTermAmount: "1,500"},
		{FSDiv: "CFS", AccountName: "지배기업 소유주지분 당기순이익", ThisTermAmount: "1,200"},
		{FSDiv: "CFS", AccountName: "비지배지분 당기순이익", ThisTermAmount: "300"},
	}
	if f := ExtractFinancials(accounts, 4); f.NetIncome.Int64 != 1200 {
		t.Fatalf("expected controlling-interest income, got %v", f.NetIncome)
	}
}

func TestCompute(t *testing.T) {
	v := Compute(Financials{NetIncome: null.IntFrom(5_000_000), TotalEquity: null.IntFrom(40_000_000)}, 7000, 1000)
	if v.EPS.Int64 != 5000 || v.BPS.Int64 != 40000 {
		t.Fatalf("unexpected per-share values %+v", v)
	}
	if v.PER.Decimal.String() != "1.4" || v.PBR.Decimal.String() != "0.18" {
		t.Fatalf("unexpected ratios per=%s pbr=%s", v.PER.Decimal, v.PBR.Decimal)
	}

	loss := Compute(Financials{NetIncome: null.IntFrom(-5_000_000)}, 7000, 1000)
	if !loss.EPS.Valid || loss.PER.Valid {
		t.Fatalf("negative earnings should keep EPS and drop PER: %+v", loss)
	}

	if none := Compute(Financials{NetIncome: null.IntFrom(1)}, 7000, 0); none.EPS.Valid {
		t.Fatal("zero shares should yield no values")
	}
}

func TestValuationSourceFallsBackThroughReports(t *testing.T) {
	var asked []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api/fnlttSinglAcnt.json" || q.Get("crtfc_key") != "key" || q.Get("corp_code") != "00126380" {
			t.Errorf("unexpected request %s", r.URL)
		}
		asked = append(asked, q.Get("bsns_year")+"/"+q.Get("reprt_code"))
		if q.Get("reprt_code") != ReportAnnual {
			fmt.Fprint(w, `{"status":"013","message":"조회된 데이타가 없습니다."}`)
			return
		}
		fmt.Fprint(w, annualAccounts)
	}))
	defer srv.Close()

	lookup := stubLookup{
		inst:  &models.Instrument{StockCode: "005930", StockName: "삼성전자", ListedShares: null.IntFrom(1000)},
		price: &models.DailyPrice{StockCode: "005930", ClosePrice: 7000},
	}
	src := NewValuationSource(newTestClient(srv), lookup, map[string]string{"005930": "00126380"})
	src.Now = func() time.Time { return time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC) }
	src.Sleep = func(context.Context, time.Duration) error { return nil }

	batch, err := src.Fetch(context.Background(), pipeline.TickerUnit("005930"))
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(asked) != 4 || asked[3] != "2023/11011" {
		t.Fatalf("unexpected report sequence %v", asked)
	}

	row := batch.Records[0].Instrument
	if row.EPS.Int64 != 5000 || row.PBR.Decimal.String() != "0.18" || row.LastReportDate != "2023 FY" {
		t.Fatalf("unexpected valuation row %+v", row)
	}
	if batch.InstrumentMode != pipeline.InstrumentUpsert || len(batch.InstrumentColumns) != len(store.ValuationColumns) {
		t.Fatalf("valuation batch must only upsert valuation columns")
	}
}

func TestValuationSourceNoData(t *testing.T) {
	src := NewValuationSource(&Client{}, stubLookup{}, map[string]string{"005930": "00126380"})

	if _, err := src.Fetch(context.Background(), pipeline.TickerUnit("999999")); !errors.Is(err, pipeline.ErrNoData) {
		t.Fatalf("unmapped ticker: expected no data, got %v", err)
	}
	if _, err := src.Fetch(context.Background(), pipeline.TickerUnit("005930")); !errors.Is(err, pipeline.ErrNoData) {
		t.Fatalf("uncollected ticker: expected no data, got %v", err)
	}

	// the client has no server behind it, so any DART call would fail the unit
	src.Lookup = stubLookup{
		inst:  &models.Instrument{StockCode: "005930", StockName: "삼성전자"},
		price: &models.DailyPrice{StockCode: "005930", ClosePrice: 7000},
	}
	if _, err := src.Fetch(context.Background(), pipeline.TickerUnit("005930")); !errors.Is(err, pipeline.ErrNoData) {
		t.Fatalf("unknown share count: expected no data, got %v", err)
	}
}

func TestGetSingleAccountsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"020","message":"요청 제한을 초과하였습니다."}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetSingleAccounts(context.Background(), "00126380", "2024", ReportQ3)
	var fetchErr *pipeline.TransientFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected transient fetch error, got %v", err)
	}
}

func TestGetSingleAccountsRejectedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"010","message":"등록되지 않은 키입니다."}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetSingleAccounts(context.Background(), "00126380", "2024", ReportQ3)
	if pipeline.PolicyFor(err) != pipeline.ActionAbort {
		t.Fatalf("expected abort policy for a rejected key, got %v", err)
	}
}
