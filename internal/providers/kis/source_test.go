package kis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/pipeline"
)

func newKISServer(t *testing.T, tokenCalls *int32, daily string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			atomic.AddInt32(tokenCalls, 1)
			var req tokenRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GrantType != "client_credentials" || req.AppKey != "app" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer","expires_in":86400}`)
		case dailyPricePath:
			if r.Header.Get("authorization") != "Bearer tok" || r.Header.Get("tr_id") != dailyPriceTrID {
				t.Errorf("missing auth headers: %v", r.Header)
			}
			if r.URL.Query().Get("fid_input_iscd") == "" {
				t.Errorf("ticker not sent: %s", r.URL.RawQuery)
			}
			fmt.Fprint(w, daily)
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestClient(srv *httptest.Server) *Client {
	cfg := &config.Config{}
	cfg.KIS.BaseURL = srv.URL
	cfg.KIS.AppKey = "app"
	cfg.KIS.AppSecret = "secret"
	cfg.Ingest.HTTPTimeout = 2 * time.Second
	return NewClient(cfg)
}

const dailyOK = `{"rt_cd":"0","msg_cd":"MCA00000","msg1":"정상처리 되었습니다.","output":[
 {"stck_bsop_date":"20240103","stck_oprc":"77000","stck_hgpr":"77500","stck_lwpr":"76000","stck_clpr":"77000","acml_vol":"1000","prdy_vrss":"1000","prdy_vrss_sign":"5","prdy_ctrt":"-1.28"},
 {"stck_bsop_date":"20240102","stck_oprc":"78000","stck_hgpr":"79000","stck_lwpr":"77500","stck_clpr":"78000","acml_vol":"2000","prdy_vrss":"500","prdy_vrss_sign":"2","prdy_ctrt":"0.65"},
 {"stck_bsop_date":"","stck_clpr":"0"}
]}`

func TestDailySourceFetch(t *testing.T) {
	var tokenCalls int32
	srv := newKISServer(t, &tokenCalls, dailyOK)
	defer srv.Close()

	universe := &config.Universe{Tickers: []config.UniverseTicker{{Code: "005930", Name: "삼성전자", Market: "KOSPI"}}}
	src := NewDailySource(newTestClient(srv), universe)

	for _, code := range []string{"005930", "000660"} {
		batch, err := src.Fetch(context.Background(), pipeline.TickerUnit(code))
		if err != nil {
			t.Fatalf("fetch %s failed: %v", code, err)
		}
		if len(batch.Records) != 2 || batch.InstrumentMode != pipeline.InstrumentInsertOnly {
			t.Fatalf("unexpected batch for %s: %+v", code, batch)
		}
	}
	if tokenCalls != 1 {
		t.Fatalf("token should be issued once per client, got %d", tokenCalls)
	}

	batch, _ := src.Fetch(context.Background(), pipeline.TickerUnit("005930"))
	first := batch.Records[0]
	if first.Instrument.StockName != "삼성전자" || first.Segment != "KOSPI" {
		t.Fatalf("universe name not applied: %+v", first.Instrument)
	}
	if first.Price.Vs.Int64 != -1000 || first.Price.ChangeRate.Decimal.String() != "-1.28" {
		t.Fatalf("down move not signed: %+v", first.Price)
	}
	if first.Price.TradeDate.Format("20060102") != "20240103" {
		t.Fatalf("unexpected trade date %v", first.Price.TradeDate)
	}
}

func TestDailySourceProviderError(t *testing.T) {
	var tokenCalls int32
	srv := newKISServer(t, &tokenCalls, `{"rt_cd":"1","msg_cd":"EGW00201","msg1":"초당 거래건수를 초과하였습니다."}`)
	defer srv.Close()

	_, err := NewDailySource(newTestClient(srv), nil).Fetch(context.Background(), pipeline.TickerUnit("005930"))
	var fetchErr *pipeline.TransientFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected transient fetch error, got %v", err)
	}
}

func TestDailySourceEmptyOutputIsNoData(t *testing.T) {
	var tokenCalls int32
	srv := newKISServer(t, &tokenCalls, `{"rt_cd":"0","output":[]}`)
	defer srv.Close()

	_, err := NewDailySource(newTestClient(srv), nil).Fetch(context.Background(), pipeline.TickerUnit("005930"))
	if !errors.Is(err, pipeline.ErrNoData) {
		t.Fatalf("expected no data, got %v", err)
	}
}

func TestTokenRejected(t *testing.T) {
	var tokenCalls int32
	srv := newKISServer(t, &tokenCalls, dailyOK)
	defer srv.Close()

	c := newTestClient(srv)
	c.AppKey = "wrong"
	_, err := c.IssueToken(context.Background())
	var fetchErr *pipeline.TransientFetchError
	if !errors.As(err, &fetchErr) || fetchErr.Status != http.StatusForbidden {
		t.Fatalf("expected rejected token error, got %v", err)
	}
}
