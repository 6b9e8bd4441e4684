package datagokr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/pipeline"
)

func newTestClient(srv *httptest.Server) *Client {
	return newTestClientWithTimeout(srv, 2*time.Second)
}

func newTestClientWithTimeout(srv *httptest.Server, timeout time.Duration) *Client {
	cfg := &config.Config{}
	cfg.DataGoKr.StockURL = srv.URL + "/stock"
	cfg.DataGoKr.ETFURL = srv.URL + "/etf"
	cfg.DataGoKr.APIKey = "abc%2Bdef"
	cfg.Ingest.HTTPTimeout = timeout
	return NewClient(cfg)
}

func noSleep(context.Context, time.Duration) error { return nil }

func stockItem(code, name, clpr string) string {
	return fmt.Sprintf(`{"basDt":"20240102","srtnCd":"%s","isinCd":"KR7%s003","itmsNm":"%s","mrktCtg":"KOSPI",`+
		`"clpr":"%s","vs":"-500","fltRt":"-.64","mkp":"78200","hipr":"79000","lopr":"77500","trqu":"1234567",`+
		`"trPrc":"96000000000","lstgStCnt":"5969782550","mrktTotAmt":"465643038900000"}`, code, code, name, clpr)
}

func envelopeJSON(total int, items string) string {
	return fmt.Sprintf(`{"response":{"header":{"resultCode":"00","resultMsg":"NORMAL SERVICE."},`+
		`"body":{"numOfRows":2,"pageNo":1,"totalCount":%d,"items":%s}}}`, total, items)
}

func TestStockSourcePaginatesUntilShortPage(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("serviceKey") != "abc+def" {
			t.Errorf("service key not decoded: %q", q.Get("serviceKey"))
		}
		if q.Get("basDt") != "20240102" || q.Get("resultType") != "json" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		pages = append(pages, q.Get("pageNo"))
		switch q.Get("pageNo") {
		case "1":
			fmt.Fprint(w, envelopeJSON(3, `{"item":[`+stockItem("005930", "삼성전자", "78000")+`,`+stockItem("000660", "SK하이닉스", "140000")+`]}`))
		default:
			// single hit comes back as an object, not a list
			fmt.Fprint(w, envelopeJSON(3, `{"item":`+stockItem("035720", "카카오", "0")+`}`))
		}
	}))
	defer srv.Close()

	src := NewStockSource(newTestClient(srv), 2, time.Millisecond)
	src.Sleep = noSleep

	batch, err := src.Fetch(context.Background(), pipeline.DateUnit(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %v", pages)
	}
	if len(batch.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(batch.Records))
	}

	first := batch.Records[0]
	if first.Instrument.StockCode != "005930" || first.Segment != "KOSPI" || first.FundHint {
		t.Fatalf("unexpected first record %+v", first)
	}
	if first.Price == nil || first.Price.ClosePrice != 78000 || first.Price.Vs.Int64 != -500 {
		t.Fatalf("unexpected price %+v", first.Price)
	}
	if got := first.Price.ChangeRate.Decimal.String(); got != "-0.64" {
		t.Fatalf("unexpected change rate %s", got)
	}
	if first.Instrument.ListedShares.Int64 != 5969782550 {
		t.Fatalf("unexpected listed shares %+v", first.Instrument.ListedShares)
	}

	if batch.Records[2].Price != nil {
		t.Fatal("zero close price should not produce a price row")
	}
}

func TestFetchReportsHolidayAsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, envelopeJSON(0, `""`))
	}))
	defer srv.Close()

	src := NewETFSource(newTestClient(srv), 1000, 0)
	_, err := src.Fetch(context.Background(), pipeline.DateUnit(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	if !errors.Is(err, pipeline.ErrNoData) {
		t.Fatalf("expected no-data error, got %v", err)
	}
}

func TestFetchTransientErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status 500": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"malformed json": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"response":`)
		},
		"gateway xml": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<OpenAPI_ServiceResponse><cmmMsgHeader><returnAuthMsg>LIMITED_NUMBER_OF_SERVICE_REQUESTS_EXCEEDS_ERROR</returnAuthMsg></cmmMsgHeader></OpenAPI_ServiceResponse>`)
		},
		"result code": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"response":{"header":{"resultCode":"22","resultMsg":"LIMITED NUMBER OF SERVICE REQUESTS EXCEEDS ERROR."}}}`)
		},
	}

	for name, h := range cases {
		srv := httptest.NewServer(h)
		src := NewStockSource(newTestClient(srv), 1000, 0)
		_, err := src.Fetch(context.Background(), pipeline.DateUnit(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
		srv.Close()

		var fetchErr *pipeline.TransientFetchError
		if !errors.As(err, &fetchErr) {
			t.Fatalf("%s: expected transient fetch error, got %v", name, err)
		}
		if pipeline.PolicyFor(err) != pipeline.ActionSkip {
			t.Fatalf("%s: expected skip policy", name)
		}
	}
}

func TestFetchTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	src := NewStockSource(newTestClientWithTimeout(srv, 50*time.Millisecond), 1000, 0)
	start := time.Now()
	_, err := src.Fetch(context.Background(), pipeline.DateUnit(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))

	var fetchErr *pipeline.TransientFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected transient fetch error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Fatalf("request was not cut off by the client timeout (took %s)", elapsed)
	}
}

func TestFetchRejectedKeyIsConfigurationError(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"gateway xml": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<OpenAPI_ServiceResponse><cmmMsgHeader><returnAuthMsg>SERVICE_KEY_IS_NOT_REGISTERED_ERROR</returnAuthMsg></cmmMsgHeader></OpenAPI_ServiceResponse>`)
		},
		"result code": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"response":{"header":{"resultCode":"30","resultMsg":"SERVICE KEY IS NOT REGISTERED ERROR."}}}`)
		},
	}

	for name, h := range cases {
		srv := httptest.NewServer(h)
		src := NewStockSource(newTestClient(srv), 1000, 0)
		_, err := src.Fetch(context.Background(), pipeline.DateUnit(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
		srv.Close()

		var cfgErr *pipeline.ConfigurationError
		if !errors.As(err, &cfgErr) || cfgErr.Key != "DATA_GO_KR_API_KEY" {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
		if pipeline.PolicyFor(err) != pipeline.ActionAbort {
			t.Fatalf("%s: expected abort policy", name)
		}
	}
}

func TestETFSourceCarriesFundFacts(t *testing.T) {
	item := `{"basDt":"20240102","srtnCd":"069500","itmsNm":"KODEX 200","clpr":"35000","mkp":"34900","hipr":"35100",` +
		`"lopr":"34800","trqu":"5000000","nav":"35012.34","lstgAmt":"6200000000000","idxNm":"코스피 200","idxCsf":"361.76"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/etf") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, envelopeJSON(1, `{"item":`+item+`}`))
	}))
	defer srv.Close()

	src := NewETFSource(newTestClient(srv), 1000, 0)
	batch, err := src.Fetch(context.Background(), pipeline.DateUnit(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(batch.Records) != 1 || !batch.Records[0].FundHint {
		t.Fatalf("unexpected records %+v", batch.Records)
	}
	inst := batch.Records[0].Instrument
	if inst.NAV.Decimal.String() != "35012.34" || inst.NetAssetTotal.Int64 != 6200000000000 || inst.BaseIndexName != "코스피 200" {
		t.Fatalf("fund facts not mapped: %+v", inst)
	}
}

func TestItemNumericFieldsDegradeToNull(t *testing.T) {
	it := Item{"srtnCd": "A005930", "clpr": "78000", "vs": "n/a", "fltRt": "", "trPrc": "1,234"}
	p, ok := it.ToDailyPrice(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if !ok {
		t.Fatal("row with valid close should be kept")
	}
	if p.StockCode != "005930" {
		t.Fatalf("expected A prefix stripped, got %q", p.StockCode)
	}
	if p.Vs.Valid || p.ChangeRate.Valid {
		t.Fatalf("unparsable fields should be null: %+v", p)
	}
	if !p.TradingValue.Valid || p.TradingValue.Int64 != 1234 {
		t.Fatalf("thousands separator not handled: %+v", p.TradingValue)
	}
}

func TestItemUnparsablePriceDropsRow(t *testing.T) {
	base := Item{"srtnCd": "005930", "clpr": "78000", "mkp": "77000", "hipr": "79000", "lopr": "76000", "trqu": "100"}

	for _, key := range []string{"mkp", "hipr", "lopr", "trqu"} {
		it := Item{}
		for k, v := range base {
			it[k] = v
		}
		it[key] = "abc"
		if p, ok := it.ToDailyPrice(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)); ok {
			t.Fatalf("%s=abc should drop the row, got %+v", key, p)
		}
	}

	p, ok := base.ToDailyPrice(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if !ok || p.HighPrice != 79000 || p.LowPrice != 76000 {
		t.Fatalf("valid row not mapped: %+v", p)
	}
}
