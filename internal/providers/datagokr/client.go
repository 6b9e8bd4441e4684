/**
 * @description
 * HTTP client for the data.go.kr (공공데이터포털) securities price services.
 * Fetches one page of stock or ETF daily prices for a base date.
 *
 * @dependencies
 * - net/http
 * - encoding/json
 * - internal/config
 */

package datagokr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/pipeline"
)

const resultOK = "00"

// A rejected key fails every unit the same way, so it aborts the run.
var (
	keyResultCodes = map[string]bool{"20": true, "30": true, "31": true}
	keyRejections  = []string{
		"SERVICE_KEY_IS_NOT_REGISTERED_ERROR",
		"SERVICE_ACCESS_DENIED_ERROR",
		"DEADLINE_HAS_EXPIRED_ERROR",
	}
)

type Client struct {
	StockURL   string
	ETFURL     string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		StockURL: cfg.DataGoKr.StockURL,
		ETFURL:   cfg.DataGoKr.ETFURL,
		APIKey:   cfg.DataGoKr.APIKey,
		HTTPClient: &http.Client{
			Timeout: cfg.Ingest.HTTPTimeout,
		},
	}
}

// GetPriceParams holds query parameters for a price page
type GetPriceParams struct {
	BaseDate  string // YYYYMMDD
	PageNo    int
	NumOfRows int
	ShortCode string // optional likeSrtnCd filter
}

// GetStockPrices fetches one page of KOSPI/KOSDAQ/KONEX daily prices.
func (c *Client) GetStockPrices(ctx context.Context, params GetPriceParams) (*Page, error) {
	return c.getPage(ctx, "stocks", c.StockURL, params)
}

// GetETFPrices fetches one page of ETF daily prices.
func (c *Client) GetETFPrices(ctx context.Context, params GetPriceParams) (*Page, error) {
	return c.getPage(ctx, "etf", c.ETFURL, params)
}

func (c *Client) getPage(ctx context.Context, source, endpoint string, params GetPriceParams) (*Page, error) {
	fail := func(status int, err error) error {
		return &pipeline.TransientFetchError{Source: source, Op: "page " + strconv.Itoa(params.PageNo), Status: status, Err: err}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	q.Set("serviceKey", serviceKey(c.APIKey))
	q.Set("resultType", "json")
	q.Set("basDt", params.BaseDate)
	if params.PageNo > 0 {
		q.Set("pageNo", strconv.Itoa(params.PageNo))
	}
	if params.NumOfRows > 0 {
		q.Set("numOfRows", strconv.Itoa(params.NumOfRows))
	}
	if params.ShortCode != "" {
		q.Set("likeSrtnCd", params.ShortCode)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fail(resp.StatusCode, errors.New("unexpected status"))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(resp.StatusCode, err)
	}
	// Gateway errors (bad key, quota) come back as XML with status 200.
	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "<") {
		for _, reason := range keyRejections {
			if strings.Contains(trimmed, reason) {
				return nil, &pipeline.ConfigurationError{Key: "DATA_GO_KR_API_KEY", Reason: strings.ToLower(reason)}
			}
		}
		return nil, fail(resp.StatusCode, fmt.Errorf("non-json response: %.120s", trimmed))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("malformed json: %w", err))
	}

	h := env.Response.Header
	if keyResultCodes[h.ResultCode] {
		return nil, &pipeline.ConfigurationError{Key: "DATA_GO_KR_API_KEY", Reason: h.ResultMsg}
	}
	if h.ResultCode != "" && h.ResultCode != resultOK {
		return nil, fail(resp.StatusCode, fmt.Errorf("result %s: %s", h.ResultCode, h.ResultMsg))
	}

	b := env.Response.Body
	return &Page{
		Items:      b.Items,
		TotalCount: int(b.TotalCount),
		PageNo:     int(b.PageNo),
		NumOfRows:  int(b.NumOfRows),
	}, nil
}

// serviceKey accepts either the encoded or decoded key shown on the portal.
func serviceKey(key string) string {
	if strings.Contains(key, "%") {
		if decoded, err := url.QueryUnescape(key); err == nil {
			return decoded
		}
	}
	return key
}
