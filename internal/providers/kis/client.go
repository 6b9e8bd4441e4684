/**
 * @description
 * HTTP client for the Korea Investment & Securities (KIS) open API.
 * Issues an access token and reads per-ticker daily price history.
 *
 * @dependencies
 * - net/http
 * - encoding/json
 * - internal/config
 *
 * @notes
 * - The token is issued once per client and reused for its lifetime. KIS
 *   tokens last 24h, which outlives any single batch run.
 */

package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/models"
	"github.com/stockdata-project/collector/internal/pipeline"
)

const (
	tokenPath       = "/oauth2/tokenP"
	dailyPricePath  = "/uapi/domestic-stock/v1/quotations/inquire-daily-price"
	dailyPriceTrID  = "FHKST01010400"
	sourceName      = "kis"
	successReturned = "0"
)

type Client struct {
	BaseURL    string
	AppKey     string
	AppSecret  string
	HTTPClient *http.Client

	mu    sync.Mutex
	token string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(cfg.KIS.BaseURL, "/"),
		AppKey:    cfg.KIS.AppKey,
		AppSecret: cfg.KIS.AppSecret,
		HTTPClient: &http.Client{
			Timeout: cfg.Ingest.HTTPTimeout,
		},
	}
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// IssueToken returns the cached access token, requesting one on first use.
func (c *Client) IssueToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	body, err := json.Marshal(tokenRequest{GrantType: "client_credentials", AppKey: c.AppKey, AppSecret: c.AppSecret})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", &pipeline.TransientFetchError{Source: sourceName, Op: "token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &pipeline.TransientFetchError{Source: sourceName, Op: "token", Status: resp.StatusCode, Err: errors.New("token request rejected")}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &pipeline.TransientFetchError{Source: sourceName, Op: "token", Status: resp.StatusCode, Err: err}
	}
	if tr.AccessToken == "" {
		return "", &pipeline.TransientFetchError{Source: sourceName, Op: "token", Status: resp.StatusCode, Err: errors.New("empty access_token")}
	}

	c.token = tr.AccessToken
	return c.token, nil
}

// DailyPrice is one row of inquire-daily-price output
type DailyPrice struct {
	Date   string `json:"stck_bsop_date"`
	Open   string `json:"stck_oprc"`
	High   string `json:"stck_hgpr"`
	Low    string `json:"stck_lwpr"`
	Close  string `json:"stck_clpr"`
	Volume string `json:"acml_vol"`
	Vs     string `json:"prdy_vrss"`
	VsSign string `json:"prdy_vrss_sign"`
	Rate   string `json:"prdy_ctrt"`
}

type dailyPriceResponse struct {
	ReturnCode  string       `json:"rt_cd"`
	MessageCode string       `json:"msg_cd"`
	Message     string       `json:"msg1"`
	Output      []DailyPrice `json:"output"`
}

// GetDailyPrices returns the most recent daily bars (about 30) for code.
func (c *Client) GetDailyPrices(ctx context.Context, code string) ([]DailyPrice, error) {
	token, err := c.IssueToken(ctx)
	if err != nil {
		return nil, err
	}
	op := "daily " + code

	u, err := url.Parse(c.BaseURL + dailyPricePath)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("fid_cond_mrkt_div_code", "J")
	q.Set("fid_input_iscd", code)
	q.Set("fid_org_adj_prc", "0")
	q.Set("fid_period_div_code", "D")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.AppKey)
	req.Header.Set("appsecret", c.AppSecret)
	req.Header.Set("tr_id", dailyPriceTrID)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &pipeline.TransientFetchError{Source: sourceName, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &pipeline.TransientFetchError{Source: sourceName, Op: op, Status: resp.StatusCode, Err: errors.New("unexpected status")}
	}

	var out dailyPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &pipeline.TransientFetchError{Source: sourceName, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("malformed json: %w", err)}
	}
	if out.ReturnCode != successReturned {
		return nil, &pipeline.TransientFetchError{
			Source: sourceName, Op: op, Status: resp.StatusCode,
			Err: fmt.Errorf("rt_cd %s %s: %s", out.ReturnCode, out.MessageCode, out.Message),
		}
	}
	return out.Output, nil
}

// ToDailyPrice converts a bar. Rows without a parsable date or a positive
// close are dropped.
func (p DailyPrice) ToDailyPrice(code string) (*models.DailyPrice, bool) {
	date, err := time.Parse("20060102", strings.TrimSpace(p.Date))
	if err != nil {
		return nil, false
	}
	closePrice := parseInt(p.Close)
	if !closePrice.Valid || closePrice.Int64 <= 0 {
		return nil, false
	}

	vs := parseInt(p.Vs)
	// prdy_vrss is unsigned when the sign field says down (4 = fall, 5 = limit down)
	if vs.Valid && vs.Int64 > 0 && (p.VsSign == "4" || p.VsSign == "5") {
		vs = null.IntFrom(-vs.Int64)
	}

	return &models.DailyPrice{
		StockCode:  code,
		TradeDate:  models.TradeDay(date),
		OpenPrice:  parseInt(p.Open).Int64,
		HighPrice:  parseInt(p.High).Int64,
		LowPrice:   parseInt(p.Low).Int64,
		ClosePrice: closePrice.Int64,
		Volume:     parseInt(p.Volume).Int64,
		Vs:         vs,
		ChangeRate: parseDecimal(p.Rate),
	}, true
}
