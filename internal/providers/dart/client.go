/**
 * @description
 * HTTP client for the OpenDART disclosure API.
 * Reads the single-company key accounts (fnlttSinglAcnt) of periodic reports.
 *
 * @dependencies
 * - net/http
 * - encoding/json
 * - internal/config
 */

package dart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/pipeline"
)

const (
	statusOK     = "000"
	statusNoData = "013"
)

// Report codes
const (
	ReportQ1     = "11013"
	ReportHalf   = "11012"
	ReportQ3     = "11014"
	ReportAnnual = "11011"
)

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL: strings.TrimRight(cfg.Dart.BaseURL, "/"),
		APIKey:  cfg.Dart.APIKey,
		HTTPClient: &http.Client{
			Timeout: cfg.Ingest.HTTPTimeout,
		},
	}
}

// Account is one line of a financial statement
type Account struct {
	FSDiv           string `json:"fs_div"` // CFS consolidated, OFS separate
	SJDiv           string `json:"sj_div"` // BS balance sheet, IS income statement
	AccountName     string `json:"account_nm"`
	ThisTermAmount  string `json:"thstrm_amount"`
	ThisTermAddAmt  string `json:"thstrm_add_amount"`
	ThisTermDate    string `json:"thstrm_dt"`
	ReceiptNo       string `json:"rcept_no"`
	BusinessYear    string `json:"bsns_year"`
	ReportCode      string `json:"reprt_code"`
	StockCode       string `json:"stock_code"`
	CurrencyUnit    string `json:"currency"`
	PriorTermAmount string `json:"frmtrm_amount"`
}

type accountsResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	List    []Account `json:"list"`
}

// ErrNoReport is returned when the report has not been filed.
var ErrNoReport = errors.New("report not filed")

// GetSingleAccounts fetches the key accounts of one periodic report.
func (c *Client) GetSingleAccounts(ctx context.Context, corpCode, year, reportCode string) ([]Account, error) {
	op := fmt.Sprintf("fnlttSinglAcnt %s %s/%s", corpCode, year, reportCode)
	fail := func(status int, err error) error {
		return &pipeline.TransientFetchError{Source: "dart", Op: op, Status: status, Err: err}
	}

	u, err := url.Parse(c.BaseURL + "/fnlttSinglAcnt.json")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("crtfc_key", c.APIKey)
	q.Set("corp_code", corpCode)
	q.Set("bsns_year", year)
	q.Set("reprt_code", reportCode)
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
		return nil, fail(resp.StatusCode, errors.New("unexpected status"))
	}

	var out accountsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("malformed json: %w", err))
	}

	switch out.Status {
	case statusOK:
		return out.List, nil
	case statusNoData:
		return nil, ErrNoReport
	case "010", "011", "012", "901":
		// unregistered, disabled, IP not allowed, expired
		return nil, &pipeline.ConfigurationError{Key: "DART_API_KEY", Reason: out.Message}
	}
	return nil, fail(resp.StatusCode, fmt.Errorf("status %s: %s", out.Status, out.Message))
}
