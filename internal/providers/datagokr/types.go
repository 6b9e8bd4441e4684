/**
 * @description
 * Response types for the data.go.kr financial-services price endpoints.
 * Every value arrives as a string (sometimes a number), so fields are read
 * through typed accessors that turn unparsable values into nulls.
 */

package datagokr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/stockdata-project/collector/internal/models"
)

type envelope struct {
	Response struct {
		Header struct {
			ResultCode string `json:"resultCode"`
			ResultMsg  string `json:"resultMsg"`
		} `json:"header"`
		Body struct {
			NumOfRows  flexInt `json:"numOfRows"`
			PageNo     flexInt `json:"pageNo"`
			TotalCount flexInt `json:"totalCount"`
			Items      items   `json:"items"`
		} `json:"body"`
	} `json:"response"`
}

// flexInt accepts 12, "12" and "".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid count %q", s)
	}
	*f = flexInt(n)
	return nil
}

// items is `{"item": [...]}`, `{"item": {...}}` for a single hit, or "" when empty.
type items []Item

func (it *items) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == '"' || bytes.Equal(b, []byte("null")) {
		*it = nil
		return nil
	}

	var wrapper struct {
		Item json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(b, &wrapper); err != nil {
		return err
	}
	raw := bytes.TrimSpace(wrapper.Item)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*it = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	switch raw[0] {
	case '[':
		var list []Item
		if err := dec.Decode(&list); err != nil {
			return err
		}
		*it = list
	case '{':
		var one Item
		if err := dec.Decode(&one); err != nil {
			return err
		}
		*it = items{one}
	default:
		return fmt.Errorf("unexpected item payload %.20q", raw)
	}
	return nil
}

// Page is one decoded response page.
type Page struct {
	Items      []Item
	TotalCount int
	PageNo     int
	NumOfRows  int
}

// Item is one provider row keyed by the provider's field names
// (srtnCd, itmsNm, mrktCtg, clpr, ...).
type Item map[string]interface{}

// Text returns the trimmed text of key, or "".
func (it Item) Text(key string) string {
	switch v := it[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Decimal parses key; missing or unparsable values are null.
func (it Item) Decimal(key string) decimal.NullDecimal {
	s := strings.ReplaceAll(it.Text(key), ",", "")
	if s == "" || s == "-" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// Int parses key as a whole number, truncating any fraction ("5.0E9" included).
func (it Item) Int(key string) null.Int {
	d := it.Decimal(key)
	if !d.Valid {
		return null.Int{}
	}
	return null.IntFrom(d.Decimal.IntPart())
}

// Code is the 6-character short code.
func (it Item) Code() string {
	return strings.TrimPrefix(it.Text("srtnCd"), "A")
}

// ToInstrument maps the row to instrument master fields. Classification is
// left to the reconciler.
func (it Item) ToInstrument() models.Instrument {
	inst := models.Instrument{
		StockCode:       it.Code(),
		StockName:       it.Text("itmsNm"),
		ExchangeSegment: strings.ToUpper(it.Text("mrktCtg")),
		ISINCode:        it.Text("isinCd"),
		ListedShares:    it.Int("lstgStCnt"),
		MarketCap:       it.Int("mrktTotAmt"),
	}
	// ETF rows carry fund facts; the stock endpoint leaves these keys out.
	inst.NAV = it.Decimal("nav")
	inst.NetAssetTotal = it.Int("lstgAmt")
	if !inst.NetAssetTotal.Valid {
		inst.NetAssetTotal = it.Int("nPptTotAmt")
	}
	inst.BaseIndexName = it.Text("idxNm")
	if inst.BaseIndexName == "" {
		inst.BaseIndexName = it.Text("bssIdxIdxNm")
	}
	inst.BaseIndexClose = it.Decimal("idxCsf")
	if !inst.BaseIndexClose.Valid {
		inst.BaseIndexClose = it.Decimal("bssIdxClpr")
	}
	return inst
}

// ToDailyPrice maps the row to a price fact for date. It returns false when
// any OHLCV value is present but unparsable, or the close is zero
// (suspended issue). A bad value never lands as 0.
func (it Item) ToDailyPrice(date time.Time) (*models.DailyPrice, bool) {
	mkp, hipr, lopr, clpr, trqu := it.Int("mkp"), it.Int("hipr"), it.Int("lopr"), it.Int("clpr"), it.Int("trqu")
	if !clpr.Valid || clpr.Int64 == 0 {
		return nil, false
	}
	for key, v := range map[string]null.Int{"mkp": mkp, "hipr": hipr, "lopr": lopr, "trqu": trqu} {
		if it.Text(key) != "" && !v.Valid {
			return nil, false
		}
	}

	if d := it.Text("basDt"); d != "" {
		if t, err := time.Parse("20060102", d); err == nil {
			date = t
		}
	}

	return &models.DailyPrice{
		StockCode:    it.Code(),
		TradeDate:    models.TradeDay(date),
		OpenPrice:    mkp.Int64,
		HighPrice:    hipr.Int64,
		LowPrice:     lopr.Int64,
		ClosePrice:   clpr.Int64,
		Volume:       trqu.Int64,
		Vs:           it.Int("vs"),
		ChangeRate:   it.Decimal("fltRt"),
		TradingValue: it.Int("trPrc"),
	}, true
}
