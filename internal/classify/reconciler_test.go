package classify

import (
	"testing"

	"github.com/stockdata-project/collector/internal/models"
	"github.com/stockdata-project/collector/internal/pipeline"
)

func TestIsFundMatchesKeywords(t *testing.T) {
	r := NewReconciler(nil, nil)

	funds := []string{"KODEX 200", "TIGER 미국S&P500", "SOL 조선TOP3플러스", "ACE 미국배당다우존스", "마이티 200커버드콜", "ＫＯＤＥＸ 레버리지"}
	for _, name := range funds {
		if !r.IsFund(name, "") {
			t.Fatalf("expected %q to be a fund", name)
		}
	}

	stocks := []string{"삼성전자", "KB금융", "NH투자증권", "미래에셋증권", "키움증권", "SOLUS첨단소재", "ACES"}
	for _, name := range stocks {
		if r.IsFund(name, "") {
			t.Fatalf("expected %q not to be a fund", name)
		}
	}
}

func TestOverrideWinsOverKeyword(t *testing.T) {
	r := NewReconciler(nil, []models.InstrumentOverride{
		{StockCode: "123456", MarketType: models.MarketKOSDAQ, AssetType: models.AssetStock},
		{StockCode: "654321", MarketType: models.MarketETF, AssetType: models.AssetETF},
	})

	if r.IsFund("PLUS 코스닥", "123456") {
		t.Fatal("override should demote keyword match")
	}
	if !r.IsFund("그냥회사", "654321") {
		t.Fatal("override should promote non-keyword name")
	}

	res := r.Decide(Input{Code: "123456", Name: "PLUS 코스닥", FundHint: true})
	if res.ClassifiedBy != models.ClassifiedByOverride || res.MarketType != models.MarketKOSDAQ {
		t.Fatalf("unexpected decision %+v", res)
	}
}

func TestDecidePrecedence(t *testing.T) {
	r := NewReconciler(nil, nil)

	cases := []struct {
		in       Input
		market   string
		asset    string
		decision string
	}{
		{Input{Code: "069500", Name: "KODEX 200", Segment: "KOSPI"}, models.MarketETF, models.AssetETF, models.ClassifiedByKeyword},
		{Input{Code: "999999", Name: "신규상품", FundHint: true}, models.MarketETF, models.AssetETF, models.ClassifiedByProvider},
		{Input{Code: "005930", Name: "삼성전자", Segment: "KOSPI"}, models.MarketKOSPI, models.AssetStock, models.ClassifiedBySegment},
		{Input{Code: "035720", Name: "카카오", Segment: "kosdaq"}, models.MarketKOSDAQ, models.AssetStock, models.ClassifiedBySegment},
		{Input{Code: "000001", Name: "모름", Segment: ""}, models.MarketETC, models.AssetStock, models.ClassifiedBySegment},
		{Input{Code: "0000Z0", Name: "신규 상장지수", Segment: "ETF"}, models.MarketETF, models.AssetETF, models.ClassifiedBySegment},
	}
	for _, tc := range cases {
		got := r.Decide(tc.in)
		if got.MarketType != tc.market || got.AssetType != tc.asset || got.ClassifiedBy != tc.decision {
			t.Fatalf("%s: unexpected decision %+v", tc.in.Name, got)
		}
	}
}

func TestClassifyFillsRecord(t *testing.T) {
	r := NewReconciler(nil, nil)
	rec := &pipeline.Record{
		Instrument: models.Instrument{StockCode: "102110", StockName: "TIGER 200"},
		Segment:    "KOSPI",
	}

	r.Classify(rec)

	if rec.Instrument.MarketType != models.MarketETF || rec.Instrument.AssetType != models.AssetETF {
		t.Fatalf("unexpected classification %+v", rec.Instrument)
	}
	if rec.Instrument.ExchangeSegment != "KOSPI" {
		t.Fatalf("exchange segment not kept: %q", rec.Instrument.ExchangeSegment)
	}
}

func TestClassifyRecordsFundListing(t *testing.T) {
	r := NewReconciler(nil, nil)
	rec := &pipeline.Record{
		Instrument: models.Instrument{StockCode: "0000Z0", StockName: "신규 상장지수"},
		FundHint:   true,
	}

	r.Classify(rec)

	if rec.Instrument.ExchangeSegment != models.MarketETF || !rec.Instrument.ListedAsFund() {
		t.Fatalf("fund listing not recorded: %+v", rec.Instrument)
	}
	if rec.Instrument.ClassifiedBy != models.ClassifiedByProvider {
		t.Fatalf("unexpected classification source %q", rec.Instrument.ClassifiedBy)
	}
}

func TestAdjustKeywords(t *testing.T) {
	got := AdjustKeywords([]string{"KODEX", "TIGER"}, []string{"BNK", "KODEX"}, []string{"TIGER"})
	if len(got) != 2 || got[0] != "KODEX" || got[1] != "BNK" {
		t.Fatalf("unexpected keywords %v", got)
	}

	r := NewReconciler(got, nil)
	if r.IsFund("TIGER 200", "") {
		t.Fatal("removed keyword still matches")
	}
	if !r.IsFund("BNK 주주가치액티브", "") {
		t.Fatal("added keyword does not match")
	}
}
