package normalize

import (
	"errors"
	"testing"

	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/currency"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/model"
)

var testCategories = map[int]string{
	1: "cereals and tubers",
	2: "pulses and nuts",
}

func testRates() *currency.Table {
	return currency.NewTable(map[string]map[string]float64{
		"KES": {"2020-01": 100, "2020-02": 100},
	}, nil, false)
}

func testMarkets() []model.Market {
	lat, lon := -1.28, 36.82
	return []model.Market{
		{MarketID: 10, Market: "Nairobi", CountryISO3: "KEN", Admin1: "Nairobi Area", Admin2: "Nairobi", Latitude: &lat, Longitude: &lon},
	}
}

func observation(overrides func(*model.RawObservation)) model.RawObservation {
	obs := model.RawObservation{
		PriceFlag:   "actual",
		Date:        "2020-01-15T00:00:00",
		MarketID:    10,
		MarketName:  "Nairobi",
		CommodityID: 1,
		Commodity:   "Maize",
		Unit:        "KG",
		PriceType:   "Retail",
		Currency:    "KES",
		Price:       250,
		Source:      "Ministry of Agriculture",
	}
	if overrides != nil {
		overrides(&obs)
	}
	return obs
}

func newTestNormalizer(strictDates bool) *Normalizer {
	n := New("KEN", testCategories, nil, testRates(), strictDates)
	n.AddMarkets(testMarkets())
	return n
}

func TestNormalizeBasic(t *testing.T) {
	n := newTestNormalizer(false)
	result, err := n.Normalize([]model.RawObservation{observation(nil)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(result.Records))
	}
	record := result.SortedRecords()[0]
	if record.Date != "2020-01-15" {
		t.Errorf("date = %q, want 2020-01-15", record.Date)
	}
	if record.Admin1 != "Nairobi Area" || record.Admin2 != "Nairobi" {
		t.Errorf("admin = %q/%q, want catalog values", record.Admin1, record.Admin2)
	}
	if record.Category != "cereals and tubers" {
		t.Errorf("category = %q", record.Category)
	}
	if record.Price != 250 {
		t.Errorf("price = %v, want 250", record.Price)
	}
	if record.USDPrice == nil || *record.USDPrice != 2.5 {
		t.Errorf("usdprice = %v, want 2.5", record.USDPrice)
	}
}

func TestNormalizePriceFlagFilter(t *testing.T) {
	n := newTestNormalizer(false)
	observations := []model.RawObservation{
		observation(func(o *model.RawObservation) { o.PriceFlag = "forecast" }),
		observation(func(o *model.RawObservation) { o.PriceFlag = "actual,forecast" }),
		observation(func(o *model.RawObservation) { o.PriceFlag = "actual,aggregate" }),
		observation(func(o *model.RawObservation) { o.PriceFlag = "aggregate"; o.Date = "2020-02-15T00:00:00" }),
	}
	result, err := n.Normalize(observations)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("got %d records, want 2 (only all-actual/aggregate flags pass)", len(result.Records))
	}
}

func TestNormalizeFirstSeenWins(t *testing.T) {
	n := newTestNormalizer(false)
	observations := []model.RawObservation{
		observation(func(o *model.RawObservation) { o.Price = 100 }),
		observation(func(o *model.RawObservation) { o.Price = 999 }),
	}
	result, err := n.Normalize(observations)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(result.Records))
	}
	if record := result.SortedRecords()[0]; record.Price != 100 {
		t.Fatalf("price = %v, want the first-seen 100", record.Price)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	observations := []model.RawObservation{
		observation(nil),
		observation(func(o *model.RawObservation) { o.Date = "2020-02-15T00:00:00" }),
	}

	once, err := newTestNormalizer(false).Normalize(observations)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doubled := append(append([]model.RawObservation{}, observations...), observations...)
	twice, err := newTestNormalizer(false).Normalize(doubled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(once.Records) != len(twice.Records) {
		t.Fatalf("got %d vs %d records, want the same set either way", len(once.Records), len(twice.Records))
	}
	for key, record := range once.Records {
		other, ok := twice.Records[key]
		if !ok {
			t.Fatalf("key %+v missing from doubled pass", key)
		}
		if other.Price != record.Price {
			t.Fatalf("price mismatch for %+v", key)
		}
	}
}

func TestNormalizeUnknownMarketSynthesizedOnce(t *testing.T) {
	n := newTestNormalizer(false)
	observations := []model.RawObservation{
		observation(func(o *model.RawObservation) { o.MarketID = 99; o.MarketName = "Mandera" }),
		observation(func(o *model.RawObservation) {
			o.MarketID = 99
			o.MarketName = "Mandera"
			o.Date = "2020-02-15T00:00:00"
		}),
	}
	result, err := n.Normalize(observations)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	synthesized := 0
	for _, market := range result.Markets {
		if market.MarketID == 99 {
			synthesized++
			if market.Admin1 != "" || market.Admin2 != "" || market.Latitude != nil || market.Longitude != nil {
				t.Error("synthesized market must have empty admin fields and nil coordinates")
			}
		}
	}
	if synthesized != 1 {
		t.Fatalf("market 99 synthesized %d times, want once", synthesized)
	}
	for _, record := range result.SortedRecords() {
		if record.Admin1 != "" || record.Admin2 != "" {
			t.Error("records for an unknown market must have empty admin fields")
		}
	}
}

func TestNormalizeNationalAverage(t *testing.T) {
	n := newTestNormalizer(false)
	result, err := n.Normalize([]model.RawObservation{
		observation(func(o *model.RawObservation) { o.MarketID = 0; o.MarketName = "National Average" }),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	record := result.SortedRecords()[0]
	if record.Admin1 != "" || record.Admin2 != "" || record.Latitude != nil {
		t.Error("national average rows carry no location")
	}
	for _, market := range result.Markets {
		if market.Market == "National Average" {
			t.Error("no market may be synthesized for national average rows")
		}
	}
}

func TestNormalizeUnknownCommodity(t *testing.T) {
	n := newTestNormalizer(false)
	_, err := n.Normalize([]model.RawObservation{
		observation(func(o *model.RawObservation) { o.CommodityID = 42 }),
	})
	if !errors.Is(err, ErrUnknownCommodity) {
		t.Fatalf("got %v, want ErrUnknownCommodity", err)
	}
}

func TestNormalizeNoPrices(t *testing.T) {
	n := newTestNormalizer(false)
	_, err := n.Normalize([]model.RawObservation{
		observation(func(o *model.RawObservation) { o.PriceFlag = "forecast" }),
	})
	if !errors.Is(err, ErrNoPrices) {
		t.Fatalf("got %v, want ErrNoPrices", err)
	}
}

func TestNormalizeBadDate(t *testing.T) {
	n := newTestNormalizer(false)
	observations := []model.RawObservation{
		observation(func(o *model.RawObservation) { o.Date = "not-a-date" }),
		observation(nil),
	}
	result, err := n.Normalize(observations)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d records, want the bad-date row skipped", len(result.Records))
	}

	strict := newTestNormalizer(true)
	if _, err := strict.Normalize(observations); err == nil {
		t.Fatal("want an error in strict mode")
	}
}

func TestNormalizeUnknownCurrencyKeepsRecord(t *testing.T) {
	n := newTestNormalizer(false)
	result, err := n.Normalize([]model.RawObservation{
		observation(func(o *model.RawObservation) { o.Currency = "XXX" }),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	record := result.SortedRecords()[0]
	if record.USDPrice != nil {
		t.Fatal("usdprice must be nil when conversion fails")
	}
	if len(result.Series) != 0 {
		t.Fatal("records without a usd price must not enter any series")
	}
}

func TestNormalizeCurrencyMapping(t *testing.T) {
	n := New("KEN", testCategories, map[string]string{"Kenyan Shilling": "KES"}, testRates(), false)
	n.AddMarkets(testMarkets())
	result, err := n.Normalize([]model.RawObservation{
		observation(func(o *model.RawObservation) { o.Currency = "Kenyan Shilling" }),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	record := result.SortedRecords()[0]
	if record.Currency != "KES" {
		t.Errorf("currency = %q, want the mapped KES", record.Currency)
	}
	if record.USDPrice == nil {
		t.Error("want conversion through the mapped code")
	}
}

func TestNormalizeRounding(t *testing.T) {
	n := newTestNormalizer(false)
	result, err := n.Normalize([]model.RawObservation{
		observation(func(o *model.RawObservation) { o.Price = 123.456789 }),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	record := result.SortedRecords()[0]
	if record.Price != 123.46 {
		t.Errorf("price = %v, want rounded to 2 decimals", record.Price)
	}
	if record.USDPrice == nil || *record.USDPrice != 1.2346 {
		t.Errorf("usdprice = %v, want rounded to 4 decimals", record.USDPrice)
	}
}

func TestNormalizeSeriesAccumulation(t *testing.T) {
	n := newTestNormalizer(false)
	observations := []model.RawObservation{
		observation(nil),
		observation(func(o *model.RawObservation) { o.Date = "2020-02-15T00:00:00" }),
		// unknown market: empty admins keep it out of the series
		observation(func(o *model.RawObservation) { o.MarketID = 99; o.MarketName = "Mandera" }),
	}
	result, err := n.Normalize(observations)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Series) != 1 {
		t.Fatalf("got %d market series, want 1", len(result.Series))
	}
	marketKey := model.MarketKey{Admin1: "Nairobi Area", Admin2: "Nairobi", Market: "Nairobi"}
	seriesKey := model.SeriesKey{Commodity: "Maize", Unit: "KG", PriceType: "Retail", Currency: "KES"}
	points := result.Series[marketKey][seriesKey]
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}
}

func TestSortedRecordsOrder(t *testing.T) {
	n := newTestNormalizer(false)
	observations := []model.RawObservation{
		observation(func(o *model.RawObservation) { o.Date = "2020-02-15T00:00:00" }),
		observation(nil),
		observation(func(o *model.RawObservation) { o.Commodity = "Beans"; o.CommodityID = 2 }),
	}
	result, err := n.Normalize(observations)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	records := result.SortedRecords()
	for i := 1; i < len(records); i++ {
		if records[i].Key().Less(records[i-1].Key()) {
			t.Fatalf("records out of order at %d", i)
		}
	}
}
