package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/model"
)

func TestFormatUSDPrice(t *testing.T) {
	cases := []struct {
		value float64
		want  string
	}{
		{100, "100"},
		{10, "10"},
		{2000, "2000"},
		{123.456, "123.46"},
		{0.1, "0.1"},
		{0.123, "0.12"},
		{0.000123, "0.00012"},
		{0.05, "0.05"},
		{2.5, "2.5"},
		{0, "0"},
	}
	for _, c := range cases {
		if got := FormatUSDPrice(c.value); got != c.want {
			t.Errorf("FormatUSDPrice(%v) = %q, want %q", c.value, got, c.want)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice(250); got != "250.00" {
		t.Errorf("FormatPrice(250) = %q, want 250.00", got)
	}
	if got := FormatPrice(123.456); got != "123.46" {
		t.Errorf("FormatPrice(123.456) = %q, want 123.46", got)
	}
}

func TestFormatCoord(t *testing.T) {
	if got := FormatCoord(nil); got != "" {
		t.Errorf("FormatCoord(nil) = %q, want empty", got)
	}
	v := -1.28
	if got := FormatCoord(&v); got != "-1.28" {
		t.Errorf("FormatCoord(-1.28) = %q", got)
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"WFP food prices for Kenya", "wfp-food-prices-for-kenya"},
		{"Côte d'Ivoire", "c-te-d-ivoire"},
		{"  spaces  ", "spaces"},
	}
	for _, c := range cases {
		if got := Slugify(c.in); got != c.want {
			t.Errorf("Slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDatasetName(t *testing.T) {
	if got := DatasetName(model.CountryScope("KEN"), "Kenya"); got != "wfp-food-prices-for-kenya" {
		t.Errorf("got %q", got)
	}
	if got := DatasetName(model.GlobalScope(), ""); got != "global-wfp-food-prices" {
		t.Errorf("got %q", got)
	}
}

func TestPricesFilename(t *testing.T) {
	if got := PricesFilename(model.CountryScope("KEN"), 0); got != "wfp_food_prices_ken.csv" {
		t.Errorf("got %q", got)
	}
	if got := PricesFilename(model.GlobalScope(), 0); got != "wfp_food_prices_global.csv" {
		t.Errorf("got %q", got)
	}
	if got := PricesFilename(model.GlobalScope(), 2023); got != "wfp_food_prices_global_2023.csv" {
		t.Errorf("got %q", got)
	}
	if got := QCFilename(model.CountryScope("KEN")); got != "wfp_food_prices_ken_qc.csv" {
		t.Errorf("got %q", got)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return rows
}

func TestWriteCountryPricesHeaderAndTags(t *testing.T) {
	usd := 2.5
	records := []model.PriceRecord{{
		Date: "2020-01-15", Admin1: "Nairobi Area", Admin2: "Nairobi", Market: "Nairobi",
		Category: "cereals and tubers", Commodity: "Maize", Unit: "KG",
		PriceFlag: "actual", PriceType: "Retail", Currency: "KES",
		Price: 250, USDPrice: &usd,
	}}
	path := filepath.Join(t.TempDir(), "prices.csv")
	if err := WriteCountryPrices(path, records); err != nil {
		t.Fatalf("write: %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + tags + 1 record", len(rows))
	}
	wantHeader := []string{
		"date", "admin1", "admin2", "market", "latitude", "longitude",
		"category", "commodity", "unit", "priceflag", "pricetype",
		"currency", "price", "usdprice",
	}
	for i, name := range wantHeader {
		if rows[0][i] != name {
			t.Fatalf("header[%d] = %q, want %q", i, rows[0][i], name)
		}
	}
	if rows[1][0] != "#date" || rows[1][13] != "#value+usd" {
		t.Fatalf("tag row = %v", rows[1])
	}
	if rows[2][12] != "250.00" || rows[2][13] != "2.5" {
		t.Fatalf("data row = %v", rows[2])
	}
	if rows[2][4] != "" {
		t.Fatalf("latitude = %q, want empty for nil coordinate", rows[2][4])
	}
}

func TestWriteGlobalPricesPrependsCountry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.csv")
	if err := WriteGlobalPrices(path, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows := readCSV(t, path)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header + tags for an empty partition", len(rows))
	}
	if rows[0][0] != "countryiso3" || rows[0][1] != "date" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][0] != "#country+code" {
		t.Fatalf("tag row = %v", rows[1])
	}
}
