package rollup

import (
	"testing"

	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/store"
)

func row(iso3, date, currency string) store.GlobalPriceRow {
	return store.GlobalPriceRow{
		CountryISO3: iso3, Date: date, Market: "M", Category: "cereals and tubers",
		Commodity: "Maize", Unit: "KG", PriceFlag: "actual", PriceType: "Retail",
		Currency: currency, Price: 100,
	}
}

func TestBuildEmpty(t *testing.T) {
	result := NewBuilder(10, 5).Build(nil)
	if len(result.Partitions) != 0 || len(result.Recent) != 0 {
		t.Fatalf("want an empty rollup, got %+v", result)
	}
}

func TestBuildPartitionsNewestFirst(t *testing.T) {
	rows := []store.GlobalPriceRow{
		row("KEN", "2020-01-15", "KES"),
		row("KEN", "2022-01-15", "KES"),
		row("KEN", "2021-01-15", "KES"),
	}
	result := NewBuilder(10, 5).Build(rows)
	if len(result.Partitions) != 3 {
		t.Fatalf("got %d partitions, want 3", len(result.Partitions))
	}
	for i, year := range []int{2022, 2021, 2020} {
		if result.Partitions[i].Year != year {
			t.Fatalf("partition %d = %d, want %d", i, result.Partitions[i].Year, year)
		}
	}
	if result.StartYear != 2020 || result.EndYear != 2022 {
		t.Fatalf("bounds = %d-%d", result.StartYear, result.EndYear)
	}
}

func TestBuildKeepsEmptyYearsInRange(t *testing.T) {
	rows := []store.GlobalPriceRow{
		row("KEN", "2020-01-15", "KES"),
		row("KEN", "2022-01-15", "KES"),
	}
	result := NewBuilder(10, 5).Build(rows)
	if len(result.Partitions) != 3 {
		t.Fatalf("got %d partitions, want 3 including the empty 2021", len(result.Partitions))
	}
	if result.Partitions[1].Year != 2021 || len(result.Partitions[1].Rows) != 0 {
		t.Fatalf("partition 1 = %+v, want empty 2021", result.Partitions[1])
	}
}

func TestBuildCapsToMostRecentYears(t *testing.T) {
	rows := []store.GlobalPriceRow{
		row("KEN", "2015-01-15", "KES"),
		row("KEN", "2021-01-15", "KES"),
		row("KEN", "2022-01-15", "KES"),
	}
	result := NewBuilder(2, 5).Build(rows)
	if len(result.Partitions) != 2 {
		t.Fatalf("got %d partitions, want 2", len(result.Partitions))
	}
	if result.Partitions[0].Year != 2022 || result.Partitions[1].Year != 2021 {
		t.Fatalf("partitions = %+v", result.Partitions)
	}
	if result.StartYear != 2021 {
		t.Fatalf("start year = %d, want 2021 after the cap", result.StartYear)
	}
}

func TestBuildFlatRecentView(t *testing.T) {
	rows := []store.GlobalPriceRow{
		row("UGA", "2022-01-15", "UGX"),
		row("KEN", "2015-01-15", "KES"),
		row("KEN", "2021-01-15", "KES"),
		row("KEN", "2022-06-15", "KES"),
	}
	result := NewBuilder(10, 2).Build(rows)
	if len(result.Recent) != 3 {
		t.Fatalf("got %d recent rows, want 3 (2021-2022 only)", len(result.Recent))
	}
	// canonical ordering: by country, then date
	if result.Recent[0].CountryISO3 != "KEN" || result.Recent[0].Date != "2021-01-15" {
		t.Fatalf("recent[0] = %+v", result.Recent[0])
	}
	if result.Recent[2].CountryISO3 != "UGA" {
		t.Fatalf("recent[2] = %+v", result.Recent[2])
	}
}

func TestBuildCurrencies(t *testing.T) {
	rows := []store.GlobalPriceRow{
		row("UGA", "2022-01-15", "UGX"),
		row("KEN", "2022-01-15", "KES"),
		row("KEN", "2021-01-15", "KES"),
	}
	result := NewBuilder(10, 5).Build(rows)
	if len(result.Currencies) != 2 {
		t.Fatalf("got %v, want two distinct codes", result.Currencies)
	}
	if result.Currencies[0] != "KES" || result.Currencies[1] != "UGX" {
		t.Fatalf("got %v, want sorted codes", result.Currencies)
	}
}

func TestBuildDropsUnparseableDates(t *testing.T) {
	rows := []store.GlobalPriceRow{
		row("KEN", "2022-01-15", "KES"),
		row("KEN", "bad", "KES"),
	}
	result := NewBuilder(10, 5).Build(rows)
	if len(result.Partitions) != 1 || len(result.Partitions[0].Rows) != 1 {
		t.Fatalf("got %+v, want the bad-date row dropped", result.Partitions)
	}
}
