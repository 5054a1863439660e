package rollup

import (
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/store"
)

// YearPartition holds one calendar year of the global price view. Empty
// years inside the covered range are kept so consumers can tell "no
// data for 2014" apart from "2014 was dropped".
type YearPartition struct {
	Year int
	Rows []store.GlobalPriceRow
}

// Rollup is the multi-year global output: year partitions newest first,
// a flat window of recent rows, and the distinct currency codes seen.
type Rollup struct {
	Partitions []YearPartition
	Recent     []store.GlobalPriceRow
	Currencies []string
	StartYear  int
	EndYear    int
}

// Builder partitions the joined global price view by year. MaxYears
// caps how many most-recent partitions are kept; FlatYears is the
// window of the flat recent view.
type Builder struct {
	MaxYears  int
	FlatYears int
}

func NewBuilder(maxYears, flatYears int) *Builder {
	if maxYears <= 0 {
		maxYears = 10
	}
	if flatYears <= 0 {
		flatYears = 5
	}
	return &Builder{MaxYears: maxYears, FlatYears: flatYears}
}

// Build partitions rows by year. Rows keep their input order inside
// each partition, so feeding rows in the canonical global ordering
// yields canonically ordered partitions.
func (b *Builder) Build(rows []store.GlobalPriceRow) *Rollup {
	rollup := &Rollup{}
	if len(rows) == 0 {
		return rollup
	}

	byYear := map[int][]store.GlobalPriceRow{}
	currencies := map[string]struct{}{}
	minYear, maxYear := 0, 0
	for _, row := range rows {
		year := rowYear(row)
		if year == 0 {
			log.Warnf("dropping global row with unparseable date %q", row.Date)
			continue
		}
		byYear[year] = append(byYear[year], row)
		currencies[row.Currency] = struct{}{}
		if minYear == 0 || year < minYear {
			minYear = year
		}
		if year > maxYear {
			maxYear = year
		}
	}
	if maxYear == 0 {
		return rollup
	}

	firstYear := minYear
	if span := maxYear - minYear + 1; span > b.MaxYears {
		firstYear = maxYear - b.MaxYears + 1
		for year := minYear; year < firstYear; year++ {
			log.Infof("dropping year %d from global output (%d rows, keeping %d most recent years)",
				year, len(byYear[year]), b.MaxYears)
		}
	}

	for year := maxYear; year >= firstYear; year-- {
		rollup.Partitions = append(rollup.Partitions, YearPartition{
			Year: year,
			Rows: byYear[year],
		})
	}

	flatFirst := maxYear - b.FlatYears + 1
	for _, partition := range rollup.Partitions {
		if partition.Year < flatFirst {
			break
		}
		rollup.Recent = append(rollup.Recent, partition.Rows...)
	}
	// Partitions run newest first but the flat view keeps the canonical
	// ordering, which sorts by country then date.
	sort.SliceStable(rollup.Recent, func(i, j int) bool {
		return globalLess(rollup.Recent[i], rollup.Recent[j])
	})

	for code := range currencies {
		rollup.Currencies = append(rollup.Currencies, code)
	}
	sort.Strings(rollup.Currencies)

	rollup.StartYear = firstYear
	rollup.EndYear = maxYear
	return rollup
}

func rowYear(row store.GlobalPriceRow) int {
	if len(row.Date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(row.Date[:4])
	if err != nil || year <= 0 {
		return 0
	}
	return year
}

func globalLess(a, b store.GlobalPriceRow) bool {
	if a.CountryISO3 != b.CountryISO3 {
		return a.CountryISO3 < b.CountryISO3
	}
	if a.PriceFlag != b.PriceFlag {
		return a.PriceFlag < b.PriceFlag
	}
	if a.Date != b.Date {
		return a.Date < b.Date
	}
	if a.Admin1 != b.Admin1 {
		return a.Admin1 < b.Admin1
	}
	if a.Admin2 != b.Admin2 {
		return a.Admin2 < b.Admin2
	}
	if a.Market != b.Market {
		return a.Market < b.Market
	}
	if a.Category != b.Category {
		return a.Category < b.Category
	}
	if a.Commodity != b.Commodity {
		return a.Commodity < b.Commodity
	}
	if a.Unit != b.Unit {
		return a.Unit < b.Unit
	}
	return a.PriceType < b.PriceType
}
