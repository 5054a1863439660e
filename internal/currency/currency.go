package currency

import (
	"math"
	"strings"
	"time"
)

// Table holds exchange rates (local currency units per USD) supplied by
// an external rate source. Historic rates are bucketed by calendar
// month. The table is an explicit value; nothing here is cached at
// package level.
type Table struct {
	historic                  map[string]map[string]float64 // code -> yyyy-mm -> rate
	current                   map[string]float64
	fallbackHistoricToCurrent bool
}

func NewTable(historic map[string]map[string]float64, current map[string]float64, fallbackHistoricToCurrent bool) *Table {
	if historic == nil {
		historic = map[string]map[string]float64{}
	}
	if current == nil {
		current = map[string]float64{}
	}
	return &Table{
		historic:                  historic,
		current:                   current,
		fallbackHistoricToCurrent: fallbackHistoricToCurrent,
	}
}

func monthBucket(date time.Time) string {
	return date.Format("2006-01")
}

// Rate returns the rate for code at date, falling back from historic to
// current when configured. The second return is false when the currency
// is unknown.
func (t *Table) Rate(code string, date time.Time) (float64, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if months, ok := t.historic[code]; ok {
		if rate, ok := months[monthBucket(date)]; ok {
			return rate, true
		}
	}
	if !t.fallbackHistoricToCurrent {
		return 0, false
	}
	rate, ok := t.current[code]
	return rate, ok
}

// Convert converts price in the given currency to USD. It returns
// ok=false instead of an error when the currency is unknown, the rate
// is zero, or the price is not a finite non-negative number; callers
// keep such records with a null usd price.
func (t *Table) Convert(price float64, code string, date time.Time) (float64, bool) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return 0, false
	}
	rate, ok := t.Rate(code, date)
	if !ok || rate == 0 {
		return 0, false
	}
	return price / rate, true
}

// Currencies returns the distinct currency codes known to the table.
func (t *Table) Currencies() []string {
	seen := make(map[string]struct{}, len(t.historic)+len(t.current))
	for code := range t.historic {
		seen[code] = struct{}{}
	}
	for code := range t.current {
		seen[code] = struct{}{}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	return codes
}
