package model

import "time"

// RawObservation is one monthly price reading as returned by the WFP
// statistics API. Field names mirror the upstream JSON.
type RawObservation struct {
	PriceFlag   string  `json:"commodityPriceFlag"`
	Date        string  `json:"commodityPriceDate"`
	MarketID    int     `json:"marketID"`
	MarketName  string  `json:"marketName"`
	CommodityID int     `json:"commodityID"`
	Commodity   string  `json:"commodityName"`
	Unit        string  `json:"commodityUnitName"`
	PriceType   string  `json:"priceTypeName"`
	Currency    string  `json:"currencyName"`
	Price       float64 `json:"commodityPrice"`
	Source      string  `json:"commodityPriceSourceName"`
}

// Market is one market in a country's catalog. Markets synthesized
// from observations that reference an unknown market id have empty
// admin fields and nil coordinates.
type Market struct {
	MarketID    int
	Market      string
	CountryISO3 string
	Admin1      string
	Admin2      string
	Latitude    *float64
	Longitude   *float64
}

// Commodity is global, not per-country.
type Commodity struct {
	CommodityID int
	Category    string
	Commodity   string
}

type Country struct {
	ISO3      string
	StartDate time.Time
	EndDate   time.Time
	URL       string
}

// PriceKey is the 9-field dedup key for a normalized price record.
// At most one record exists per key per country per run.
type PriceKey struct {
	PriceFlag string
	Date      string // ISO yyyy-mm-dd, sorts chronologically
	Admin1    string
	Admin2    string
	Market    string
	Category  string
	Commodity string
	Unit      string
	PriceType string
}

// Less orders keys by their natural tuple ordering.
func (k PriceKey) Less(other PriceKey) bool {
	if k.PriceFlag != other.PriceFlag {
		return k.PriceFlag < other.PriceFlag
	}
	if k.Date != other.Date {
		return k.Date < other.Date
	}
	if k.Admin1 != other.Admin1 {
		return k.Admin1 < other.Admin1
	}
	if k.Admin2 != other.Admin2 {
		return k.Admin2 < other.Admin2
	}
	if k.Market != other.Market {
		return k.Market < other.Market
	}
	if k.Category != other.Category {
		return k.Category < other.Category
	}
	if k.Commodity != other.Commodity {
		return k.Commodity < other.Commodity
	}
	if k.Unit != other.Unit {
		return k.Unit < other.Unit
	}
	return k.PriceType < other.PriceType
}

// PriceRecord is one normalized price row. USDPrice is nil exactly
// when currency conversion failed; the record is otherwise complete.
type PriceRecord struct {
	Date        string
	Admin1      string
	Admin2      string
	Market      string
	MarketID    int
	Latitude    *float64
	Longitude   *float64
	Category    string
	Commodity   string
	CommodityID int
	Unit        string
	PriceFlag   string
	PriceType   string
	Currency    string
	Price       float64
	USDPrice    *float64
}

func (r PriceRecord) Key() PriceKey {
	return PriceKey{
		PriceFlag: r.PriceFlag,
		Date:      r.Date,
		Admin1:    r.Admin1,
		Admin2:    r.Admin2,
		Market:    r.Market,
		Category:  r.Category,
		Commodity: r.Commodity,
		Unit:      r.Unit,
		PriceType: r.PriceType,
	}
}

// MarketKey identifies a market for indicator selection.
type MarketKey struct {
	Admin1 string
	Admin2 string
	Market string
}

func (k MarketKey) Less(other MarketKey) bool {
	if k.Admin1 != other.Admin1 {
		return k.Admin1 < other.Admin1
	}
	if k.Admin2 != other.Admin2 {
		return k.Admin2 < other.Admin2
	}
	return k.Market < other.Market
}

// SeriesKey identifies one price series within a market.
type SeriesKey struct {
	Commodity string
	Unit      string
	PriceType string
	Currency  string
}

func (k SeriesKey) Less(other SeriesKey) bool {
	if k.Commodity != other.Commodity {
		return k.Commodity < other.Commodity
	}
	if k.Unit != other.Unit {
		return k.Unit < other.Unit
	}
	if k.PriceType != other.PriceType {
		return k.PriceType < other.PriceType
	}
	return k.Currency < other.Currency
}

// DatedValue is one (date, usd price) point in a series.
type DatedValue struct {
	Date     string
	USDPrice float64
}

// Indicator is a market/commodity series chosen to represent a
// country's data for visualization.
type Indicator struct {
	Code        string
	Title       string
	Unit        string
	Description string
	Series      []DatedValue
}

// CountryInfo is one entry from the upstream country list.
type CountryInfo struct {
	ISO3 string `json:"iso3"`
	Name string `json:"adm0_name"`
}

// Scope says whether an output covers one country or the whole
// dataset. The zero value is the global scope.
type Scope struct {
	iso3 string
}

func CountryScope(iso3 string) Scope {
	return Scope{iso3: iso3}
}

func GlobalScope() Scope {
	return Scope{}
}

func (s Scope) IsGlobal() bool {
	return s.iso3 == ""
}

func (s Scope) ISO3() string {
	return s.iso3
}
