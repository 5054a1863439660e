package normalize

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/currency"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/model"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/sources"
)

// ErrNoPrices is returned when a country has no qualifying observations
// after price-flag filtering. Callers skip the country without touching
// the mirror.
var ErrNoPrices = errors.New("no qualifying price rows")

// ErrUnknownCommodity indicates an observation referencing a commodity
// id absent from the commodity/category mapping. The mapping is built
// from the full upstream commodity list before any country runs, so
// this is an inconsistent catalog snapshot and aborts the country.
var ErrUnknownCommodity = errors.New("commodity id not in category mapping")

// nationalAverage rows carry no market location; admin fields stay
// empty and no market is synthesized for them.
const nationalAverage = "National Average"

type marketAdm struct {
	admin1 string
	admin2 string
	lat    *float64
	lon    *float64
}

// Normalizer turns raw observations for one country into deduplicated
// price records. It is single-use: create one per country run.
type Normalizer struct {
	countryISO3         string
	commodityToCategory map[int]string
	currencyMappings    map[string]string
	rates               *currency.Table
	strictDates         bool

	marketToAdm map[int]marketAdm
	markets     []model.Market
}

func New(countryISO3 string, commodityToCategory map[int]string, currencyMappings map[string]string, rates *currency.Table, strictDates bool) *Normalizer {
	if currencyMappings == nil {
		currencyMappings = map[string]string{}
	}
	return &Normalizer{
		countryISO3:         countryISO3,
		commodityToCategory: commodityToCategory,
		currencyMappings:    currencyMappings,
		rates:               rates,
		strictDates:         strictDates,
		marketToAdm:         map[int]marketAdm{},
	}
}

// AddMarkets seeds the market lookup from the country's authoritative
// market catalog.
func (n *Normalizer) AddMarkets(catalog []model.Market) {
	for _, market := range catalog {
		n.marketToAdm[market.MarketID] = marketAdm{
			admin1: market.Admin1,
			admin2: market.Admin2,
			lat:    market.Latitude,
			lon:    market.Longitude,
		}
		n.markets = append(n.markets, market)
	}
}

// Result carries one country's normalized output.
type Result struct {
	Records map[model.PriceKey]model.PriceRecord
	Markets []model.Market
	Sources *sources.Set
	Series  map[model.MarketKey]map[model.SeriesKey][]model.DatedValue
}

// Normalize processes observations in input order: filters by price
// flag, resolves market metadata (synthesizing unknown markets once),
// consolidates attribution strings, converts to USD and emits one
// record per unique key, first seen wins.
func (n *Normalizer) Normalize(observations []model.RawObservation) (*Result, error) {
	result := &Result{
		Records: map[model.PriceKey]model.PriceRecord{},
		Sources: sources.NewSet(),
		Series:  map[model.MarketKey]map[model.SeriesKey][]model.DatedValue{},
	}

	for _, obs := range observations {
		if !flagAllowed(obs.PriceFlag) {
			continue
		}
		category, ok := n.commodityToCategory[obs.CommodityID]
		if !ok {
			return nil, fmt.Errorf("%w: commodity %d (%s)", ErrUnknownCommodity, obs.CommodityID, obs.Commodity)
		}

		var adm marketAdm
		if obs.MarketName != nationalAverage {
			adm, ok = n.marketToAdm[obs.MarketID]
			if !ok {
				adm = marketAdm{}
				n.marketToAdm[obs.MarketID] = adm
				n.markets = append(n.markets, model.Market{
					MarketID:    obs.MarketID,
					Market:      obs.MarketName,
					CountryISO3: n.countryISO3,
				})
			}
		}

		result.Sources.Consolidate(obs.Source)

		date, err := parseDate(obs.Date)
		if err != nil {
			if n.strictDates {
				return nil, fmt.Errorf("%s: bad observation date %q: %w", n.countryISO3, obs.Date, err)
			}
			log.Warnf("%s: skipping observation with bad date %q", n.countryISO3, obs.Date)
			continue
		}
		dateStr := date.Format("2006-01-02")

		code := obs.Currency
		if mapped, ok := n.currencyMappings[code]; ok {
			code = mapped
		}
		var usdPrice *float64
		if usd, ok := n.rates.Convert(obs.Price, code, date); ok {
			usd = round(usd, 4)
			usdPrice = &usd
		}
		price := round(obs.Price, 2)

		record := model.PriceRecord{
			Date:        dateStr,
			Admin1:      adm.admin1,
			Admin2:      adm.admin2,
			Market:      obs.MarketName,
			MarketID:    obs.MarketID,
			Latitude:    adm.lat,
			Longitude:   adm.lon,
			Category:    category,
			Commodity:   obs.Commodity,
			CommodityID: obs.CommodityID,
			Unit:        obs.Unit,
			PriceFlag:   obs.PriceFlag,
			PriceType:   obs.PriceType,
			Currency:    code,
			Price:       price,
			USDPrice:    usdPrice,
		}
		key := record.Key()
		if _, exists := result.Records[key]; !exists {
			result.Records[key] = record
		}

		if adm.admin1 != "" && adm.admin2 != "" && category != "" && usdPrice != nil && *usdPrice != 0 {
			marketKey := model.MarketKey{Admin1: adm.admin1, Admin2: adm.admin2, Market: obs.MarketName}
			seriesKey := model.SeriesKey{Commodity: obs.Commodity, Unit: obs.Unit, PriceType: obs.PriceType, Currency: code}
			series := result.Series[marketKey]
			if series == nil {
				series = map[model.SeriesKey][]model.DatedValue{}
				result.Series[marketKey] = series
			}
			series[seriesKey] = append(series[seriesKey], model.DatedValue{Date: dateStr, USDPrice: *usdPrice})
		}
	}

	result.Markets = n.markets
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("%s: %w", n.countryISO3, ErrNoPrices)
	}
	log.Infof("%s: %d unique price rows of price type actual or aggregate", n.countryISO3, len(result.Records))
	return result, nil
}

func flagAllowed(priceflag string) bool {
	for _, part := range strings.Split(priceflag, ",") {
		if part != "actual" && part != "aggregate" {
			return false
		}
	}
	return true
}

var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
	"2006/01/02",
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if date, err := time.Parse(layout, value); err == nil {
			return date, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

func round(value float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(value*scale) / scale
}

// SortedRecords returns the records in ascending key order.
func (r *Result) SortedRecords() []model.PriceRecord {
	keys := make([]model.PriceKey, 0, len(r.Records))
	for key := range r.Records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	records := make([]model.PriceRecord, 0, len(keys))
	for _, key := range keys {
		records = append(records, r.Records[key])
	}
	return records
}
