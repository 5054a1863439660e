package quickcharts

import (
	"fmt"
	"sort"

	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/model"
)

// MaxIndicators is the default visualization budget per country.
const MaxIndicators = 3

// Select greedily picks up to maxIndicators market/series pairs for
// visualization. Markets with more distinct series are preferred; each
// market contributes its longest series whose commodity has not been
// chosen for a prior market, falling back to its longest series
// outright when every commodity is already taken.
//
// Ties are broken by descending key order, matching the ranking the
// selection has always used; an empty result means no visualization is
// available, not an error.
func Select(series map[model.MarketKey]map[model.SeriesKey][]model.DatedValue, maxIndicators int) []model.Indicator {
	marketKeys := make([]model.MarketKey, 0, len(series))
	for key := range series {
		marketKeys = append(marketKeys, key)
	}
	sort.Slice(marketKeys, func(i, j int) bool {
		ci, cj := len(series[marketKeys[i]]), len(series[marketKeys[j]])
		if ci != cj {
			return ci > cj
		}
		return marketKeys[j].Less(marketKeys[i])
	})

	indicators := make([]model.Indicator, 0, maxIndicators)
	chosenCommodities := map[string]struct{}{}
	for _, marketKey := range marketKeys {
		bySeries := series[marketKey]
		seriesKeys := make([]model.SeriesKey, 0, len(bySeries))
		for key := range bySeries {
			seriesKeys = append(seriesKeys, key)
		}
		sort.Slice(seriesKeys, func(i, j int) bool {
			ci, cj := len(bySeries[seriesKeys[i]]), len(bySeries[seriesKeys[j]])
			if ci != cj {
				return ci > cj
			}
			return seriesKeys[j].Less(seriesKeys[i])
		})

		index := 0
		chosen := seriesKeys[index]
		for {
			if _, taken := chosenCommodities[chosen.Commodity]; !taken {
				break
			}
			index++
			if index == len(seriesKeys) {
				// last resort: reuse a commodity rather than skip the market
				chosen = seriesKeys[0]
				break
			}
			chosen = seriesKeys[index]
		}
		chosenCommodities[chosen.Commodity] = struct{}{}

		points := append([]model.DatedValue(nil), bySeries[chosen]...)
		sort.Slice(points, func(i, j int) bool {
			if points[i].Date != points[j].Date {
				return points[i].Date < points[j].Date
			}
			return points[i].USDPrice < points[j].USDPrice
		})

		marketName := marketKey.Market
		if marketKey.Admin2 != marketKey.Market {
			marketName = fmt.Sprintf("%s/%s", marketKey.Admin2, marketName)
		}
		if marketKey.Admin1 != marketKey.Admin2 {
			marketName = fmt.Sprintf("%s/%s", marketKey.Admin1, marketName)
		}

		indicators = append(indicators, model.Indicator{
			Code: fmt.Sprintf("%s-%s-%s-%s-%s-%s-%s",
				marketKey.Admin1, marketKey.Admin2, marketKey.Market,
				chosen.Commodity, chosen.Unit, chosen.PriceType, chosen.Currency),
			Title:       fmt.Sprintf("Price of %s in %s", chosen.Commodity, marketKey.Market),
			Unit:        "US Dollars ($)",
			Description: fmt.Sprintf("Price of %s ($/%s) in %s", chosen.Commodity, chosen.Unit, marketName),
			Series:      points,
		})
		if len(indicators) == maxIndicators {
			break
		}
	}
	return indicators
}

// Row is one line of the QuickCharts resource stream.
type Row struct {
	Date     string `csv:"date"`
	Code     string `csv:"code"`
	USDPrice string `csv:"usdprice"`
}

// Rows flattens the indicators into the QuickCharts row stream,
// chronological within each indicator.
func Rows(indicators []model.Indicator, formatUSD func(float64) string) []Row {
	var rows []Row
	for _, indicator := range indicators {
		for _, point := range indicator.Series {
			rows = append(rows, Row{
				Date:     point.Date,
				Code:     indicator.Code,
				USDPrice: formatUSD(point.USDPrice),
			})
		}
	}
	return rows
}
