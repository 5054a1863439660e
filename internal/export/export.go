package export

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/model"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/quickcharts"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/store"
)

// HXLTags maps each output column to its humanitarian-data tag. The
// mapping is one-to-one and stable across runs.
var HXLTags = map[string]string{
	"date":         "#date",
	"countryiso3":  "#country+code",
	"admin1":       "#adm1+name",
	"admin2":       "#adm2+name",
	"market_id":    "#loc+market+code",
	"market":       "#loc+market+name",
	"latitude":     "#geo+lat",
	"longitude":    "#geo+lon",
	"category":     "#item+type",
	"commodity_id": "#item+code",
	"commodity":    "#item+name",
	"unit":         "#item+unit",
	"priceflag":    "#item+price+flag",
	"pricetype":    "#item+price+type",
	"currency":     "#currency",
	"price":        "#value",
	"usdprice":     "#value+usd",
	"url":          "#country+url",
	"start_date":   "#date+start",
	"end_date":     "#date+end",
	"code":         "#meta+code",
}

// FormatPrice renders a local-currency price with two decimals.
func FormatPrice(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

// FormatUSDPrice renders a usd price with two decimals, re-rendered at
// two significant figures when the two-decimal form has fewer than two
// significant digits, with trailing zeros and a trailing point
// stripped.
func FormatUSDPrice(value float64) string {
	formatted := strconv.FormatFloat(value, 'f', 2, 64)
	if significantDigits(formatted) < 2 {
		formatted = roundSigfigs(value, 2)
	}
	// only fractional zeros may be stripped: "100" must stay "100"
	if strings.Contains(formatted, ".") {
		formatted = strings.TrimRight(formatted, "0")
		formatted = strings.TrimRight(formatted, ".")
	}
	return formatted
}

func significantDigits(value string) int {
	count := 0
	for _, digit := range value {
		if digit >= '1' && digit <= '9' {
			count++
		}
	}
	return count
}

func roundSigfigs(value float64, sigfigs int) string {
	if value == 0 {
		return "0.00"
	}
	exponent := int(math.Floor(math.Log10(math.Abs(value))))
	decimals := sigfigs - 1 - exponent
	if decimals < 0 {
		scale := math.Pow(10, float64(-decimals))
		return strconv.FormatFloat(math.Round(value/scale)*scale, 'f', 0, 64)
	}
	return strconv.FormatFloat(value, 'f', decimals, 64)
}

// FormatCoord renders a latitude or longitude, empty when unknown.
func FormatCoord(value *float64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatFloat(*value, 'f', -1, 64)
}

func formatOptionalUSD(value *float64) string {
	if value == nil {
		return ""
	}
	return FormatUSDPrice(*value)
}

// Slugify lowercases and hyphenates a name the way the publishing
// platform does.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// DatasetName returns the slugified dataset name for a scope.
func DatasetName(scope model.Scope, countryName string) string {
	if scope.IsGlobal() {
		return Slugify("Global WFP food prices")
	}
	return Slugify(fmt.Sprintf("WFP food prices for %s", countryName))
}

// DatasetURL is the canonical URL of a published dataset.
func DatasetURL(name string) string {
	return "https://data.humdata.org/dataset/" + name
}

// PricesFilename names a per-scope prices file; year > 0 selects a
// global year partition.
func PricesFilename(scope model.Scope, year int) string {
	if scope.IsGlobal() {
		if year > 0 {
			return fmt.Sprintf("wfp_food_prices_global_%d.csv", year)
		}
		return "wfp_food_prices_global.csv"
	}
	return fmt.Sprintf("wfp_food_prices_%s.csv", strings.ToLower(scope.ISO3()))
}

// QCFilename names the QuickCharts companion file for a country.
func QCFilename(scope model.Scope) string {
	return fmt.Sprintf("wfp_food_prices_%s_qc.csv", strings.ToLower(scope.ISO3()))
}

type priceCSVRow struct {
	Date      string `csv:"date"`
	Admin1    string `csv:"admin1"`
	Admin2    string `csv:"admin2"`
	Market    string `csv:"market"`
	Latitude  string `csv:"latitude"`
	Longitude string `csv:"longitude"`
	Category  string `csv:"category"`
	Commodity string `csv:"commodity"`
	Unit      string `csv:"unit"`
	PriceFlag string `csv:"priceflag"`
	PriceType string `csv:"pricetype"`
	Currency  string `csv:"currency"`
	Price     string `csv:"price"`
	USDPrice  string `csv:"usdprice"`
}

type globalPriceCSVRow struct {
	CountryISO3 string `csv:"countryiso3"`
	priceCSVRow
}

type countryCSVRow struct {
	CountryISO3 string `csv:"countryiso3"`
	URL         string `csv:"url"`
	StartDate   string `csv:"start_date"`
	EndDate     string `csv:"end_date"`
}

type marketCSVRow struct {
	MarketID    int    `csv:"market_id"`
	Market      string `csv:"market"`
	CountryISO3 string `csv:"countryiso3"`
	Admin1      string `csv:"admin1"`
	Admin2      string `csv:"admin2"`
	Latitude    string `csv:"latitude"`
	Longitude   string `csv:"longitude"`
}

type commodityCSVRow struct {
	CommodityID int    `csv:"commodity_id"`
	Category    string `csv:"category"`
	Commodity   string `csv:"commodity"`
}

type currencyCSVRow struct {
	Currency string `csv:"currency"`
}

// WriteCountryPrices writes a country's normalized price rows, already
// in ascending key order, with the HXL tag row under the header.
func WriteCountryPrices(path string, records []model.PriceRecord) error {
	rows := make([]priceCSVRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, toPriceCSVRow(record))
	}
	return writeCSV(path, priceCSVRow{}, rows)
}

func toPriceCSVRow(record model.PriceRecord) priceCSVRow {
	return priceCSVRow{
		Date:      record.Date,
		Admin1:    record.Admin1,
		Admin2:    record.Admin2,
		Market:    record.Market,
		Latitude:  FormatCoord(record.Latitude),
		Longitude: FormatCoord(record.Longitude),
		Category:  record.Category,
		Commodity: record.Commodity,
		Unit:      record.Unit,
		PriceFlag: record.PriceFlag,
		PriceType: record.PriceType,
		Currency:  record.Currency,
		Price:     FormatPrice(record.Price),
		USDPrice:  formatOptionalUSD(record.USDPrice),
	}
}

// WriteQCRows writes the QuickCharts row stream for a country.
func WriteQCRows(path string, rows []quickcharts.Row) error {
	return writeCSV(path, quickcharts.Row{}, rows)
}

// WriteGlobalPrices writes one (possibly year-partitioned) global
// prices file.
func WriteGlobalPrices(path string, rows []store.GlobalPriceRow) error {
	out := make([]globalPriceCSVRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, globalPriceCSVRow{
			CountryISO3: row.CountryISO3,
			priceCSVRow: priceCSVRow{
				Date:      row.Date,
				Admin1:    row.Admin1,
				Admin2:    row.Admin2,
				Market:    row.Market,
				Latitude:  FormatCoord(row.Latitude),
				Longitude: FormatCoord(row.Longitude),
				Category:  row.Category,
				Commodity: row.Commodity,
				Unit:      row.Unit,
				PriceFlag: row.PriceFlag,
				PriceType: row.PriceType,
				Currency:  row.Currency,
				Price:     FormatPrice(row.Price),
				USDPrice:  formatOptionalUSD(row.USDPrice),
			},
		})
	}
	return writeCSV(path, globalPriceCSVRow{}, out)
}

// WriteCountries writes the global countries table.
func WriteCountries(path string, countries []model.Country) error {
	rows := make([]countryCSVRow, 0, len(countries))
	for _, country := range countries {
		rows = append(rows, countryCSVRow{
			CountryISO3: country.ISO3,
			URL:         country.URL,
			StartDate:   country.StartDate.Format("2006-01-02"),
			EndDate:     country.EndDate.Format("2006-01-02"),
		})
	}
	return writeCSV(path, countryCSVRow{}, rows)
}

// WriteMarkets writes the global markets table.
func WriteMarkets(path string, markets []model.Market) error {
	rows := make([]marketCSVRow, 0, len(markets))
	for _, market := range markets {
		rows = append(rows, marketCSVRow{
			MarketID:    market.MarketID,
			Market:      market.Market,
			CountryISO3: market.CountryISO3,
			Admin1:      market.Admin1,
			Admin2:      market.Admin2,
			Latitude:    FormatCoord(market.Latitude),
			Longitude:   FormatCoord(market.Longitude),
		})
	}
	return writeCSV(path, marketCSVRow{}, rows)
}

// WriteCommodities writes the global commodities table.
func WriteCommodities(path string, commodities []model.Commodity) error {
	rows := make([]commodityCSVRow, 0, len(commodities))
	for _, commodity := range commodities {
		rows = append(rows, commodityCSVRow{
			CommodityID: commodity.CommodityID,
			Category:    commodity.Category,
			Commodity:   commodity.Commodity,
		})
	}
	return writeCSV(path, commodityCSVRow{}, rows)
}

// WriteCurrencies writes the global currencies table.
func WriteCurrencies(path string, codes []string) error {
	rows := make([]currencyCSVRow, 0, len(codes))
	for _, code := range codes {
		rows = append(rows, currencyCSVRow{Currency: code})
	}
	return writeCSV(path, currencyCSVRow{}, rows)
}

// writeCSV writes a header row, the matching HXL tag row, then the
// data rows.
func writeCSV[T any](path string, header T, rows []T) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	encoder := csvutil.NewEncoder(writer)
	if err := encoder.EncodeHeader(header); err != nil {
		return err
	}
	names, err := headerNames(header)
	if err != nil {
		return err
	}
	if err := writer.Write(tagRow(names)); err != nil {
		return err
	}
	for i := range rows {
		if err := encoder.Encode(rows[i]); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func headerNames(row any) ([]string, error) {
	return csvutil.Header(row, "csv")
}

func tagRow(headers []string) []string {
	tags := make([]string, len(headers))
	for i, header := range headers {
		tags[i] = HXLTags[header]
	}
	return tags
}
