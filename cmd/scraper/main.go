package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jszwec/csvutil"
	log "github.com/sirupsen/logrus"

	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/config"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/currency"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/export"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/model"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/normalize"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/providers/wfp"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/quickcharts"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/store"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		run(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func run(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	countries := fs.String("countries", "", "comma-separated ISO3 list (empty = all)")
	dbPath := fs.String("db", "foodprices.db", "sqlite database path (empty disables persistence)")
	outDir := fs.String("out", "output", "output directory for CSV files")
	configPath := fs.String("config", "", "path to YAML config (empty = defaults)")
	strictDates := fs.Bool("strict-dates", false, "fail a country on an unparseable observation date instead of skipping the row")
	verbose := fs.Bool("verbose", false, "debug logging")
	fs.Parse(args)

	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded")
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if err := runScraper(*countries, *dbPath, *outDir, *configPath, *strictDates); err != nil {
		log.Errorf("scraper run failed: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: scraper run [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options:")
	fmt.Fprintln(os.Stderr, "  -countries     comma-separated ISO3 list (default: all)")
	fmt.Fprintln(os.Stderr, "  -db            sqlite database path (default: foodprices.db)")
	fmt.Fprintln(os.Stderr, "  -out           output directory (default: output)")
	fmt.Fprintln(os.Stderr, "  -config        path to YAML config")
	fmt.Fprintln(os.Stderr, "  -strict-dates  fail on unparseable observation dates")
	fmt.Fprintln(os.Stderr, "  -verbose       debug logging")
}

func runScraper(countriesCSV, dbPath, outDir, configPath string, strictDates bool) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	provider, err := wfp.New()
	if err != nil {
		return err
	}

	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	batchID := uuid.NewString()
	log.Infof("starting run %s", batchID)

	commodities, err := provider.Commodities(ctx)
	if err != nil {
		return err
	}
	commodityToCategory := make(map[int]string, len(commodities))
	for _, commodity := range commodities {
		commodityToCategory[commodity.CommodityID] = commodity.Category
	}
	if err := st.ReplaceCommodities(ctx, commodities); err != nil {
		return err
	}
	log.Infof("loaded %d commodities", len(commodities))

	rates, err := loadRates(ctx, provider)
	if err != nil {
		return err
	}

	overrides, err := loadSourceOverrides(ctx, provider, cfg.SourceOverridesURL)
	if err != nil {
		return err
	}
	regions, err := loadRegionMapping(ctx, provider, cfg.RegionMappingURL)
	if err != nil {
		return err
	}

	countries, err := selectCountries(ctx, provider, countriesCSV)
	if err != nil {
		return err
	}
	log.Infof("processing %d countries", len(countries))

	processed := 0
	skipped := 0
	for _, country := range countries {
		err := processCountry(ctx, provider, st, cfg, country, commodityToCategory, rates, overrides, regions, outDir, batchID, strictDates)
		if err != nil {
			if errors.Is(err, wfp.ErrNoData) || errors.Is(err, normalize.ErrNoPrices) {
				skipped++
				log.Infof("%s: no price data, skipping", country.ISO3)
				continue
			}
			return fmt.Errorf("%s: %w", country.ISO3, err)
		}
		processed++
	}

	log.Infof("run %s complete (processed=%d skipped=%d)", batchID, processed, skipped)
	return nil
}

func processCountry(
	ctx context.Context,
	provider *wfp.Provider,
	st store.Store,
	cfg *config.Config,
	country model.CountryInfo,
	commodityToCategory map[int]string,
	rates *currency.Table,
	overrides map[string]string,
	regions map[string]string,
	outDir, batchID string,
	strictDates bool,
) error {
	observations, err := provider.CountryObservations(ctx, country.ISO3)
	if err != nil {
		return err
	}
	markets, err := provider.CountryMarkets(ctx, country.ISO3)
	if err != nil {
		return err
	}

	normalizer := normalize.New(country.ISO3, commodityToCategory, cfg.CurrencyMappings, rates, strictDates)
	normalizer.AddMarkets(markets)
	result, err := normalizer.Normalize(observations)
	if err != nil {
		return err
	}
	records := result.SortedRecords()

	attribution := result.Sources.Line()
	if override, ok := overrides[country.ISO3]; ok {
		attribution = override
	}
	log.Infof("%s: source attribution: %s", country.ISO3, attribution)
	if region, ok := regions[country.ISO3]; ok {
		log.Infof("%s: dataviz showcase %s", country.ISO3, showcaseURL(region, country.ISO3))
	}

	scope := model.CountryScope(country.ISO3)
	pricesPath := filepath.Join(outDir, export.PricesFilename(scope, 0))
	if err := export.WriteCountryPrices(pricesPath, records); err != nil {
		return err
	}

	indicators := quickcharts.Select(result.Series, cfg.MaxIndicators)
	if len(indicators) > 0 {
		qcPath := filepath.Join(outDir, export.QCFilename(scope))
		if err := export.WriteQCRows(qcPath, quickcharts.Rows(indicators, export.FormatUSDPrice)); err != nil {
			return err
		}
	} else {
		log.Infof("%s: no series qualifies for visualization", country.ISO3)
	}

	startDate, endDate, err := dateBounds(records)
	if err != nil {
		return err
	}
	countryRow := model.Country{
		ISO3:      country.ISO3,
		StartDate: startDate,
		EndDate:   endDate,
		URL:       export.DatasetURL(export.DatasetName(scope, country.Name)),
	}

	prices := make([]store.PriceRow, 0, len(records))
	for _, record := range records {
		prices = append(prices, store.PriceRow{
			CountryISO3: country.ISO3,
			Date:        record.Date,
			MarketID:    record.MarketID,
			CommodityID: record.CommodityID,
			Unit:        record.Unit,
			PriceFlag:   record.PriceFlag,
			PriceType:   record.PriceType,
			Currency:    record.Currency,
			Price:       record.Price,
			USDPrice:    record.USDPrice,
		})
	}
	if err := st.ReplaceCountry(ctx, countryRow, result.Markets, prices); err != nil {
		return err
	}
	if err := st.RecordRun(ctx, batchID, country.ISO3); err != nil {
		return err
	}

	log.Infof("%s: wrote %d price rows, %d markets, %d indicators",
		country.ISO3, len(records), len(result.Markets), len(indicators))
	return nil
}

func openStore(path string) (store.Store, error) {
	if strings.TrimSpace(path) == "" {
		return &store.NopStore{}, nil
	}
	return sqlite.New(path)
}

func loadRates(ctx context.Context, provider *wfp.Provider) (*currency.Table, error) {
	codes, err := provider.Currencies(ctx)
	if err != nil {
		return nil, err
	}
	historic, err := provider.HistoricRates(ctx, codes)
	if err != nil {
		return nil, err
	}
	log.Infof("loaded exchange rates for %d currencies", len(historic))
	return currency.NewTable(historic, nil, false), nil
}

func selectCountries(ctx context.Context, provider *wfp.Provider, countriesCSV string) ([]model.CountryInfo, error) {
	all, err := provider.Countries(ctx)
	if err != nil {
		return nil, err
	}

	wanted := map[string]struct{}{}
	for _, iso3 := range strings.Split(countriesCSV, ",") {
		iso3 = strings.ToUpper(strings.TrimSpace(iso3))
		if iso3 != "" {
			wanted[iso3] = struct{}{}
		}
	}

	countries := make([]model.CountryInfo, 0, len(all))
	for _, country := range all {
		if len(wanted) > 0 {
			if _, ok := wanted[strings.ToUpper(country.ISO3)]; !ok {
				continue
			}
		}
		countries = append(countries, country)
	}
	if len(countries) == 0 {
		return nil, errors.New("no countries after filtering")
	}
	sort.Slice(countries, func(i, j int) bool { return countries[i].ISO3 < countries[j].ISO3 })
	return countries, nil
}

type sourceOverrideRow struct {
	CountryISO3 string `csv:"countryiso3"`
	Source      string `csv:"source"`
}

func loadSourceOverrides(ctx context.Context, provider *wfp.Provider, url string) (map[string]string, error) {
	overrides := map[string]string{}
	if url == "" {
		return overrides, nil
	}
	data, err := provider.FetchCSV(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("source overrides: %w", err)
	}
	var rows []sourceOverrideRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("source overrides: %w", err)
	}
	for _, row := range rows {
		iso3 := strings.ToUpper(strings.TrimSpace(row.CountryISO3))
		if iso3 != "" && row.Source != "" {
			overrides[iso3] = row.Source
		}
	}
	return overrides, nil
}

type regionMappingRow struct {
	ISO3   string `csv:"iso3"`
	Name   string `csv:"name"`
	Region string `csv:"region"`
}

func loadRegionMapping(ctx context.Context, provider *wfp.Provider, url string) (map[string]string, error) {
	regions := map[string]string{}
	if url == "" {
		return regions, nil
	}
	data, err := provider.FetchCSV(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("region mapping: %w", err)
	}
	var rows []regionMappingRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("region mapping: %w", err)
	}
	for _, row := range rows {
		iso3 := strings.ToUpper(strings.TrimSpace(row.ISO3))
		if iso3 != "" && row.Region != "" {
			regions[iso3] = row.Region
		}
	}
	return regions, nil
}

func showcaseURL(region, iso3 string) string {
	return fmt.Sprintf("https://dataviz.vam.wfp.org/%s/%s/overview", strings.ToLower(region), strings.ToLower(iso3))
}

func dateBounds(records []model.PriceRecord) (time.Time, time.Time, error) {
	var start, end time.Time
	for _, record := range records {
		date, err := time.Parse("2006-01-02", record.Date)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if start.IsZero() || date.Before(start) {
			start = date
		}
		if end.IsZero() || date.After(end) {
			end = date
		}
	}
	return start, end, nil
}
