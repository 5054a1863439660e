package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/config"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/export"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/model"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/rollup"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "build":
		build(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func build(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	dbPath := fs.String("db", "foodprices.db", "sqlite database path")
	outDir := fs.String("out", "output", "output directory for CSV files")
	configPath := fs.String("config", "", "path to YAML config (empty = defaults)")
	years := fs.Int("years", 0, "most-recent year partitions to keep (0 = config value)")
	flatYears := fs.Int("flat-years", 0, "years in the flat recent view (0 = config value)")
	verbose := fs.Bool("verbose", false, "debug logging")
	fs.Parse(args)

	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded")
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if err := runBuild(*dbPath, *outDir, *configPath, *years, *flatYears); err != nil {
		log.Errorf("global build failed: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: global build [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options:")
	fmt.Fprintln(os.Stderr, "  -db          sqlite database path (default: foodprices.db)")
	fmt.Fprintln(os.Stderr, "  -out         output directory (default: output)")
	fmt.Fprintln(os.Stderr, "  -config      path to YAML config")
	fmt.Fprintln(os.Stderr, "  -years       most-recent year partitions to keep")
	fmt.Fprintln(os.Stderr, "  -flat-years  years in the flat recent view")
	fmt.Fprintln(os.Stderr, "  -verbose     debug logging")
}

func runBuild(dbPath, outDir, configPath string, years, flatYears int) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if years <= 0 {
		years = cfg.RollupYears
	}
	if flatYears <= 0 {
		flatYears = cfg.FlatYears
	}

	st, err := sqlite.New(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	catalog, err := st.ReadCatalog(ctx)
	if err != nil {
		return err
	}
	if len(catalog.Countries) == 0 {
		return fmt.Errorf("mirror at %s holds no countries; run the scraper first", dbPath)
	}
	log.Infof("mirror covers %d countries, %s to %s",
		len(catalog.Countries),
		catalog.StartDate.Format("2006-01-02"),
		catalog.EndDate.Format("2006-01-02"))

	rows, err := st.GlobalPrices(ctx)
	if err != nil {
		return err
	}

	result := rollup.NewBuilder(years, flatYears).Build(rows)
	if len(result.Partitions) == 0 {
		return fmt.Errorf("mirror holds no price rows")
	}

	scope := model.GlobalScope()
	for _, partition := range result.Partitions {
		path := filepath.Join(outDir, export.PricesFilename(scope, partition.Year))
		if err := export.WriteGlobalPrices(path, partition.Rows); err != nil {
			return err
		}
		if len(partition.Rows) == 0 {
			log.Infof("year %d: no rows, wrote empty partition", partition.Year)
		} else {
			log.Infof("year %d: wrote %d rows", partition.Year, len(partition.Rows))
		}
	}

	flatPath := filepath.Join(outDir, export.PricesFilename(scope, 0))
	if err := export.WriteGlobalPrices(flatPath, result.Recent); err != nil {
		return err
	}
	log.Infof("flat view: wrote %d rows covering the last %d years", len(result.Recent), flatYears)

	if err := export.WriteCountries(filepath.Join(outDir, "wfp_countries_global.csv"), catalog.Countries); err != nil {
		return err
	}
	if err := export.WriteMarkets(filepath.Join(outDir, "wfp_markets_global.csv"), catalog.Markets); err != nil {
		return err
	}
	if err := export.WriteCommodities(filepath.Join(outDir, "wfp_commodities_global.csv"), catalog.Commodities); err != nil {
		return err
	}
	if err := export.WriteCurrencies(filepath.Join(outDir, "wfp_currencies_global.csv"), result.Currencies); err != nil {
		return err
	}

	log.Infof("global build complete (%d-%d, %d partitions, %d currencies)",
		result.StartYear, result.EndYear, len(result.Partitions), len(result.Currencies))
	return nil
}
