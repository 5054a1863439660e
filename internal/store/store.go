package store

import (
	"context"
	"time"

	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/model"
)

// PriceRow is one price-history row as persisted in the mirror.
type PriceRow struct {
	CountryISO3 string
	Date        string
	MarketID    int
	CommodityID int
	Unit        string
	PriceFlag   string
	PriceType   string
	Currency    string
	Price       float64
	USDPrice    *float64
}

// GlobalPriceRow is one row of the joined price view read back for the
// global rollup.
type GlobalPriceRow struct {
	CountryISO3 string
	Date        string
	Admin1      string
	Admin2      string
	Market      string
	Latitude    *float64
	Longitude   *float64
	Category    string
	Commodity   string
	Unit        string
	PriceFlag   string
	PriceType   string
	Currency    string
	Price       float64
	USDPrice    *float64
}

// Catalog is everything the mirror holds besides price history, plus
// the derived global time bounds.
type Catalog struct {
	Countries   []model.Country
	Markets     []model.Market
	Commodities []model.Commodity
	StartDate   time.Time
	EndDate     time.Time
}

// Store is the catalog mirror. Replace operations are transactional
// delete-then-insert: repeated runs converge to the latest successful
// run's output and never accumulate stale rows.
type Store interface {
	ReplaceCommodities(ctx context.Context, commodities []model.Commodity) error
	ReplaceCountry(ctx context.Context, country model.Country, markets []model.Market, prices []PriceRow) error
	RecordRun(ctx context.Context, batchID, countryISO3 string) error
	ReadCatalog(ctx context.Context) (*Catalog, error)
	GlobalPrices(ctx context.Context) ([]GlobalPriceRow, error)
	Close() error
}

// NopStore disables persistence.
type NopStore struct{}

func (s *NopStore) ReplaceCommodities(ctx context.Context, commodities []model.Commodity) error {
	_ = ctx
	_ = commodities
	return nil
}

func (s *NopStore) ReplaceCountry(ctx context.Context, country model.Country, markets []model.Market, prices []PriceRow) error {
	_ = ctx
	_ = country
	_ = markets
	_ = prices
	return nil
}

func (s *NopStore) RecordRun(ctx context.Context, batchID, countryISO3 string) error {
	_ = ctx
	_ = batchID
	_ = countryISO3
	return nil
}

func (s *NopStore) ReadCatalog(ctx context.Context) (*Catalog, error) {
	_ = ctx
	return &Catalog{}, nil
}

func (s *NopStore) GlobalPrices(ctx context.Context) ([]GlobalPriceRow, error) {
	_ = ctx
	return nil, nil
}

func (s *NopStore) Close() error {
	return nil
}
