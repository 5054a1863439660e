package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/model"
	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/store"
)

const dateLayout = "2006-01-02"

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	st := &Store{db: db}
	if err := st.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return st, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReplaceCommodities rebuilds the global commodity table inside one
// transaction.
func (s *Store) ReplaceCommodities(ctx context.Context, commodities []model.Commodity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM commodities`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO commodities (commodity_id, category, commodity)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, commodity := range commodities {
		if _, err = stmt.ExecContext(ctx, commodity.CommodityID, commodity.Category, commodity.Commodity); err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

// ReplaceCountry deletes all rows for the country in the country,
// market and price tables and inserts the replacement rows. The whole
// replace is one transaction: either both delete and insert are
// visible, or neither.
func (s *Store) ReplaceCountry(ctx context.Context, country model.Country, markets []model.Market, prices []store.PriceRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"countries", "markets", "prices"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE countryiso3 = ?`, country.ISO3); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO countries (countryiso3, url, start_date, end_date)
		VALUES (?, ?, ?, ?)
	`, country.ISO3, country.URL, country.StartDate.Format(dateLayout), country.EndDate.Format(dateLayout)); err != nil {
		return err
	}

	marketStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO markets (market_id, market, countryiso3, admin1, admin2, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer marketStmt.Close()

	for _, market := range markets {
		if _, err = marketStmt.ExecContext(ctx,
			market.MarketID, market.Market, market.CountryISO3,
			market.Admin1, market.Admin2, nullFloat(market.Latitude), nullFloat(market.Longitude),
		); err != nil {
			return err
		}
	}

	priceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prices (
			countryiso3, date, market_id, commodity_id, unit,
			priceflag, pricetype, currency, price, usdprice
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer priceStmt.Close()

	for _, price := range prices {
		if _, err = priceStmt.ExecContext(ctx,
			price.CountryISO3, price.Date, price.MarketID, price.CommodityID, price.Unit,
			price.PriceFlag, price.PriceType, price.Currency, price.Price, nullFloat(price.USDPrice),
		); err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

func (s *Store) RecordRun(ctx context.Context, batchID, countryISO3 string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (batch_id, countryiso3, run_at) VALUES (?, ?, ?)
	`, batchID, countryISO3, time.Now().UTC().Format(time.RFC3339))
	return err
}

// ReadCatalog loads the country, market and commodity tables and
// derives the global min start date and max end date.
func (s *Store) ReadCatalog(ctx context.Context) (*store.Catalog, error) {
	catalog := &store.Catalog{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT countryiso3, url, start_date, end_date
		FROM countries ORDER BY countryiso3
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var country model.Country
		var startDate, endDate string
		if err := rows.Scan(&country.ISO3, &country.URL, &startDate, &endDate); err != nil {
			return nil, err
		}
		if country.StartDate, err = time.Parse(dateLayout, startDate); err != nil {
			return nil, err
		}
		if country.EndDate, err = time.Parse(dateLayout, endDate); err != nil {
			return nil, err
		}
		if catalog.StartDate.IsZero() || country.StartDate.Before(catalog.StartDate) {
			catalog.StartDate = country.StartDate
		}
		if catalog.EndDate.IsZero() || country.EndDate.After(catalog.EndDate) {
			catalog.EndDate = country.EndDate
		}
		catalog.Countries = append(catalog.Countries, country)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	marketRows, err := s.db.QueryContext(ctx, `
		SELECT market_id, market, countryiso3, admin1, admin2, latitude, longitude
		FROM markets ORDER BY market_id
	`)
	if err != nil {
		return nil, err
	}
	defer marketRows.Close()

	for marketRows.Next() {
		var market model.Market
		var lat, lon sql.NullFloat64
		if err := marketRows.Scan(
			&market.MarketID, &market.Market, &market.CountryISO3,
			&market.Admin1, &market.Admin2, &lat, &lon,
		); err != nil {
			return nil, err
		}
		market.Latitude = floatPtr(lat)
		market.Longitude = floatPtr(lon)
		catalog.Markets = append(catalog.Markets, market)
	}
	if err := marketRows.Err(); err != nil {
		return nil, err
	}

	commodityRows, err := s.db.QueryContext(ctx, `
		SELECT commodity_id, category, commodity
		FROM commodities ORDER BY commodity_id
	`)
	if err != nil {
		return nil, err
	}
	defer commodityRows.Close()

	for commodityRows.Next() {
		var commodity model.Commodity
		if err := commodityRows.Scan(&commodity.CommodityID, &commodity.Category, &commodity.Commodity); err != nil {
			return nil, err
		}
		catalog.Commodities = append(catalog.Commodities, commodity)
	}
	if err := commodityRows.Err(); err != nil {
		return nil, err
	}

	return catalog, nil
}

// GlobalPrices returns the joined price view in the canonical global
// ordering.
func (s *Store) GlobalPrices(ctx context.Context) ([]store.GlobalPriceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.countryiso3, p.date,
		       m.admin1, m.admin2, m.market, m.latitude, m.longitude,
		       c.category, c.commodity,
		       p.unit, p.priceflag, p.pricetype, p.currency, p.price, p.usdprice
		FROM prices p
		JOIN markets m ON p.market_id = m.market_id AND p.countryiso3 = m.countryiso3
		JOIN commodities c ON p.commodity_id = c.commodity_id
		ORDER BY p.countryiso3, p.priceflag, p.date, m.admin1, m.admin2, m.market,
		         c.category, c.commodity, p.unit, p.pricetype
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []store.GlobalPriceRow
	for rows.Next() {
		var row store.GlobalPriceRow
		var lat, lon, usd sql.NullFloat64
		if err := rows.Scan(
			&row.CountryISO3, &row.Date,
			&row.Admin1, &row.Admin2, &row.Market, &lat, &lon,
			&row.Category, &row.Commodity,
			&row.Unit, &row.PriceFlag, &row.PriceType, &row.Currency, &row.Price, &usd,
		); err != nil {
			return nil, err
		}
		row.Latitude = floatPtr(lat)
		row.Longitude = floatPtr(lon)
		row.USDPrice = floatPtr(usd)
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) migrate() error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS countries (
			countryiso3 TEXT NOT NULL PRIMARY KEY,
			url TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS markets (
			market_id INTEGER NOT NULL,
			market TEXT NOT NULL,
			countryiso3 TEXT NOT NULL,
			admin1 TEXT,
			admin2 TEXT,
			latitude REAL,
			longitude REAL,
			PRIMARY KEY (market_id, countryiso3)
		);`,
		`CREATE TABLE IF NOT EXISTS commodities (
			commodity_id INTEGER NOT NULL PRIMARY KEY,
			category TEXT NOT NULL,
			commodity TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS prices (
			countryiso3 TEXT NOT NULL,
			date TEXT NOT NULL,
			market_id INTEGER NOT NULL,
			commodity_id INTEGER NOT NULL,
			unit TEXT NOT NULL,
			priceflag TEXT NOT NULL,
			pricetype TEXT NOT NULL,
			currency TEXT NOT NULL,
			price REAL NOT NULL,
			usdprice REAL,
			PRIMARY KEY (countryiso3, date, market_id, commodity_id, unit, priceflag, pricetype)
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			batch_id TEXT NOT NULL,
			countryiso3 TEXT NOT NULL,
			run_at TEXT NOT NULL
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}

func nullFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func floatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}
