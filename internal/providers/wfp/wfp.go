package wfp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OCHA-DAP/hdx-scraper-wfp-foodprices/internal/model"
)

const (
	defaultBaseURL         = "https://api.wfp.org/vam-data-bridges/5.0.0/"
	defaultTokenURL        = "https://api.wfp.org/token"
	defaultCountriesURL    = "https://api.wfp.org/vam-data-bridges/5.0.0/Rpme/Output/List"
	defaultRateLimitPerSec = 1
	defaultRateLimitBurst  = 1
	defaultTimeoutSeconds  = 60
	defaultUserAgent       = "hdx-scraper-wfp-foodprices/1.0"
	defaultPageSize        = 1000
)

// ErrNoData is returned when the API has no rows for a request.
var ErrNoData = errors.New("wfp: no data returned")

type Config struct {
	BaseURL         string
	TokenURL        string
	CountriesURL    string
	APIKey          string
	APISecret       string
	RateLimitPerSec int
	RateLimitBurst  int
	Timeout         time.Duration
	UserAgent       string
	PageSize        int
}

type Provider struct {
	config  Config
	client  *http.Client
	limiter *rateLimiter

	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time
}

func New() (*Provider, error) {
	return NewWithConfig(ConfigFromEnv())
}

func NewWithConfig(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("wfp base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.CountriesURL == "" {
		cfg.CountriesURL = defaultCountriesURL
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = defaultRateLimitPerSec
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeoutSeconds * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Provider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: newRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
	}, nil
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:         getenv("WFP_BASE_URL", defaultBaseURL),
		TokenURL:        getenv("WFP_TOKEN_URL", defaultTokenURL),
		CountriesURL:    getenv("WFP_COUNTRIES_URL", defaultCountriesURL),
		APIKey:          strings.TrimSpace(os.Getenv("WFP_API_KEY")),
		APISecret:       strings.TrimSpace(os.Getenv("WFP_API_SECRET")),
		RateLimitPerSec: getenvInt("WFP_RATE_LIMIT_PER_SEC", defaultRateLimitPerSec),
		RateLimitBurst:  getenvInt("WFP_RATE_LIMIT_BURST", defaultRateLimitBurst),
		Timeout:         time.Duration(getenvInt("WFP_TIMEOUT_SECONDS", defaultTimeoutSeconds)) * time.Second,
		UserAgent:       getenv("WFP_USER_AGENT", defaultUserAgent),
		PageSize:        getenvInt("WFP_PAGE_SIZE", defaultPageSize),
	}
}

func (p *Provider) Name() string {
	return "wfp"
}

// CountryObservations fetches all monthly price observations for a
// country, following pagination until the API runs dry.
func (p *Provider) CountryObservations(ctx context.Context, countryISO3 string) ([]model.RawObservation, error) {
	var observations []model.RawObservation
	err := p.paged(ctx, "MarketPrices/PriceMonthly", countryISO3, func(items json.RawMessage) (int, error) {
		var page []model.RawObservation
		if err := json.Unmarshal(items, &page); err != nil {
			return 0, err
		}
		observations = append(observations, page...)
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, fmt.Errorf("%s: %w", countryISO3, ErrNoData)
	}
	return observations, nil
}

type marketItem struct {
	MarketID   int      `json:"marketId"`
	MarketName string   `json:"marketName"`
	Admin1     string   `json:"admin1Name"`
	Admin2     string   `json:"admin2Name"`
	Latitude   *float64 `json:"marketLatitude"`
	Longitude  *float64 `json:"marketLongitude"`
}

// CountryMarkets fetches a country's market catalog.
func (p *Provider) CountryMarkets(ctx context.Context, countryISO3 string) ([]model.Market, error) {
	var markets []model.Market
	err := p.paged(ctx, "Markets/List", countryISO3, func(items json.RawMessage) (int, error) {
		var page []marketItem
		if err := json.Unmarshal(items, &page); err != nil {
			return 0, err
		}
		for _, item := range page {
			markets = append(markets, model.Market{
				MarketID:    item.MarketID,
				Market:      item.MarketName,
				CountryISO3: countryISO3,
				Admin1:      item.Admin1,
				Admin2:      item.Admin2,
				Latitude:    item.Latitude,
				Longitude:   item.Longitude,
			})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return markets, nil
}

type categoryItem struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type commodityItem struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	CategoryID int    `json:"categoryId"`
}

// Commodities fetches the global commodity list joined to category
// names. A commodity referencing an unknown category is an upstream
// catalog inconsistency and fails the run.
func (p *Provider) Commodities(ctx context.Context) ([]model.Commodity, error) {
	categories := map[int]string{}
	err := p.paged(ctx, "Commodities/Categories/List", "", func(items json.RawMessage) (int, error) {
		var page []categoryItem
		if err := json.Unmarshal(items, &page); err != nil {
			return 0, err
		}
		for _, item := range page {
			categories[item.ID] = item.Name
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}

	var commodities []model.Commodity
	err = p.paged(ctx, "Commodities/List", "", func(items json.RawMessage) (int, error) {
		var page []commodityItem
		if err := json.Unmarshal(items, &page); err != nil {
			return 0, err
		}
		for _, item := range page {
			category, ok := categories[item.CategoryID]
			if !ok {
				return 0, fmt.Errorf("wfp: commodity %d references unknown category %d", item.ID, item.CategoryID)
			}
			commodities = append(commodities, model.Commodity{
				CommodityID: item.ID,
				Category:    category,
				Commodity:   item.Name,
			})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	if len(commodities) == 0 {
		return nil, fmt.Errorf("commodity list: %w", ErrNoData)
	}
	return commodities, nil
}

// Countries fetches the country list.
func (p *Provider) Countries(ctx context.Context) ([]model.CountryInfo, error) {
	body, err := p.doRequest(ctx, p.config.CountriesURL, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Response []model.CountryInfo `json:"response"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if len(payload.Response) == 0 {
		return nil, fmt.Errorf("country list: %w", ErrNoData)
	}
	return payload.Response, nil
}

type currencyItem struct {
	Name string `json:"name"`
}

// Currencies fetches the list of currency codes with exchange data.
func (p *Provider) Currencies(ctx context.Context) ([]string, error) {
	var codes []string
	err := p.paged(ctx, "Currency/List", "", func(items json.RawMessage) (int, error) {
		var page []currencyItem
		if err := json.Unmarshal(items, &page); err != nil {
			return 0, err
		}
		for _, item := range page {
			codes = append(codes, item.Name)
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

type rateItem struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// HistoricRates fetches monthly USD quotations per currency, keyed by
// yyyy-mm bucket, skipping currencies the API has no quotations for.
func (p *Provider) HistoricRates(ctx context.Context, codes []string) (map[string]map[string]float64, error) {
	rates := make(map[string]map[string]float64, len(codes))
	for _, code := range codes {
		var items []rateItem
		err := p.pagedParams(ctx, "Currency/UsdIndirectQuotation", url.Values{"currencyName": {code}}, func(raw json.RawMessage) (int, error) {
			var page []rateItem
			if err := json.Unmarshal(raw, &page); err != nil {
				return 0, err
			}
			items = append(items, page...)
			return len(page), nil
		})
		if err != nil {
			return nil, fmt.Errorf("rates for %s: %w", code, err)
		}
		if len(items) == 0 {
			continue
		}
		months := make(map[string]float64, len(items))
		for _, item := range items {
			if len(item.Date) >= 7 {
				months[item.Date[:7]] = item.Value
			}
		}
		rates[strings.ToUpper(code)] = months
	}
	return rates, nil
}

// FetchCSV retrieves an auxiliary CSV (region mapping, source
// overrides) from a plain URL.
func (p *Provider) FetchCSV(ctx context.Context, rawURL string) ([]byte, error) {
	return p.doRequest(ctx, rawURL, nil)
}

func (p *Provider) paged(ctx context.Context, path, countryISO3 string, consume func(json.RawMessage) (int, error)) error {
	params := url.Values{}
	if countryISO3 != "" {
		params.Set("CountryCode", countryISO3)
	}
	return p.pagedParams(ctx, path, params, consume)
}

func (p *Provider) pagedParams(ctx context.Context, path string, params url.Values, consume func(json.RawMessage) (int, error)) error {
	for page := 1; ; page++ {
		query := url.Values{}
		for key, values := range params {
			query[key] = values
		}
		query.Set("page", strconv.Itoa(page))

		body, err := p.doRequest(ctx, p.config.BaseURL+strings.TrimLeft(path, "/"), query)
		if err != nil {
			return err
		}
		var payload struct {
			Items json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return err
		}
		if len(payload.Items) == 0 {
			return nil
		}
		count, err := consume(payload.Items)
		if err != nil {
			return err
		}
		if count < p.config.PageSize {
			return nil
		}
	}
}

func (p *Provider) doRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("wfp: request failed (%s): %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// token returns a cached bearer token, refreshing it via the
// client-credentials grant when absent or near expiry. Without
// credentials requests go out unauthenticated.
func (p *Provider) token(ctx context.Context) (string, error) {
	if p.config.APIKey == "" || p.config.APISecret == "" {
		return "", nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bearerToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.bearerToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.config.APIKey, p.config.APISecret)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wfp: token request failed (%s)", resp.Status)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", errors.New("wfp: empty access token")
	}
	p.bearerToken = payload.AccessToken
	expiry := time.Duration(payload.ExpiresIn) * time.Second
	if expiry <= 0 {
		expiry = time.Hour
	}
	p.tokenExpiry = time.Now().Add(expiry - time.Minute)
	return p.bearerToken, nil
}

type rateLimiter struct {
	tokens chan struct{}
}

func newRateLimiter(ratePerSec, burst int) *rateLimiter {
	if ratePerSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}

	limiter := &rateLimiter{
		tokens: make(chan struct{}, burst),
	}
	for i := 0; i < burst; i++ {
		limiter.tokens <- struct{}{}
	}

	interval := time.Second / time.Duration(ratePerSec)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			select {
			case limiter.tokens <- struct{}{}:
			default:
			}
		}
	}()

	return limiter
}

func (l *rateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.tokens:
		return nil
	}
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
