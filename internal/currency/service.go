// Package currency provides checkout-time exchange rates, amount conversion
// and display formatting. Conversion is best-effort: a rate fetch failure
// degrades to cached or configured fallback rates rather than blocking
// checkout, but a rate of 1 is only ever returned for identical currencies.
package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

const (
	defaultCacheSize       = 128
	defaultFreshnessWindow = time.Hour
	defaultFetchTimeout    = 5 * time.Second
)

// defaultFallbackRates maps currency codes to units per 1 USD. Approximate
// values for the corridors this platform charges in; overridable from config
// since they drift.
var defaultFallbackRates = map[string]float64{
	"USD": 1.0,
	"KES": 150.0,
	"NGN": 1580.0,
	"ZAR": 18.6,
	"GHS": 15.4,
	"EUR": 0.92,
	"GBP": 0.79,
}

var symbols = map[string]string{
	"USD": "$",
	"KES": "KSh",
	"NGN": "₦",
	"ZAR": "R",
	"GHS": "GH₵",
	"EUR": "€",
	"GBP": "£",
}

type Config struct {
	APIURL          string
	FetchTimeout    time.Duration
	FreshnessWindow time.Duration
	CacheSize       int
	FallbackRates   map[string]float64
}

type cacheEntry struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Service is an explicitly constructed conversion service; it is injected
// into request handlers instead of living behind a package-level singleton so
// the freshness window and fallback table are testable per instance.
type Service struct {
	apiURL          string
	freshnessWindow time.Duration
	fallbackPerUSD  map[string]decimal.Decimal
	cache           *lru.Cache[string, cacheEntry]
	client          *http.Client
	logger          *slog.Logger
}

func NewService(cfg Config, logger *slog.Logger) *Service {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	window := cfg.FreshnessWindow
	if window <= 0 {
		window = defaultFreshnessWindow
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	fallback := make(map[string]decimal.Decimal)
	for code, rate := range defaultFallbackRates {
		fallback[code] = decimal.NewFromFloat(rate)
	}
	for code, rate := range cfg.FallbackRates {
		fallback[strings.ToUpper(code)] = decimal.NewFromFloat(rate)
	}

	// NewLRU only errors on non-positive size, which is guarded above.
	cache, _ := lru.New[string, cacheEntry](size)

	return &Service{
		apiURL:          cfg.APIURL,
		freshnessWindow: window,
		fallbackPerUSD:  fallback,
		cache:           cache,
		client:          &http.Client{Timeout: timeout},
		logger:          logger,
	}
}

// Conversion is the result of converting an amount between currencies. Rate
// is retained so callers can persist it for audit.
type Conversion struct {
	Amount decimal.Decimal
	Rate   decimal.Decimal
}

// Rate returns the exchange rate from one currency to another. Identical
// currencies short-circuit to 1 with no network call. Otherwise the cache is
// consulted, then the remote source, then the last good cached value, then
// the fallback table. Rate never fails; at worst it returns zero for a pair
// no source knows, which callers treat as "conversion unavailable".
func (s *Service) Rate(ctx context.Context, from, to string) decimal.Decimal {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1)
	}

	key := from + ":" + to
	entry, cached := s.cache.Get(key)
	if cached && time.Since(entry.fetchedAt) < s.freshnessWindow {
		return entry.rate
	}

	rate, err := s.fetchRate(ctx, from, to)
	if err == nil {
		s.cache.Add(key, cacheEntry{rate: rate, fetchedAt: time.Now()})
		return rate
	}

	s.logger.Warn("currency: rate fetch failed, degrading",
		"from", from,
		"to", to,
		"error", err)

	// Stale cached value beats the static fallback table.
	if cached {
		return entry.rate
	}
	return s.fallbackRate(from, to)
}

// Convert converts an amount between currencies, rounding the result to the
// currency's minor-unit precision (2 decimal places for every currency this
// platform charges in).
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string) Conversion {
	rate := s.Rate(ctx, from, to)
	return Conversion{
		Amount: amount.Mul(rate).Round(2),
		Rate:   rate,
	}
}

// Format renders a human-readable amount with the currency's symbol, falling
// back to "CODE amount" for currencies without a symbol table entry.
// Formatting never fails.
func (s *Service) Format(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(currency)
	rendered := groupThousands(amount.StringFixed(2))
	if symbol, ok := symbols[currency]; ok {
		return symbol + " " + rendered
	}
	return currency + " " + rendered
}

type ratesResponse struct {
	Result   string             `json:"result"`
	BaseCode string             `json:"base_code"`
	Rates    map[string]float64 `json:"rates"`
}

func (s *Service) fetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/%s", s.apiURL, from)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate source returned %d", resp.StatusCode)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode response: %w", err)
	}
	if body.Result != "success" {
		return decimal.Zero, fmt.Errorf("rate source result %q", body.Result)
	}

	rate, ok := body.Rates[to]
	if !ok || rate <= 0 {
		return decimal.Zero, fmt.Errorf("rate source has no rate for %s", to)
	}
	return decimal.NewFromFloat(rate), nil
}

// fallbackRate derives a cross rate from the per-USD fallback table.
func (s *Service) fallbackRate(from, to string) decimal.Decimal {
	fromPerUSD, okFrom := s.fallbackPerUSD[from]
	toPerUSD, okTo := s.fallbackPerUSD[to]
	if !okFrom || !okTo || fromPerUSD.IsZero() {
		s.logger.Error("currency: no fallback rate available",
			"from", from,
			"to", to)
		return decimal.Zero
	}
	return toPerUSD.Div(fromPerUSD)
}

// groupThousands inserts comma separators into a fixed-point decimal string.
func groupThousands(fixed string) string {
	neg := strings.HasPrefix(fixed, "-")
	if neg {
		fixed = fixed[1:]
	}

	intPart, fracPart := fixed, ""
	if i := strings.IndexByte(fixed, '.'); i >= 0 {
		intPart, fracPart = fixed[:i], fixed[i:]
	}

	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}

	out := b.String() + fracPart
	if neg {
		out = "-" + out
	}
	return out
}
