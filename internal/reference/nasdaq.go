package reference

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	NasdaqListedURL = "https://www.nasdaqtrader.com/dynamic/symdir/nasdaqlisted.txt"
	OtherListedURL  = "https://www.nasdaqtrader.com/dynamic/symdir/otherlisted.txt"

	fileCreationPrefix = "File Creation Time"
)

// NasdaqTraderConfig configures the symbol directory download
type NasdaqTraderConfig struct {
	URLs                []string      `yaml:"urls"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	MinInterval         time.Duration `yaml:"min_interval"`         // spacing between directory downloads
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // failures before the breaker opens
	OpenTimeout         time.Duration `yaml:"open_timeout"`         // time the breaker stays open
}

// DefaultNasdaqTraderConfig returns the production directory endpoints
func DefaultNasdaqTraderConfig() NasdaqTraderConfig {
	return NasdaqTraderConfig{
		URLs:                []string{NasdaqListedURL, OtherListedURL},
		RequestTimeout:      30 * time.Second,
		MinInterval:         500 * time.Millisecond,
		ConsecutiveFailures: 3,
		OpenTimeout:         60 * time.Second,
	}
}

// NasdaqTraderProvider downloads the pipe-delimited symbol directories
// published by NASDAQ Trader
type NasdaqTraderProvider struct {
	client  *http.Client
	config  NasdaqTraderConfig
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewNasdaqTraderProvider creates a provider. A nil client gets a default
// client with the configured request timeout.
func NewNasdaqTraderProvider(config NasdaqTraderConfig, client *http.Client) *NasdaqTraderProvider {
	if len(config.URLs) == 0 {
		config.URLs = DefaultNasdaqTraderConfig().URLs
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.ConsecutiveFailures == 0 {
		config.ConsecutiveFailures = 3
	}
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout}
	}

	limit := rate.Inf
	if config.MinInterval > 0 {
		limit = rate.Every(config.MinInterval)
	}

	failures := config.ConsecutiveFailures
	settings := gobreaker.Settings{
		Name:    "nasdaqtrader",
		Timeout: config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Reference provider circuit breaker state changed")
		},
	}

	return &NasdaqTraderProvider{
		client:  client,
		config:  config,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Listings downloads every configured directory and concatenates the results
func (p *NasdaqTraderProvider) Listings(ctx context.Context) ([]Listing, error) {
	var all []Listing
	for _, url := range p.config.URLs {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		result, err := p.breaker.Execute(func() (interface{}, error) {
			return p.fetch(ctx, url)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch symbol directory %s: %w", url, err)
		}

		listings := result.([]Listing)
		log.Debug().Str("url", url).Int("listings", len(listings)).Msg("Symbol directory downloaded")
		all = append(all, listings...)
	}
	return all, nil
}

func (p *NasdaqTraderProvider) fetch(ctx context.Context, url string) ([]Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-OK status code %d", resp.StatusCode)
	}

	return ParseSymbolDirectory(resp.Body)
}

// ParseSymbolDirectory parses a NASDAQ Trader symbol directory. The first row
// is a header and the trailer row carrying the file creation time is skipped.
func ParseSymbolDirectory(r io.Reader) ([]Listing, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var listings []Listing
	first := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if first {
			first = false
			continue
		}
		if line == "" || strings.HasPrefix(line, fileCreationPrefix) {
			continue
		}

		fields := strings.Split(line, "|")
		if len(fields) < 2 {
			continue
		}
		symbol := strings.TrimSpace(fields[0])
		if symbol == "" {
			continue
		}
		name, _, _ := strings.Cut(fields[1], " - ")
		listings = append(listings, Listing{
			Symbol: symbol,
			Name:   strings.TrimSpace(name),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read symbol directory: %w", err)
	}

	return listings, nil
}
