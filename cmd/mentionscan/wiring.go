package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/mentionscan/internal/config"
	"github.com/sawpanic/mentionscan/internal/domain"
	"github.com/sawpanic/mentionscan/internal/mentions"
	"github.com/sawpanic/mentionscan/internal/persistence/memstore"
	"github.com/sawpanic/mentionscan/internal/propagate"
	"github.com/sawpanic/mentionscan/internal/reference"
)

// buildProvider returns the configured reference provider, wrapped in the
// Redis cache when enabled. The returned close func releases the client.
func buildProvider(cfg *config.AppConfig, observer reference.CacheObserver) (reference.Provider, func() error, error) {
	var base reference.Provider
	switch cfg.Reference.Source {
	case config.SourceCSV:
		base = reference.NewCSVProvider(cfg.Reference.CSVPath)
	case config.SourceNasdaq:
		base = reference.NewNasdaqTraderProvider(cfg.Reference.NasdaqTrader(), nil)
	default:
		return nil, nil, fmt.Errorf("unknown reference source %q", cfg.Reference.Source)
	}

	if !cfg.Cache.Redis.Enabled {
		return base, func() error { return nil }, nil
	}

	opts := &redis.Options{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	}
	if cfg.Cache.Redis.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	cached := reference.NewCachedProvider(base, client, cfg.Reference.CacheKey, cfg.Cache.Redis.TTL)
	if observer != nil {
		cached.SetObserver(observer)
	}

	log.Debug().
		Str("addr", cfg.Cache.Redis.Addr).
		Str("key", cfg.Reference.CacheKey).
		Dur("ttl", cfg.Cache.Redis.TTL).
		Msg("Reference cache enabled")

	return cached, client.Close, nil
}

func buildScorer(cfg *config.AppConfig) *mentions.Scorer {
	return mentions.NewScorer(mentions.NewExtractor(cfg.Scan.LexiconWithDefaults()), cfg.Scan.Weights)
}

func buildEngine(cfg *config.AppConfig) *propagate.Engine {
	return propagate.NewEngine(cfg.Scan.Propagation)
}

// corpusFixture is the JSON layout accepted by scan --fixture
type corpusFixture struct {
	Posts    []domain.Post    `json:"posts"`
	Comments []domain.Comment `json:"comments"`
}

func loadFixture(path string) (*memstore.Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	var fixture corpusFixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return memstore.New(fixture.Posts, fixture.Comments), nil
}

// staticProvider serves a fixed symbol list given on the command line
type staticProvider []string

func (s staticProvider) Listings(ctx context.Context) ([]reference.Listing, error) {
	out := make([]reference.Listing, 0, len(s))
	for _, symbol := range s {
		out = append(out, reference.Listing{Symbol: symbol})
	}
	return out, nil
}
