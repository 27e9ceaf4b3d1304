// Package advisory queries an external fact-check provider for
// symbol-level red flags (earnings, dividend cuts, executive changes)
// ahead of order placement. Responses are cached per symbol with a TTL
// so a burst of signals for one name costs a single provider call.
package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Config holds provider settings.
type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration // per-request, default 3s
	CacheTTL time.Duration // default 5m
}

// Client is a fact-check provider client. It satisfies the gauntlet's
// FactChecker interface.
type Client struct {
	client   *resty.Client
	apiKey   string
	cacheTTL time.Duration
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	flags   map[string]any
	expires time.Time
}

// factCheckResponse is the provider wire format.
type factCheckResponse struct {
	Symbol string         `json:"symbol"`
	Flags  map[string]any `json:"flags"`
	AsOf   string         `json:"as_of,omitempty"`
}

func New(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		// Checks run inside the signal hot path; keep the budget tight.
		timeout = 3 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(timeout)

	return &Client{
		client:   client,
		apiKey:   cfg.APIKey,
		cacheTTL: ttl,
		log:      logger.With().Str("component", "advisory").Logger(),
		cache:    make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// Check returns the provider's red-flag map for a symbol. A cached
// entry inside its TTL is served without a provider call.
func (c *Client) Check(ctx context.Context, symbol string) (map[string]any, error) {
	if flags, ok := c.cached(symbol); ok {
		return flags, nil
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"token":  c.apiKey,
		}).
		Get("/v1/factcheck")
	if err != nil {
		return nil, fmt.Errorf("advisory: fetch %s: %w", symbol, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("advisory: %s: status %d: %s", symbol, resp.StatusCode(), resp.String())
	}

	var parsed factCheckResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("advisory: parse response for %s: %w", symbol, err)
	}
	flags := parsed.Flags
	if flags == nil {
		flags = map[string]any{}
	}

	c.store(symbol, flags)
	c.log.Debug().Str("symbol", symbol).Int("flags", len(flags)).Msg("fact-check fetched")
	return flags, nil
}

func (c *Client) cached(symbol string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[symbol]
	if !ok || c.now().After(entry.expires) {
		delete(c.cache, symbol)
		return nil, false
	}
	return copyFlags(entry.flags), true
}

func (c *Client) store(symbol string, flags map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[symbol] = cacheEntry{
		flags:   copyFlags(flags),
		expires: c.now().Add(c.cacheTTL),
	}
}

// copyFlags keeps callers from mutating cached state.
func copyFlags(flags map[string]any) map[string]any {
	out := make(map[string]any, len(flags))
	for k, v := range flags {
		out[k] = v
	}
	return out
}

// Static is a fixed-response checker for paper runs and tests.
type Static map[string]any

func (s Static) Check(_ context.Context, _ string) (map[string]any, error) {
	return copyFlags(s), nil
}
