// Package geocode resolves free-text addresses and postal codes to
// coordinates through the Nominatim (OpenStreetMap) search API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/geoenrich/internal/cache"
	"github.com/sells-group/geoenrich/internal/resilience"
)

const (
	// DefaultBaseURL is the Nominatim search endpoint.
	DefaultBaseURL = "https://nominatim.openstreetmap.org/search"

	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second

	// DefaultInterval is the minimum spacing between requests. Nominatim's
	// usage policy allows at most one request per second.
	DefaultInterval = 1500 * time.Millisecond

	// DefaultRetryDelay separates attempts.
	DefaultRetryDelay = 3 * time.Second

	// DefaultAppName identifies the client in the User-Agent header.
	DefaultAppName = "GeoEnrich"

	// DefaultCacheEntries bounds the in-memory cache used when none is injected.
	DefaultCacheEntries = 100_000

	// DefaultState is the region appended to postal-code queries without one.
	DefaultState = "BR"

	minQueryChars = 3
	service       = "nominatim"
)

// Lookup outcomes reported to the observer.
const (
	OutcomeSkipped   = "skipped"
	OutcomeCacheHit  = "cache_hit"
	OutcomeFound     = "found"
	OutcomeNotFound  = "not_found"
	OutcomeExhausted = "exhausted"
	OutcomeError     = "error"
)

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// nominatimPlace is one element of the search response. Nominatim encodes
// coordinates as strings.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the search endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets the HTTP client used for searches.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithGate sets the rate-limit gate passed before every request.
func WithGate(g *resilience.Gate) Option {
	return func(c *Client) {
		c.gate = g
	}
}

// WithRetry sets the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithCache sets the lookup cache.
func WithCache(s cache.Store) Option {
	return func(c *Client) {
		c.cache = s
	}
}

// WithAppName sets the application name sent in the User-Agent header.
func WithAppName(name string) Option {
	return func(c *Client) {
		c.appName = name
	}
}

// WithObserver registers a callback invoked with the outcome of each search.
func WithObserver(fn func(outcome string)) Option {
	return func(c *Client) {
		if fn != nil {
			c.observe = fn
		}
	}
}

// Client geocodes through Nominatim with caching, rate limiting and retries.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	gate       *resilience.Gate
	retry      resilience.RetryConfig
	cache      cache.Store
	appName    string
	observe    func(string)

	group singleflight.Group
}

// NewClient creates a Client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		gate:       resilience.NewGate(DefaultInterval, nil),
		retry:      resilience.FixedRetryConfig(3, DefaultRetryDelay),
		appName:    DefaultAppName,
		observe:    func(string) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = cache.NewMemory(DefaultCacheEntries)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger(service, "search")
	}
	return c
}

// BuildAddressQuery joins the non-empty components in the order street,
// number, neighborhood, city, state, separated by ", ".
func BuildAddressQuery(street, number, neighborhood, city, state string) string {
	parts := make([]string, 0, 5)
	for _, p := range []string{street, number, neighborhood, city, state} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// SearchByAddress geocodes a street address. Queries with fewer than three
// non-whitespace characters return (nil, nil) without a request.
func (c *Client) SearchByAddress(ctx context.Context, street, number, neighborhood, city, state string) (*Coordinate, error) {
	query := BuildAddressQuery(street, number, neighborhood, city, state)
	if !searchable(query) {
		c.observe(OutcomeSkipped)
		return nil, nil
	}
	return c.lookup(ctx, "address:"+query, query)
}

// SearchByPostalCode geocodes a CEP, optionally narrowed by city and state.
// An empty state defaults to BR.
func (c *Client) SearchByPostalCode(ctx context.Context, code, city, state string) (*Coordinate, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, code)
	city = strings.TrimSpace(city)
	state = strings.TrimSpace(state)
	if state == "" {
		state = DefaultState
	}

	query := digits + ", " + state
	if city != "" {
		query = digits + ", " + city + ", " + state
	}
	if digits == "" || !searchable(query) {
		c.observe(OutcomeSkipped)
		return nil, nil
	}
	key := fmt.Sprintf("cep:%s:%s:%s", digits, city, state)
	return c.lookup(ctx, key, query)
}

func searchable(query string) bool {
	n := 0
	for _, r := range query {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n >= minQueryChars
}

// lookup consults the cache under key and falls back to a search for query.
func (c *Client) lookup(ctx context.Context, key, query string) (*Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(err, "geocode: search %q", query)
	}

	cached, hit, err := cache.GetJSON[Coordinate](ctx, c.cache, key)
	if err != nil {
		c.observe(OutcomeError)
		return nil, eris.Wrap(err, "geocode: cache lookup")
	}
	if hit {
		c.observe(OutcomeCacheHit)
		return cached, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.search(shared, key, query)
	})
	select {
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "geocode: search %q", query)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Coordinate), nil
	}
}

// search runs query with retries and caches positive and empty results.
func (c *Client) search(ctx context.Context, key, query string) (*Coordinate, error) {
	coord, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Coordinate, error) {
		return c.attempt(ctx, query)
	})
	if err != nil {
		if resilience.IsTransient(err) {
			zap.L().Warn("geocode search failed after retries",
				zap.String("query", query),
				zap.Int("attempts", c.retry.MaxAttempts),
				zap.Error(err),
			)
			c.observe(OutcomeExhausted)
			return nil, nil
		}
		c.observe(OutcomeError)
		return nil, err
	}

	if coord == nil {
		zap.L().Debug("geocode: no result", zap.String("query", query))
		c.observe(OutcomeNotFound)
	} else {
		zap.L().Debug("geocode: found",
			zap.String("query", query),
			zap.Float64("lat", coord.Lat),
			zap.Float64("lon", coord.Lon),
		)
		c.observe(OutcomeFound)
	}

	if err := cache.SetJSON(ctx, c.cache, key, coord); err != nil {
		zap.L().Warn("geocode: cache store failed", zap.String("key", key), zap.Error(err))
	}
	return coord, nil
}

// attempt performs one gated request. A nil coordinate with a nil error
// means Nominatim returned no match.
func (c *Client) attempt(ctx context.Context, query string) (*Coordinate, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"q":      {query},
		"format": {"json"},
		"limit":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", c.appName+"/1.0 (address geocoding; github.com/sells-group/geoenrich)")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NetworkError("geocode", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resilience.StatusError("geocode", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NetworkError("geocode", err)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, resilience.DecodeError("geocode", err)
	}
	if len(places) == 0 {
		return nil, nil
	}
	return parsePlace(places[0])
}

func parsePlace(p nominatimPlace) (*Coordinate, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(p.Lat), 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse latitude %q", p.Lat)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(p.Lon), 64)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: parse longitude %q", p.Lon)
	}
	return &Coordinate{Lat: lat, Lon: lon}, nil
}
