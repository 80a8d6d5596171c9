package cep

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/geoenrich/internal/cache"
	"github.com/sells-group/geoenrich/internal/resilience"
)

const (
	// DefaultBaseURL is the ViaCEP web service root.
	DefaultBaseURL = "https://viacep.com.br/ws"

	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 10 * time.Second

	// DefaultInterval is the minimum spacing between ViaCEP requests.
	DefaultInterval = 100 * time.Millisecond

	// DefaultCacheEntries bounds the in-memory cache used when none is injected.
	DefaultCacheEntries = 50_000

	service = "viacep"
)

// Lookup outcomes reported to the observer.
const (
	OutcomeInvalid   = "invalid"
	OutcomeCacheHit  = "cache_hit"
	OutcomeFound     = "found"
	OutcomeNotFound  = "not_found"
	OutcomeExhausted = "exhausted"
	OutcomeError     = "error"
)

// Address is a ViaCEP directory entry.
type Address struct {
	CEP          string `json:"cep"`
	Street       string `json:"logradouro"`
	Complement   string `json:"complemento,omitempty"`
	Neighborhood string `json:"bairro"`
	City         string `json:"localidade"`
	State        string `json:"uf"`
	IBGE         string `json:"ibge,omitempty"`
	DDD          string `json:"ddd,omitempty"`
}

// viaCEPResponse carries the "erro" flag, which ViaCEP has sent both as a
// boolean and as the string "true".
type viaCEPResponse struct {
	Address
	Erro json.RawMessage `json:"erro"`
}

func (r *viaCEPResponse) notFound() bool {
	flag := strings.Trim(strings.TrimSpace(string(r.Erro)), `"`)
	return strings.EqualFold(flag, "true")
}

// Option configures a Validator.
type Option func(*Validator)

// WithBaseURL overrides the ViaCEP root URL.
func WithBaseURL(u string) Option {
	return func(v *Validator) {
		v.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client used for lookups.
func WithHTTPClient(hc *http.Client) Option {
	return func(v *Validator) {
		v.httpClient = hc
	}
}

// WithGate sets the rate-limit gate passed before every request.
func WithGate(g *resilience.Gate) Option {
	return func(v *Validator) {
		v.gate = g
	}
}

// WithRetry sets the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(v *Validator) {
		v.retry = cfg
	}
}

// WithCache sets the lookup cache.
func WithCache(s cache.Store) Option {
	return func(v *Validator) {
		v.cache = s
	}
}

// WithObserver registers a callback invoked with the outcome of each lookup.
func WithObserver(fn func(outcome string)) Option {
	return func(v *Validator) {
		if fn != nil {
			v.observe = fn
		}
	}
}

// Validator resolves CEPs against ViaCEP with caching, rate limiting and
// retries. It is safe for concurrent use.
type Validator struct {
	baseURL    string
	httpClient *http.Client
	gate       *resilience.Gate
	retry      resilience.RetryConfig
	cache      cache.Store
	observe    func(string)

	group singleflight.Group
}

// New creates a Validator with the given options.
func New(opts ...Option) *Validator {
	v := &Validator{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		gate:       resilience.NewGate(DefaultInterval, nil),
		retry:      resilience.DefaultRetryConfig(),
		observe:    func(string) {},
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.cache == nil {
		v.cache = cache.NewMemory(DefaultCacheEntries)
	}
	if v.retry.OnRetry == nil {
		v.retry.OnRetry = resilience.RetryLogger(service, "lookup")
	}
	return v
}

func cacheKey(code string) string {
	return "viacep:" + code
}

// Lookup resolves raw to an Address. It returns (nil, nil) when raw is not a
// valid CEP, when ViaCEP reports it unknown, or when every attempt failed
// transiently. Only the first two outcomes are cached.
func (v *Validator) Lookup(ctx context.Context, raw string) (*Address, error) {
	code, ok := Normalize(raw)
	if !ok {
		v.observe(OutcomeInvalid)
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(err, "cep: lookup %s", code)
	}

	cached, hit, err := cache.GetJSON[Address](ctx, v.cache, cacheKey(code))
	if err != nil {
		v.observe(OutcomeError)
		return nil, eris.Wrapf(err, "cep: cache lookup %s", code)
	}
	if hit {
		v.observe(OutcomeCacheHit)
		return cached, nil
	}

	// The shared fetch outlives any single caller; each caller stops
	// waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := v.group.DoChan(code, func() (any, error) {
		return v.fetch(shared, code)
	})
	select {
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "cep: lookup %s", code)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Address), nil
	}
}

// fetch queries ViaCEP with retries and records the outcome in the cache.
func (v *Validator) fetch(ctx context.Context, code string) (*Address, error) {
	addr, err := resilience.DoVal(ctx, v.retry, func(ctx context.Context) (*Address, error) {
		return v.attempt(ctx, code)
	})
	if err != nil {
		if resilience.IsTransient(err) {
			zap.L().Warn("cep lookup failed after retries",
				zap.String("cep", code),
				zap.Int("attempts", v.retry.MaxAttempts),
				zap.Error(err),
			)
			v.observe(OutcomeExhausted)
			return nil, nil
		}
		v.observe(OutcomeError)
		return nil, err
	}

	if addr == nil {
		zap.L().Debug("cep not found", zap.String("cep", code))
		v.observe(OutcomeNotFound)
	} else {
		v.observe(OutcomeFound)
	}

	if err := cache.SetJSON(ctx, v.cache, cacheKey(code), addr); err != nil {
		zap.L().Warn("cep: cache store failed", zap.String("cep", code), zap.Error(err))
	}
	return addr, nil
}

// attempt performs one gated request. A nil address with a nil error means
// ViaCEP reported the code as unknown.
func (v *Validator) attempt(ctx context.Context, code string) (*Address, error) {
	if err := v.gate.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := v.baseURL + "/" + code + "/json/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "cep: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, resilience.NetworkError("cep", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resilience.StatusError("cep", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NetworkError("cep", err)
	}

	var payload viaCEPResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, resilience.DecodeError("cep", err)
	}
	if payload.notFound() {
		return nil, nil
	}

	addr := payload.Address
	return &addr, nil
}
