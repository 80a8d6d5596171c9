package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geoenrich/internal/cache"
	"github.com/sells-group/geoenrich/internal/resilience"
)

const paulistaResult = `[{
	"place_id": 123,
	"lat": "-23.5613",
	"lon": "-46.6565",
	"display_name": "Avenida Paulista, Bela Vista, São Paulo, Brasil"
}]`

func TestBuildAddressQuery(t *testing.T) {
	tests := []struct {
		name string
		in   [5]string
		want string
	}{
		{"all parts", [5]string{"Rua A", "10", "Centro", "Recife", "PE"}, "Rua A, 10, Centro, Recife, PE"},
		{"skips empty", [5]string{"Rua A", "", "", "Recife", "PE"}, "Rua A, Recife, PE"},
		{"trims", [5]string{"  Rua A ", " ", "Centro", "Recife", ""}, "Rua A, Centro, Recife"},
		{"nothing", [5]string{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildAddressQuery(tt.in[0], tt.in[1], tt.in[2], tt.in[3], tt.in[4])
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearchByAddress_Found(t *testing.T) {
	var gotQuery, gotUA, gotLang, gotFormat, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotFormat = r.URL.Query().Get("format")
		gotLimit = r.URL.Query().Get("limit")
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, paulistaResult)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, WithAppName("TestApp"))
	coord, err := c.SearchByAddress(context.Background(), "Avenida Paulista", "1000", "Bela Vista", "São Paulo", "SP")

	require.NoError(t, err)
	require.NotNil(t, coord)
	assert.InDelta(t, -23.5613, coord.Lat, 1e-9)
	assert.InDelta(t, -46.6565, coord.Lon, 1e-9)
	assert.Equal(t, "Avenida Paulista, 1000, Bela Vista, São Paulo, SP", gotQuery)
	assert.Equal(t, "json", gotFormat)
	assert.Equal(t, "1", gotLimit)
	assert.Contains(t, gotUA, "TestApp/1.0")
	assert.Equal(t, "pt-BR,pt;q=0.9,en;q=0.8", gotLang)
}

func TestSearchByAddress_ShortQuerySkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, paulistaResult)
	}))
	defer srv.Close()

	store := cache.NewMemory(0)
	c := newTestClient(t, srv.URL, WithCache(store))

	coord, err := c.SearchByAddress(context.Background(), "A", "", "", "", "B")
	require.NoError(t, err)
	assert.Nil(t, coord)

	coord, err = c.SearchByAddress(context.Background(), " ", "", "", "", "")
	require.NoError(t, err)
	assert.Nil(t, coord)

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 0, store.Len())
}

func TestSearchByAddress_CacheKeyIsQuery(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, paulistaResult)
	}))
	defer srv.Close()

	store := cache.NewMemory(0)
	c := newTestClient(t, srv.URL, WithCache(store))
	ctx := context.Background()

	_, err := c.SearchByAddress(ctx, "Rua A", "", "", "Recife", "PE")
	require.NoError(t, err)
	// Same joined query from different argument spacing.
	_, err = c.SearchByAddress(ctx, "Rua A ", "", " ", "Recife", "PE")
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	_, ok, err := store.Get(ctx, "address:Rua A, Recife, PE")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSearch_EmptyResultIsCachedAbsence(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	for range 3 {
		coord, err := c.SearchByAddress(ctx, "Rua Inexistente", "", "", "Lugar Nenhum", "XX")
		require.NoError(t, err)
		assert.Nil(t, coord)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_ExhaustionIsNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := cache.NewMemory(0)
	c := newTestClient(t, srv.URL, WithCache(store))
	ctx := context.Background()

	coord, err := c.SearchByAddress(ctx, "Rua A", "", "", "Recife", "PE")
	require.NoError(t, err)
	assert.Nil(t, coord)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 0, store.Len())

	_, err = c.SearchByAddress(ctx, "Rua A", "", "", "Recife", "PE")
	require.NoError(t, err)
	assert.Equal(t, int32(6), calls.Load())
}

func TestSearch_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, paulistaResult)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	coord, err := c.SearchByAddress(context.Background(), "Avenida Paulista", "", "", "São Paulo", "SP")

	require.NoError(t, err)
	require.NotNil(t, coord)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearch_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad latitude", `[{"lat": "north", "lon": "-46.6"}]`, "geocode: parse latitude"},
		{"bad longitude", `[{"lat": "-23.5", "lon": ""}]`, "geocode: parse longitude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			store := cache.NewMemory(0)
			c := newTestClient(t, srv.URL, WithCache(store))
			coord, err := c.SearchByAddress(context.Background(), "Rua A", "", "", "Recife", "PE")

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Nil(t, coord)
			assert.Equal(t, int32(1), calls.Load())
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestSearch_MalformedBodyIsRetriedAndNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `<html>`)
	}))
	defer srv.Close()

	store := cache.NewMemory(0)
	c := newTestClient(t, srv.URL, WithCache(store))
	coord, err := c.SearchByAddress(context.Background(), "Rua A", "", "", "Recife", "PE")

	require.NoError(t, err)
	assert.Nil(t, coord)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 0, store.Len())
}

func TestSearch_CancelledCallerDoesNotFailSharedSearch(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		select {
		case arrived <- struct{}{}:
		default:
		}
		<-release
		_, _ = io.WriteString(w, paulistaResult)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.SearchByAddress(ctxA, "Avenida Paulista", "", "Bela Vista", "São Paulo", "SP")
		errA <- err
	}()
	<-arrived

	type result struct {
		coord *Coordinate
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		coord, err := c.SearchByAddress(context.Background(), "Avenida Paulista", "", "Bela Vista", "São Paulo", "SP")
		resB <- result{coord, err}
	}()

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	got := <-resB
	require.NoError(t, got.err)
	require.NotNil(t, got.coord)
	assert.InDelta(t, -23.5613, got.coord.Lat, 1e-9)
}

func TestSearchByPostalCode(t *testing.T) {
	var queries []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		_, _ = io.WriteString(w, paulistaResult)
	}))
	defer srv.Close()

	store := cache.NewMemory(0)
	c := newTestClient(t, srv.URL, WithCache(store))
	ctx := context.Background()

	_, err := c.SearchByPostalCode(ctx, "01310-100", "", "")
	require.NoError(t, err)
	_, err = c.SearchByPostalCode(ctx, "01310100", "São Paulo", "SP")
	require.NoError(t, err)
	// Same code with a different city is a distinct cache entry.
	_, err = c.SearchByPostalCode(ctx, "01310100", "Santos", "SP")
	require.NoError(t, err)
	// Repeat hits the cache.
	_, err = c.SearchByPostalCode(ctx, "01310-100", "São Paulo", "SP")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"01310100, BR",
		"01310100, São Paulo, SP",
		"01310100, Santos, SP",
	}, queries)

	_, ok, _ := store.Get(ctx, "cep:01310100::BR")
	assert.True(t, ok)
	_, ok, _ = store.Get(ctx, "cep:01310100:São Paulo:SP")
	assert.True(t, ok)
}

func TestSearch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, srv.URL)
	coord, err := c.SearchByAddress(ctx, "Rua A", "", "", "Recife", "PE")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, coord)
}

// stampTransport records the fake-clock time of each dispatch.
type stampTransport struct {
	clock clockwork.Clock
	mu    sync.Mutex
	times []time.Time
}

func (s *stampTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	s.times = append(s.times, s.clock.Now())
	s.mu.Unlock()
	rec := httptest.NewRecorder()
	_, _ = io.WriteString(rec, paulistaResult)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func TestSearch_RequestsAreSpacedByGate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rt := &stampTransport{clock: clock}
	c := NewClient(
		WithHTTPClient(&http.Client{Transport: rt}),
		WithGate(resilience.NewGate(DefaultInterval, clock)),
		WithRetry(resilience.FixedRetryConfig(3, 0)),
		WithCache(cache.NewMemory(0)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, city := range []string{"Recife", "Olinda", "Natal"} {
			_, err := c.SearchByAddress(ctx, "Rua A", "", "", city, "")
			assert.NoError(t, err)
		}
	}()

	for range 2 {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(DefaultInterval)
	}
	<-done

	rt.mu.Lock()
	defer rt.mu.Unlock()
	require.Len(t, rt.times, 3)
	assert.Equal(t, DefaultInterval, rt.times[1].Sub(rt.times[0]))
	assert.Equal(t, DefaultInterval, rt.times[2].Sub(rt.times[1]))
}

func TestSearch_ConcurrentCallersQueueOnGate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rt := &stampTransport{clock: clock}
	c := NewClient(
		WithHTTPClient(&http.Client{Transport: rt}),
		WithGate(resilience.NewGate(DefaultInterval, clock)),
		WithRetry(resilience.FixedRetryConfig(3, 0)),
		WithCache(cache.NewMemory(0)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, city := range []string{"Recife", "Olinda", "Natal"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.SearchByAddress(ctx, "Rua A", "", "", city, "")
			assert.NoError(t, err)
		}()
	}

	// One caller dispatches immediately, the other two wait on the gate.
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(2 * DefaultInterval)
	wg.Wait()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	assert.Len(t, rt.times, 3)
}
