package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geoenrich/internal/model"
)

func TestObserver_CountsOutcomes(t *testing.T) {
	m := New()
	observe := m.Observer("viacep")
	observe("found")
	observe("found")
	observe("not_found")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Lookups.WithLabelValues("viacep", "found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lookups.WithLabelValues("viacep", "not_found")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Lookups.WithLabelValues("nominatim", "found")))
}

func TestObserver_NilMetrics(t *testing.T) {
	var m *Metrics
	assert.Nil(t, m.Observer("viacep"))
	m.ObserveRun(model.RunStatusComplete, model.StatsSnapshot{})
}

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun(model.RunStatusComplete, model.StatsSnapshot{
		ProcessedRows:    10,
		FoundCoordinates: 7,
		Errors:           []model.RowError{{Row: 3, Error: "x"}},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("complete")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.RowsProcessed))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.CoordinatesFound))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RowErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FixedCEPs))
}

func TestMiddleware_RecordsRoutePatternAndStatus(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/runs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/runs/a", "/runs/b", "/ok"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/runs/{id}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/ok", "200")))
	assert.Positive(t, testutil.CollectAndCount(m.httpDuration))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	m := New()
	m.Observer("nominatim")("found")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `geoenrich_lookups_total{outcome="found",service="nominatim"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNew_Independent(t *testing.T) {
	a, b := New(), New()
	a.RowsProcessed.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RowsProcessed))
}
