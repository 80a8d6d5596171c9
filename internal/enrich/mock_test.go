package enrich

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/internal/monitoring"
	"github.com/sells-group/geoenrich/pkg/cep"
	"github.com/sells-group/geoenrich/pkg/geocode"
)

// --- PostalCodeLookup Mock ---

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) Lookup(ctx context.Context, raw string) (*cep.Address, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cep.Address), args.Error(1)
}

// --- Geocoder Mock ---

type mockGeocoder struct {
	mock.Mock
}

func (m *mockGeocoder) SearchByAddress(ctx context.Context, street, number, neighborhood, city, state string) (*geocode.Coordinate, error) {
	args := m.Called(ctx, street, number, neighborhood, city, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geocode.Coordinate), args.Error(1)
}

// --- RunStore fake ---

type fakeRunStore struct {
	mu        sync.Mutex
	created   []string
	completed map[string]model.StatsSnapshot
	failed    map[string]error
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		completed: make(map[string]model.StatsSnapshot),
		failed:    make(map[string]error),
	}
}

func (f *fakeRunStore) CreateRun(_ context.Context, id, source, output string) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, id)
	return &model.Run{ID: id, Source: source, Output: output, Status: model.RunStatusRunning}, nil
}

func (f *fakeRunStore) CompleteRun(_ context.Context, id string, stats model.StatsSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = stats
	return nil
}

func (f *fakeRunStore) FailRun(_ context.Context, id string, _ model.StatsSnapshot, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = cause
	return nil
}

// --- Alerter fake ---

type fakeAlerter struct {
	reports []monitoring.RunReport
}

func (f *fakeAlerter) NotifyRun(_ context.Context, r monitoring.RunReport) int {
	f.reports = append(f.reports, r)
	return 0
}

var (
	paulista = &cep.Address{
		CEP:          "01310-100",
		Street:       "Avenida Paulista",
		Neighborhood: "Bela Vista",
		City:         "São Paulo",
		State:        "SP",
	}
	paulistaCoord = &geocode.Coordinate{Lat: -23.5613, Lon: -46.6565}
)
