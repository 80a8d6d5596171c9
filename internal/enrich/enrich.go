// Package enrich validates the postal code of each address record and fills
// in coordinates, processing input files in bounded chunks.
package enrich

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/sells-group/geoenrich/internal/fetcher"
	"github.com/sells-group/geoenrich/internal/metrics"
	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/internal/monitoring"
	"github.com/sells-group/geoenrich/pkg/cep"
	"github.com/sells-group/geoenrich/pkg/geocode"
)

// PostalCodeLookup resolves a raw postal code to a directory entry. A nil
// entry with a nil error means the code is invalid, unknown, or could not be
// resolved after retries.
type PostalCodeLookup interface {
	Lookup(ctx context.Context, raw string) (*cep.Address, error)
}

// Geocoder resolves an address to coordinates. A nil coordinate with a nil
// error means no match.
type Geocoder interface {
	SearchByAddress(ctx context.Context, street, number, neighborhood, city, state string) (*geocode.Coordinate, error)
}

// RunStore persists run history.
type RunStore interface {
	CreateRun(ctx context.Context, id, source, output string) (*model.Run, error)
	CompleteRun(ctx context.Context, id string, stats model.StatsSnapshot) error
	FailRun(ctx context.Context, id string, stats model.StatsSnapshot, cause error) error
}

// Alerter is notified once per finished run.
type Alerter interface {
	NotifyRun(ctx context.Context, r monitoring.RunReport) int
}

// Option configures a Processor.
type Option func(*Processor)

// WithChunkSize sets the number of rows read and processed at a time.
func WithChunkSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithConcurrency sets how many rows of a chunk are enriched at once. The
// clients' gates still serialize network dispatch per service.
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithColumnMap renames alternate input headers to canonical column names.
func WithColumnMap(m ColumnMap) Option {
	return func(p *Processor) {
		p.columns = m
	}
}

// WithDelimiter sets the input field delimiter.
func WithDelimiter(r rune) Option {
	return func(p *Processor) {
		p.delimiter = r
	}
}

// WithEncoding forces the input text encoding instead of detecting it.
func WithEncoding(enc fetcher.Encoding) Option {
	return func(p *Processor) {
		p.encoding = enc
	}
}

// WithResolver sets how source strings become local files.
func WithResolver(r *fetcher.Resolver) Option {
	return func(p *Processor) {
		p.resolver = r
	}
}

// WithRunStore persists each run and its final stats.
func WithRunStore(s RunStore) Option {
	return func(p *Processor) {
		p.runs = s
	}
}

// WithMetrics records run and chunk metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithAlerter notifies a after every run.
func WithAlerter(a Alerter) Option {
	return func(p *Processor) {
		p.alerter = a
	}
}

// WithClock sets the clock used for run timestamps and chunk timing.
func WithClock(c clockwork.Clock) Option {
	return func(p *Processor) {
		p.clock = c
	}
}

// Processor enriches address records. It is safe for concurrent use; each
// ProcessFile call keeps its own statistics.
type Processor struct {
	validator PostalCodeLookup
	geocoder  Geocoder

	chunkSize   int
	concurrency int
	columns     ColumnMap
	delimiter   rune
	encoding    fetcher.Encoding

	resolver *fetcher.Resolver
	runs     RunStore
	metrics  *metrics.Metrics
	alerter  Alerter
	clock    clockwork.Clock
}

// New creates a Processor over the given lookup clients.
func New(validator PostalCodeLookup, geocoder Geocoder, opts ...Option) *Processor {
	p := &Processor{
		validator:   validator,
		geocoder:    geocoder,
		chunkSize:   fetcher.DefaultChunkSize,
		concurrency: 1,
		delimiter:   ',',
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.resolver == nil {
		p.resolver = fetcher.NewResolver()
	}
	return p
}
