package model

import (
	"sync"
	"time"
)

// RowError records a row whose enrichment failed.
type RowError struct {
	Row   int    `json:"row"`   // absolute index within the source
	Chunk int    `json:"chunk"` // chunk the row belonged to
	Error string `json:"error"`
}

// StatsSnapshot is an immutable copy of Stats.
type StatsSnapshot struct {
	TotalRows        int        `json:"total_rows"`
	ProcessedRows    int        `json:"processed_rows"`
	FixedCEPs        int        `json:"fixed_ceps"`
	ValidCEPs        int        `json:"valid_ceps"`
	FoundCoordinates int        `json:"found_coordinates"`
	Errors           []RowError `json:"errors"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       time.Time  `json:"finished_at,omitzero"`
}

// ErrorRate returns the fraction of processed rows that recorded an error.
func (s StatsSnapshot) ErrorRate() float64 {
	if s.ProcessedRows == 0 {
		return 0
	}
	return float64(len(s.Errors)) / float64(s.ProcessedRows)
}

// CoordinateRate returns the fraction of processed rows that gained coordinates.
func (s StatsSnapshot) CoordinateRate() float64 {
	if s.ProcessedRows == 0 {
		return 0
	}
	return float64(s.FoundCoordinates) / float64(s.ProcessedRows)
}

// Progress returns the completed percentage in [0, 100].
func (s StatsSnapshot) Progress() float64 {
	if s.TotalRows <= 0 {
		return 100
	}
	p := float64(s.ProcessedRows) / float64(s.TotalRows) * 100
	if p > 100 {
		return 100
	}
	return p
}

// Stats accumulates counters for one run. It is safe for concurrent use by
// row workers and is never reset mid-run.
type Stats struct {
	mu   sync.Mutex
	snap StatsSnapshot
}

// NewStats creates an empty Stats stamped with the start time.
func NewStats(startedAt time.Time) *Stats {
	return &Stats{snap: StatsSnapshot{StartedAt: startedAt}}
}

// SetTotal records the number of data rows in the source.
func (s *Stats) SetTotal(n int) {
	s.mu.Lock()
	s.snap.TotalRows = n
	s.mu.Unlock()
}

// AddProcessed adds a finished chunk's length. The count is not clamped, so
// a disagreement with the counting pass stays visible; Progress clamps.
func (s *Stats) AddProcessed(n int) {
	s.mu.Lock()
	s.snap.ProcessedRows += n
	s.mu.Unlock()
}

// IncFixedCEP counts a postal code corrected from the row's address.
func (s *Stats) IncFixedCEP() {
	s.mu.Lock()
	s.snap.FixedCEPs++
	s.mu.Unlock()
}

// IncValidCEP counts a postal code confirmed by the directory service.
func (s *Stats) IncValidCEP() {
	s.mu.Lock()
	s.snap.ValidCEPs++
	s.mu.Unlock()
}

// IncCoordinates counts a row that gained a coordinate pair.
func (s *Stats) IncCoordinates() {
	s.mu.Lock()
	s.snap.FoundCoordinates++
	s.mu.Unlock()
}

// AddError appends a row error in arrival order.
func (s *Stats) AddError(e RowError) {
	s.mu.Lock()
	s.snap.Errors = append(s.snap.Errors, e)
	s.mu.Unlock()
}

// Finish stamps the end time.
func (s *Stats) Finish(at time.Time) {
	s.mu.Lock()
	s.snap.FinishedAt = at
	s.mu.Unlock()
}

// Snapshot returns a copy safe to read while the run continues.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	out.Errors = append([]RowError(nil), s.snap.Errors...)
	return out
}
