package model

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord_PadsShortRows(t *testing.T) {
	r := NewRecord([]string{ColCEP, ColStreet, ColCity}, []string{"01310-100", "Av. Paulista"})

	assert.Equal(t, "01310-100", r.Get(ColCEP))
	assert.Equal(t, "Av. Paulista", r.Get(ColStreet))
	assert.Equal(t, "", r.Get(ColCity))
}

func TestRecord_GetTreatsNullMarkersAsEmpty(t *testing.T) {
	r := NewRecord([]string{"a", "b", "c", "d"}, []string{"nan", " NULL ", "None", " x "})

	assert.Empty(t, r.Get("a"))
	assert.Empty(t, r.Get("b"))
	assert.Empty(t, r.Get("c"))
	assert.Equal(t, "x", r.Get("d"))
	assert.Empty(t, r.Get("missing"))
}

func TestRecord_Coordinates(t *testing.T) {
	r := NewRecord([]string{ColCEP}, []string{"01310100"})
	assert.False(t, r.HasCoordinates())

	r.SetCoordinates(-23.5614, -46.6559)
	assert.True(t, r.HasCoordinates())
	assert.Equal(t, "-23.5614", r.Fields[ColLatitude])

	lat, lon, ok := r.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, -23.5614, lat, 1e-9)
	assert.InDelta(t, -46.6559, lon, 1e-9)
}

func TestRecord_HasCoordinatesNeedsBoth(t *testing.T) {
	r := NewRecord([]string{ColLatitude, ColLongitude}, []string{"-23.5", ""})
	assert.False(t, r.HasCoordinates())

	_, _, ok := r.Coordinates()
	assert.False(t, ok)
}

func TestWithOutputColumns(t *testing.T) {
	got := WithOutputColumns([]string{ColCEP, ColLatitude})
	assert.Equal(t, []string{ColCEP, ColLatitude, ColCEPCorrected, ColLongitude}, got)

	full := WithOutputColumns([]string{ColCEPCorrected, ColLatitude, ColLongitude})
	assert.Len(t, full, 3)
}

func TestRecord_Values(t *testing.T) {
	header := []string{ColCEP, ColCEPCorrected}
	r := NewRecord([]string{ColCEP}, []string{"123"})
	assert.Equal(t, []string{"123", ""}, r.Values(header))
}

func TestStats_ConcurrentUpdates(t *testing.T) {
	s := NewStats(time.Unix(0, 0))
	s.SetTotal(100)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncCoordinates()
			if i%10 == 0 {
				s.AddError(RowError{Row: i, Error: "boom"})
			}
		}()
	}
	wg.Wait()
	s.AddProcessed(50)

	snap := s.Snapshot()
	assert.Equal(t, 50, snap.FoundCoordinates)
	assert.Len(t, snap.Errors, 5)
	assert.Equal(t, 50, snap.ProcessedRows)
	assert.InDelta(t, 50.0, snap.Progress(), 1e-9)
	assert.InDelta(t, 0.1, snap.ErrorRate(), 1e-9)
	assert.InDelta(t, 1.0, snap.CoordinateRate(), 1e-9)
}

func TestStats_ProcessedIsSumOfChunks(t *testing.T) {
	s := NewStats(time.Now())
	s.SetTotal(10)
	s.AddProcessed(8)
	s.AddProcessed(8)

	snap := s.Snapshot()
	assert.Equal(t, 16, snap.ProcessedRows, "mismatch with the total is not hidden")
	assert.InDelta(t, 100.0, snap.Progress(), 1e-9)
}

func TestStats_SnapshotIsACopy(t *testing.T) {
	s := NewStats(time.Now())
	s.AddError(RowError{Row: 1, Error: "first"})

	snap := s.Snapshot()
	s.AddError(RowError{Row: 2, Error: "second"})

	assert.Len(t, snap.Errors, 1)
	assert.Len(t, s.Snapshot().Errors, 2)
}

func TestStatsSnapshot_EmptyRates(t *testing.T) {
	var snap StatsSnapshot
	assert.Zero(t, snap.ErrorRate())
	assert.Zero(t, snap.CoordinateRate())
	assert.InDelta(t, 100.0, snap.Progress(), 1e-9)
}
