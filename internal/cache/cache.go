// Package cache provides the lookup caches used by the postal-code validator
// and the geocoder. A cache entry is either a positive result or a confirmed
// absence; transient failures are never stored.
package cache

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Entry is a cached lookup outcome. Found=false marks a confirmed absence.
type Entry struct {
	Found bool
	Value []byte
}

// Absent is the entry stored for a confirmed negative.
var Absent = Entry{}

// Store is a key-value cache for lookup outcomes. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the entry for key and whether it was present.
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Set stores an entry, replacing any previous one.
	Set(ctx context.Context, key string, e Entry) error

	// Close releases backend resources.
	Close() error
}

// GetJSON looks up key and decodes a positive entry into T. The returned
// pointer is nil for a cached absence; hit is false on a miss.
func GetJSON[T any](ctx context.Context, s Store, key string) (val *T, hit bool, err error) {
	e, ok, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: get %s", key)
	}
	if !ok {
		return nil, false, nil
	}
	if !e.Found {
		return nil, true, nil
	}
	var v T
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return nil, false, eris.Wrapf(err, "cache: decode %s", key)
	}
	return &v, true, nil
}

// SetJSON stores val under key, or a confirmed absence when val is nil.
func SetJSON[T any](ctx context.Context, s Store, key string, val *T) error {
	if val == nil {
		return eris.Wrapf(s.Set(ctx, key, Absent), "cache: set %s", key)
	}
	data, err := json.Marshal(val)
	if err != nil {
		return eris.Wrapf(err, "cache: encode %s", key)
	}
	return eris.Wrapf(s.Set(ctx, key, Entry{Found: true, Value: data}), "cache: set %s", key)
}
