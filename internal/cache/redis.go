package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// redisClient is the subset of *redis.Client used by RedisStore.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Stored values carry a one-byte marker so an absence survives a round trip.
const (
	redisAbsent = '0'
	redisFound  = '1'
)

// RedisStore keeps lookup outcomes in Redis under a key prefix, with an
// optional expiry per entry.
type RedisStore struct {
	rdb    redisClient
	prefix string
	ttl    time.Duration
}

// RedisOptions configures ConnectRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// ConnectRedis creates a client and verifies the connection with a PING.
func ConnectRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "redis cache: ping")
	}
	return newRedisStore(rdb, opts.Prefix, opts.TTL), nil
}

func newRedisStore(rdb redisClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "geoenrich:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, eris.Wrap(err, "redis cache: get")
	}
	e, ok := decodeRedisValue(data)
	if !ok {
		return Entry{}, false, eris.Errorf("redis cache: malformed value for %s", key)
	}
	return e, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, e Entry) error {
	err := s.rdb.Set(ctx, s.prefix+key, encodeRedisValue(e), s.ttl).Err()
	return eris.Wrap(err, "redis cache: set")
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func encodeRedisValue(e Entry) []byte {
	if !e.Found {
		return []byte{redisAbsent}
	}
	out := make([]byte, 0, len(e.Value)+1)
	out = append(out, redisFound)
	return append(out, e.Value...)
}

func decodeRedisValue(data []byte) (Entry, bool) {
	if len(data) == 0 {
		return Entry{}, false
	}
	switch data[0] {
	case redisAbsent:
		return Absent, true
	case redisFound:
		return Entry{Found: true, Value: data[1:]}, true
	default:
		return Entry{}, false
	}
}
