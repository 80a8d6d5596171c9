package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis is an in-memory stand-in for the go-redis client.
type fakeRedis struct {
	data    map[string]string
	lastTTL time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	f.lastTTL = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedis_RoundTrip(t *testing.T) {
	fake := newFakeRedis()
	s := newRedisStore(fake, "", 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "cep:01310100", Entry{Found: true, Value: []byte(`{"uf":"SP"}`)}))
	assert.Contains(t, fake.data, "geoenrich:cep:01310100")
	assert.Equal(t, 24*time.Hour, fake.lastTTL)

	e, ok, err := s.Get(ctx, "cep:01310100")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.Found)
	assert.Equal(t, `{"uf":"SP"}`, string(e.Value))
}

func TestRedis_Absence(t *testing.T) {
	s := newRedisStore(newFakeRedis(), "test:", 0)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", Absent))

	e, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, e.Found)
}

func TestRedis_Miss(t *testing.T) {
	s := newRedisStore(newFakeRedis(), "", 0)

	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_MalformedValue(t *testing.T) {
	fake := newFakeRedis()
	fake.data["geoenrich:k"] = "garbage"
	s := newRedisStore(fake, "", 0)

	_, _, err := s.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestRedisValueEncoding(t *testing.T) {
	e, ok := decodeRedisValue(encodeRedisValue(Entry{Found: true, Value: []byte("x")}))
	require.True(t, ok)
	assert.Equal(t, Entry{Found: true, Value: []byte("x")}, e)

	e, ok = decodeRedisValue(encodeRedisValue(Absent))
	require.True(t, ok)
	assert.False(t, e.Found)

	_, ok = decodeRedisValue(nil)
	assert.False(t, ok)
}
