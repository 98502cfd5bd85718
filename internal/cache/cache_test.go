package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeClient implements client on top of a map.
type fakeClient struct {
	data    map[string]string
	ttls    map[string]time.Duration
	err     error
	closed  bool
	pingErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestRedisCache_GetSet(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	c := &RedisCache{rdb: fc}
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "search:x"); ok || err != nil {
		t.Fatalf("Get on empty = ok %v, err %v; want miss", ok, err)
	}
	if err := c.Set(ctx, "search:x", []byte(`{"v":1}`), 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if fc.ttls["search:x"] != 5*time.Minute {
		t.Errorf("ttl = %v, want 5m", fc.ttls["search:x"])
	}
	got, ok, err := c.Get(ctx, "search:x")
	if !ok || err != nil || string(got) != `{"v":1}` {
		t.Errorf("Get = %q, %v, %v", got, ok, err)
	}
}

func TestRedisCache_Errors(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.err = errors.New("i/o timeout")
	fc.pingErr = fc.err
	c := &RedisCache{rdb: fc}
	ctx := context.Background()

	if _, _, err := c.Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get err = %v, want ErrUnavailable", err)
	}
	if err := c.Set(ctx, "k", nil, time.Second); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Set err = %v, want ErrUnavailable", err)
	}
	if err := c.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping err = %v, want ErrUnavailable", err)
	}
	if err := c.Close(); err != nil || !fc.closed {
		t.Errorf("Close = %v, closed %v", err, fc.closed)
	}
}

func TestMemory_TTL(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Set(ctx, "a", []byte("1"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(ctx, "forever", []byte("2"), 0); err != nil {
		t.Fatal(err)
	}

	if v, ok, _ := m.Get(ctx, "a"); !ok || string(v) != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Error("Get(a) after ttl = hit, want miss")
	}
	if _, ok, _ := m.Get(ctx, "forever"); !ok {
		t.Error("Get(forever) = miss, want hit")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestMemory_CopiesValues(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()
	buf := []byte("abc")
	_ = m.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'X'

	v, _, _ := m.Get(ctx, "k")
	if string(v) != "abc" {
		t.Errorf("stored value aliased caller buffer: %q", v)
	}
	v[1] = 'Y'
	again, _, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("returned value aliased store: %q", again)
	}
}

func TestRedisIntegration(t *testing.T) {
	addr := os.Getenv("SONICHUNTER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SONICHUNTER_TEST_REDIS_ADDR not set, skipping Redis integration test")
	}
	ctx := context.Background()

	c, err := NewRedisCache(ctx, RedisOptions{Addr: addr})
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	key := "search:sonichunter-integration"
	if err := c.Set(ctx, key, []byte("payload"), 10*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := c.Get(ctx, key)
	if err != nil || !ok || string(v) != "payload" {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}
	if _, ok, err := c.Get(ctx, key+":missing"); ok || err != nil {
		t.Errorf("Get(missing) = %v, %v; want miss", ok, err)
	}
}
