package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisTierStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTierStore(client), mr
}

// exerciseTierStore runs the behaviour every TierStore must share
func exerciseTierStore(t *testing.T, store TierStore, ctx context.Context, prefix string) {
	t.Helper()

	if got, err := store.Get(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("Get(missing) = %q, %v; want nil, nil", got, err)
	}

	if err := store.Set(ctx, prefix+"u1", []byte(`{"role":"vc"}`), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, prefix+"u2", []byte(`{"role":"founder"}`), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "other_key", []byte("x"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, prefix+"u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"role":"vc"}` {
		t.Errorf("Get() = %q", got)
	}

	keys, err := store.Keys(ctx, prefix)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != prefix+"u1" || keys[1] != prefix+"u2" {
		t.Errorf("Keys() = %v", keys)
	}

	if err := store.Delete(ctx, prefix+"u1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := store.Get(ctx, prefix+"u1"); got != nil {
		t.Errorf("Get() after Delete = %q, want nil", got)
	}
	if err := store.Delete(ctx, "never-set"); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

func TestMemoryTierStore(t *testing.T) {
	exerciseTierStore(t, NewMemoryTierStore(time.Minute), context.Background(), "role_cache:user:")
}

func TestMemoryTierStoreCopiesValues(t *testing.T) {
	store := NewMemoryTierStore(time.Minute)
	ctx := context.Background()

	value := []byte("abc")
	_ = store.Set(ctx, "k", value, 0)
	value[0] = 'z'

	got, _ := store.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value changed through caller slice: %q", got)
	}
}

func TestSessionTierStore(t *testing.T) {
	exerciseTierStore(t, NewSessionTierStore(0), context.Background(), "role_cache:user:")
}

func TestSessionTierStoreExpiry(t *testing.T) {
	store := NewSessionTierStore(0)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_ = store.Set(ctx, "k", []byte("v"), time.Minute)
	now = now.Add(2 * time.Minute)

	if got, _ := store.Get(ctx, "k"); got != nil {
		t.Fatalf("Get() after expiry = %q, want nil", got)
	}
	if keys, _ := store.Keys(ctx, ""); len(keys) != 0 {
		t.Errorf("expired key still listed: %v", keys)
	}
}

func TestRedisTierStore(t *testing.T) {
	store, _ := newTestRedisStore(t)
	exerciseTierStore(t, store, context.Background(), "role_cache:user:")
}

func TestRedisTierStoreTTL(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	_ = store.Set(ctx, "k", []byte("v"), time.Minute)
	mr.FastForward(2 * time.Minute)

	if got, err := store.Get(ctx, "k"); err != nil || got != nil {
		t.Errorf("Get() after ttl = %q, %v; want nil, nil", got, err)
	}
}

func TestRedisTierStoreReportsConnectionErrors(t *testing.T) {
	store, mr := newTestRedisStore(t)
	mr.Close()

	if _, err := store.Get(context.Background(), "k"); err == nil {
		t.Error("expected error from closed server")
	}
}

func TestCookieTierStore(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	jar := NewRequestCookieJar(rec, req)
	ctx := WithCookieJar(context.Background(), jar)

	exerciseTierStore(t, NewCookieTierStore(true), ctx, "cr_role_")
}

func TestCookieTierStoreAttributes(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := WithCookieJar(context.Background(), NewRequestCookieJar(rec, req))

	store := NewCookieTierStore(true)
	if err := store.Set(ctx, "cr_role_abcd1234", []byte(`{"r":"vc"}`), 30*24*time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 Set-Cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if !c.Secure || !c.HttpOnly || c.SameSite != http.SameSiteStrictMode {
		t.Errorf("cookie attributes = secure:%v httpOnly:%v sameSite:%v", c.Secure, c.HttpOnly, c.SameSite)
	}
	if c.MaxAge != 30*24*60*60 {
		t.Errorf("MaxAge = %d", c.MaxAge)
	}
}

func TestCookieTierStoreReadsRequestCookies(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "cr_role_x", Value: "eyJyIjoidmMifQ"})
	ctx := WithCookieJar(context.Background(), NewRequestCookieJar(httptest.NewRecorder(), req))

	got, err := NewCookieTierStore(true).Get(ctx, "cr_role_x")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"r":"vc"}` {
		t.Errorf("Get() = %q", got)
	}
}

func TestCookieTierStoreWithoutJar(t *testing.T) {
	store := NewCookieTierStore(true)
	ctx := context.Background()

	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrTierUnavailable) {
		t.Errorf("Get() error = %v, want ErrTierUnavailable", err)
	}
	if err := store.Set(ctx, "k", []byte("v"), 0); !errors.Is(err, ErrTierUnavailable) {
		t.Errorf("Set() error = %v, want ErrTierUnavailable", err)
	}
}
