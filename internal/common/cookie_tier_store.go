package common

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// CookieJar is the set/get/delete-by-name view of one client's cookies
type CookieJar interface {
	Cookie(name string) (*http.Cookie, bool)
	SetCookie(c *http.Cookie)
	Names() []string
}

type cookieJarKey struct{}

// WithCookieJar binds a jar to ctx for the cookie tier
func WithCookieJar(ctx context.Context, jar CookieJar) context.Context {
	return context.WithValue(ctx, cookieJarKey{}, jar)
}

// CookieJarFromContext returns the jar bound to ctx, if any
func CookieJarFromContext(ctx context.Context) (CookieJar, bool) {
	jar, ok := ctx.Value(cookieJarKey{}).(CookieJar)
	return jar, ok && jar != nil
}

// RequestCookieJar exposes the cookies of one HTTP exchange. Reads see the
// request cookies plus anything written during the same request.
type RequestCookieJar struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	cookies map[string]*http.Cookie
}

func NewRequestCookieJar(w http.ResponseWriter, r *http.Request) *RequestCookieJar {
	jar := &RequestCookieJar{
		w:       w,
		cookies: make(map[string]*http.Cookie),
	}
	for _, c := range r.Cookies() {
		jar.cookies[c.Name] = c
	}
	return jar
}

func (j *RequestCookieJar) Cookie(name string) (*http.Cookie, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, ok := j.cookies[name]
	return c, ok
}

func (j *RequestCookieJar) SetCookie(c *http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	http.SetCookie(j.w, c)
	if c.MaxAge < 0 {
		delete(j.cookies, c.Name)
		return
	}
	j.cookies[c.Name] = c
}

func (j *RequestCookieJar) Names() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	names := make([]string, 0, len(j.cookies))
	for name := range j.cookies {
		names = append(names, name)
	}
	return names
}

// CookieTierStore stores values as cookies on the jar bound to the context.
// Values are base64url encoded so any payload is a valid cookie value.
type CookieTierStore struct {
	secure bool
	now    func() time.Time
}

// Ensure CookieTierStore implements TierStore
var _ TierStore = (*CookieTierStore)(nil)

func NewCookieTierStore(secure bool) *CookieTierStore {
	return &CookieTierStore{secure: secure, now: time.Now}
}

func (c *CookieTierStore) Name() string { return "cookie" }

func (c *CookieTierStore) Get(ctx context.Context, key string) ([]byte, error) {
	jar, ok := CookieJarFromContext(ctx)
	if !ok {
		return nil, ErrTierUnavailable
	}
	cookie, found := jar.Cookie(key)
	if !found || cookie.Value == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("decode cookie %s: %w", key, err)
	}
	return data, nil
}

func (c *CookieTierStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	jar, ok := CookieJarFromContext(ctx)
	if !ok {
		return ErrTierUnavailable
	}
	cookie := &http.Cookie{
		Name:     key,
		Value:    base64.RawURLEncoding.EncodeToString(value),
		Path:     "/",
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	if ttl > 0 {
		cookie.MaxAge = int(ttl / time.Second)
		cookie.Expires = c.now().Add(ttl)
	}
	jar.SetCookie(cookie)
	return nil
}

func (c *CookieTierStore) Delete(ctx context.Context, key string) error {
	jar, ok := CookieJarFromContext(ctx)
	if !ok {
		return ErrTierUnavailable
	}
	jar.SetCookie(&http.Cookie{
		Name:     key,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

func (c *CookieTierStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	jar, ok := CookieJarFromContext(ctx)
	if !ok {
		return nil, ErrTierUnavailable
	}
	var keys []string
	for _, name := range jar.Names() {
		if strings.HasPrefix(name, prefix) {
			keys = append(keys, name)
		}
	}
	return keys, nil
}
