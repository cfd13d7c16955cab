package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  *time.Time
	// MaxAge < 0 deletes a stored cookie with the same name, domain and path.
	MaxAge   int
	Secure   bool
	HTTPOnly bool
}

// JarCookieStore is the shared cookie store used by API clients. It
// implements http.CookieJar so clients can hold it across ClearAll calls.
type JarCookieStore struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func NewJarCookieStore() (*JarCookieStore, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &JarCookieStore{jar: jar}, nil
}

func (s *JarCookieStore) Set(ctx context.Context, rawURL string, c Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid cookie url %q", rawURL)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("cookie name is empty")
	}

	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		MaxAge:   c.MaxAge,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if c.Expires != nil {
		hc.Expires = *c.Expires
	}

	s.SetCookies(u, []*http.Cookie{hc})
	return nil
}

// ClearAll drops every stored cookie.
func (s *JarCookieStore) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jar = jar
	s.mu.Unlock()
	return nil
}

func (s *JarCookieStore) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.RLock()
	jar := s.jar
	s.mu.RUnlock()
	jar.SetCookies(u, cookies)
}

func (s *JarCookieStore) Cookies(u *url.URL) []*http.Cookie {
	s.mu.RLock()
	jar := s.jar
	s.mu.RUnlock()
	return jar.Cookies(u)
}

var _ http.CookieJar = (*JarCookieStore)(nil)
