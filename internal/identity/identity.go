// Package identity supplies stable anonymous visitor identifiers.
package identity

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultCookieName = "fg_vid"
	DefaultTTL        = 365 * 24 * time.Hour
)

// Provider returns the current visitor's ID, minting one if needed.
type Provider interface {
	GetOrCreateVisitorID() string
}

// Static always returns the same ID.
type Static string

func (s Static) GetOrCreateVisitorID() string { return string(s) }

// Cookies issues visitor IDs as long-lived HTTP cookies.
type Cookies struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

func NewCookies(name string, ttl time.Duration) *Cookies {
	if name == "" {
		name = DefaultCookieName
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cookies{Name: name, TTL: ttl}
}

// ForRequest binds the cookie jar to one request/response pair.
func (c *Cookies) ForRequest(w http.ResponseWriter, r *http.Request) Provider {
	return &cookieProvider{cookies: c, w: w, r: r}
}

type cookieProvider struct {
	cookies *Cookies
	w       http.ResponseWriter
	r       *http.Request
	id      string
}

func (p *cookieProvider) GetOrCreateVisitorID() string {
	if p.id != "" {
		return p.id
	}

	if cookie, err := p.r.Cookie(p.cookies.Name); err == nil && validID(cookie.Value) {
		p.id = cookie.Value
		return p.id
	}

	p.id = uuid.NewString()
	http.SetCookie(p.w, &http.Cookie{
		Name:     p.cookies.Name,
		Value:    p.id,
		Path:     "/",
		HttpOnly: true,
		Secure:   p.cookies.Secure,
		MaxAge:   int(p.cookies.TTL / time.Second),
		SameSite: http.SameSiteLaxMode,
	})
	return p.id
}

func validID(v string) bool {
	_, err := uuid.Parse(v)
	return err == nil
}
