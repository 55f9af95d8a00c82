package domain

import "time"

// Login success heuristics, in strictly decreasing trust order.
const (
	LoginMethodRedirect = "redirect"
	LoginMethodContent  = "content"
	LoginMethodCookie   = "cookie"
	LoginMethodFallback = "fallback"
)

// SessionToken is an authenticated cookie bundle for the scrape site.
type SessionToken struct {
	Cookies    string    `json:"cookies"`
	Method     string    `json:"method"`
	ObtainedAt time.Time `json:"obtainedAt"`
}

// Expired reports whether the token is past its useful life at now.
func (t *SessionToken) Expired(ttl time.Duration, now time.Time) bool {
	if t == nil || t.Cookies == "" {
		return true
	}
	return now.Sub(t.ObtainedAt) >= ttl
}
