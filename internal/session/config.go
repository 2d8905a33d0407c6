package session

import (
	"time"
)

// DefaultCookieName matches the cookie name used by Express session
// middleware so existing browser sessions carry over.
const DefaultCookieName = "connect.sid"

// DefaultTimeout bounds each store round trip.
const DefaultTimeout = 2 * time.Second

type Cookie struct {
	HTTPOnly bool
	MaxAge   time.Duration
	Secure   bool
}

// Config is built once at startup and passed by value.
type Config struct {
	// Resave writes unmodified sessions back on every request.
	Resave bool
	// SaveUninitialized stores sessions that were created but never modified.
	SaveUninitialized bool
	Secret            string
	Cookie            Cookie
	Store             Store
	// Proxy trusts X-Forwarded-Proto when deciding whether a Secure cookie
	// may be issued.
	Proxy bool
}

// Options holds the knobs that are not part of Config.
type Options struct {
	CookieName string
	Timeout    time.Duration
	// Observe is called after every store operation with its name ("get",
	// "set", "touch", "destroy") and result.
	Observe func(op string, err error)
}

func (o *Options) setDefaults() {
	if o.CookieName == "" {
		o.CookieName = DefaultCookieName
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Observe == nil {
		o.Observe = func(string, error) {}
	}
}
