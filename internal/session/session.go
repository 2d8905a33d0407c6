package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/sessions"
)

// Session is the request's view of one stored session. It is safe for use
// by concurrent goroutines serving the same request.
type Session struct {
	mu          sync.Mutex
	raw         *sessions.Session
	fingerprint string
	destroyed   bool
}

func newSession(raw *sessions.Session) *Session {
	s := &Session{raw: raw}
	s.fingerprint = fingerprint(raw.Values)
	return s
}

func (s *Session) ID() string { return s.raw.ID }

// IsNew reports whether the session was created by this request.
func (s *Session) IsNew() bool { return s.raw.IsNew }

func (s *Session) Get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw.Values[key]
}

func (s *Session) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw.Values[key] = v
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.raw.Values, key)
}

// Int returns a numeric value as an int, or 0 when absent or not a number.
// Values read back from the store are json.Number.
func (s *Session) Int(key string) int {
	switch v := s.Get(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int(v)
	case json.Number:
		n, err := strconv.ParseInt(v.String(), 10, 64)
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0
			}
			return int(f)
		}
		return int(n)
	}
	return 0
}

// Values returns a copy of the session data.
func (s *Session) Values() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stringKeys(s.raw.Values)
}

// Destroy drops the session. The store entry is removed and the cookie
// expired when the response is committed.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.raw.Values = map[any]any{}
}

func (s *Session) modified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fingerprint(s.raw.Values) != s.fingerprint
}

func (s *Session) isDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// fingerprint hashes the canonical JSON of the values. Map keys marshal
// sorted, so equal contents give equal fingerprints.
func fingerprint(values map[any]any) string {
	b, err := json.Marshal(stringKeys(values))
	if err != nil {
		// unencodable values always count as modified and fail at save
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func stringKeys(values map[any]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if ks, ok := k.(string); ok {
			out[ks] = v
		}
	}
	return out
}

func anyKeys(values map[string]any) map[any]any {
	out := make(map[any]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

type ctxKey struct{}

// handle defers loading until a handler asks for the session.
type handle struct {
	m    *Manager
	r    *http.Request
	mu   sync.Mutex
	done bool
	sess *Session
	err  error
}

func (h *handle) load() (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.done {
		h.done = true
		raw, err := h.m.New(h.r, h.m.opts.CookieName)
		if err != nil {
			h.err = err
		} else {
			h.sess = newSession(raw)
		}
	}
	return h.sess, h.err
}

// peek returns the session only if a handler already loaded it.
func (h *handle) peek() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess
}

// FromContext returns the request's session, loading it on first call. It
// fails when the store cannot be reached or the session stage is not
// installed.
func FromContext(ctx context.Context) (*Session, error) {
	h, ok := ctx.Value(ctxKey{}).(*handle)
	if !ok {
		return nil, errNoMiddleware
	}
	return h.load()
}
