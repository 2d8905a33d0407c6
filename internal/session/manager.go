package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

var (
	// ErrNoSecret is returned for every request when no signing secret is
	// configured.
	ErrNoSecret     = errors.New("secret option required for sessions")
	errNoMiddleware = errors.New("session middleware not installed")
)

// Manager implements sessions.Store on top of a Store, keeping only the
// signed session id in the cookie.
type Manager struct {
	cfg    Config
	opts   Options
	codecs []securecookie.Codec
}

var _ sessions.Store = (*Manager)(nil)

func NewManager(cfg Config, opts Options) (*Manager, error) {
	if cfg.Store == nil {
		return nil, xerrors.New("session: Store is required")
	}
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	opts.setDefaults()

	codecs := securecookie.CodecsFromPairs([]byte(cfg.Secret))
	for _, c := range codecs {
		if sc, ok := c.(*securecookie.SecureCookie); ok {
			sc.SetSerializer(securecookie.JSONEncoder{})
			if cfg.Cookie.MaxAge > 0 {
				sc.MaxAge(int(cfg.Cookie.MaxAge / time.Second))
			}
		}
	}
	return &Manager{cfg: cfg, opts: opts, codecs: codecs}, nil
}

func (m *Manager) cookieOptions() *sessions.Options {
	return &sessions.Options{
		Path:     "/",
		MaxAge:   int(m.cfg.Cookie.MaxAge / time.Second),
		HttpOnly: m.cfg.Cookie.HTTPOnly,
		Secure:   m.cfg.Cookie.Secure,
		SameSite: http.SameSiteDefaultMode,
	}
}

// Get returns the session registered for this request, creating it via New
// on first use.
func (m *Manager) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(m, name)
}

// New loads the session named by the request cookie. A missing, forged or
// expired cookie, or an id the store no longer knows, yields a fresh
// session with a new id. Only store failures are errors.
func (m *Manager) New(r *http.Request, name string) (*sessions.Session, error) {
	s := sessions.NewSession(m, name)
	s.Options = m.cookieOptions()
	s.IsNew = true

	if id, ok := m.cookieID(r, name); ok {
		ctx, cancel := context.WithTimeout(r.Context(), m.opts.Timeout)
		values, found, err := m.cfg.Store.Get(ctx, id)
		cancel()
		m.opts.Observe("get", err)
		if err != nil {
			s.ID = uuid.NewString()
			return s, xerrors.Wrap(err, "load session")
		}
		if found {
			s.ID = id
			s.Values = anyKeys(values)
			s.IsNew = false
			return s, nil
		}
	}

	s.ID = uuid.NewString()
	return s, nil
}

// Save writes the session and its cookie. A negative MaxAge destroys it.
func (m *Manager) Save(r *http.Request, w http.ResponseWriter, s *sessions.Session) error {
	ctx, cancel := context.WithTimeout(r.Context(), m.opts.Timeout)
	defer cancel()

	if s.Options != nil && s.Options.MaxAge < 0 {
		err := m.cfg.Store.Destroy(ctx, s.ID)
		m.opts.Observe("destroy", err)
		if err != nil {
			return xerrors.Wrap(err, "destroy session")
		}
		m.setCookie(r, w, s.Name(), "", s.Options)
		return nil
	}

	err := m.cfg.Store.Set(ctx, s.ID, stringKeys(s.Values), m.cfg.Cookie.MaxAge)
	m.opts.Observe("set", err)
	if err != nil {
		return xerrors.Wrap(err, "save session")
	}

	encoded, err := securecookie.EncodeMulti(s.Name(), s.ID, m.codecs...)
	if err != nil {
		return xerrors.Wrap(err, "sign session cookie")
	}
	m.setCookie(r, w, s.Name(), encoded, s.Options)
	return nil
}

// store writes the values without touching the cookie.
func (m *Manager) store(r *http.Request, s *sessions.Session) error {
	ctx, cancel := context.WithTimeout(r.Context(), m.opts.Timeout)
	defer cancel()
	err := m.cfg.Store.Set(ctx, s.ID, stringKeys(s.Values), m.cfg.Cookie.MaxAge)
	m.opts.Observe("set", err)
	return xerrors.Wrap(err, "save session")
}

func (m *Manager) touch(r *http.Request, id string) error {
	ctx, cancel := context.WithTimeout(r.Context(), m.opts.Timeout)
	defer cancel()
	err := m.cfg.Store.Touch(ctx, id, m.cfg.Cookie.MaxAge)
	m.opts.Observe("touch", err)
	return xerrors.Wrap(err, "touch session")
}

// cookieID returns the verified session id carried by the request.
func (m *Manager) cookieID(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	var id string
	if err := securecookie.DecodeMulti(name, c.Value, &id, m.codecs...); err != nil {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

// setCookie skips Secure cookies on plain HTTP, where the browser would
// drop them anyway.
func (m *Manager) setCookie(r *http.Request, w http.ResponseWriter, name, value string, opts *sessions.Options) {
	if opts.Secure && !isHTTPS(r, m.cfg.Proxy) {
		return
	}
	if value == "" {
		expired := *opts
		expired.MaxAge = -1
		opts = &expired
	}
	http.SetCookie(w, sessions.NewCookie(name, value, opts))
}

func isHTTPS(r *http.Request, proxy bool) bool {
	if r.TLS != nil {
		return true
	}
	if !proxy {
		return false
	}
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}
