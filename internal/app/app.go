// Package app assembles the request pipeline. The stage order is fixed,
// first applied first:
//
//	error hand-off, client address, request logger
//	cross-origin policy
//	production: combined access log, security headers (no CSP), parameter
//	pollution guard; otherwise: dev access log
//	panic recovery
//	body parsing (JSON, flat URL-encoded forms)
//	cookie parsing
//	CSRF validation (secret in a cookie)
//	static files from the public directory
//	session
//	routers at "/" and "/users"
//	not found
//
// Every error raised on the way reaches the terminal error page through
// httpmw.Fail.
package app

import (
	"crypto/sha256"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/pipeline-web/internal/cfg"
	"github.com/keithlinneman/pipeline-web/internal/errorpage"
	"github.com/keithlinneman/pipeline-web/internal/httpmw"
	"github.com/keithlinneman/pipeline-web/internal/log"
	"github.com/keithlinneman/pipeline-web/internal/routes"
	"github.com/keithlinneman/pipeline-web/internal/session"
	"github.com/keithlinneman/pipeline-web/internal/static"
	"github.com/keithlinneman/pipeline-web/internal/view"
	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

// Router mounts its routes on the sub-router it is given.
type Router interface {
	Mount(r chi.Router)
}

// Hooks observe the pipeline, typically to feed metrics. All are optional.
type Hooks struct {
	CSRFFailure  func()
	SessionOp    func(op string, err error)
	ErrorPage    func(status int, code string)
	StaticServed func()
	Panic        func()
}

type Options struct {
	Env    cfg.Environment
	Logger log.Logger
	Store  session.Store
	Views  view.Renderer
	// Public is served by the static stage. nil disables the stage.
	Public fs.FS
	// Index and Users default to the routers in internal/routes.
	Index Router
	Users Router
	// TrustedHops is the proxy count honoured in production, minimum one.
	TrustedHops    int
	SessionTimeout time.Duration
	Hooks          Hooks
}

// New assembles the pipeline for opts.Env. It fails only when a mandatory
// collaborator is missing. A missing COOKIE_SECRET is reported per request
// by the session stage.
func New(opts Options) (http.Handler, error) {
	if opts.Store == nil {
		return nil, xerrors.New("app: session Store is required")
	}
	if opts.Views == nil {
		return nil, xerrors.New("app: view Renderer is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Index == nil {
		opts.Index = &routes.Index{Views: opts.Views}
	}
	if opts.Users == nil {
		opts.Users = routes.Users{}
	}
	h := opts.Hooks
	env := opts.Env

	errPage, err := ErrorPage(env, opts.Views, h.ErrorPage)
	if err != nil {
		return nil, err
	}

	csrf, err := httpmw.CSRF(httpmw.CSRFOptions{
		AuthKey: CSRFKey(env.CookieSecret),
		OnFailure: func(*http.Request, error) {
			if h.CSRFFailure != nil {
				h.CSRFFailure()
			}
		},
	})
	if err != nil {
		return nil, err
	}

	mux := chi.NewRouter()

	mux.Use(
		httpmw.WithErrorHandler(errPage),
		httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: trustedHops(env, opts.TrustedHops)}),
		httpmw.WithLogger(opts.Logger),
		httpmw.CORS(httpmw.CORSOptions{}),
	)

	if env.IsProduction() {
		mux.Use(
			httpmw.AccessLog(httpmw.FormatCombined),
			httpmw.SecurityHeaders(httpmw.SecurityOptions{ContentSecurityPolicy: false}),
			httpmw.ParamPollution(),
		)
	} else {
		mux.Use(httpmw.AccessLog(httpmw.FormatDev))
	}

	mux.Use(
		httpmw.Recover(opts.Logger, h.Panic),
		httpmw.BodyParser(httpmw.BodyOptions{Limit: httpmw.DefaultBodyLimit}),
		httpmw.Cookies,
		csrf,
	)

	if opts.Public != nil {
		mux.Use(static.Middleware(opts.Public, static.Options{
			OnServe: func(string) {
				if h.StaticServed != nil {
					h.StaticServed()
				}
			},
		}))
	}

	mux.Use(session.Middleware(SessionConfig(env, opts.Store), session.Options{
		Timeout: opts.SessionTimeout,
		Observe: h.SessionOp,
	}))

	mux.Group(opts.Index.Mount)
	mux.Route("/users", opts.Users.Mount)

	mux.NotFound(errorpage.NotFound)
	mux.MethodNotAllowed(errorpage.NotFound)

	return mux, nil
}

// ErrorPage is the terminal error stage for env. Layers wrapping the app
// install the same page so their errors render identically.
func ErrorPage(env cfg.Environment, views view.Renderer, onError func(status int, code string)) (*errorpage.Handler, error) {
	return errorpage.New(errorpage.Options{
		Renderer:    views,
		Development: env.IsDevelopment(),
		OnError:     onError,
	})
}

// SessionConfig is the fixed session configuration. Only Proxy and Secret
// depend on the environment.
func SessionConfig(env cfg.Environment, store session.Store) session.Config {
	return session.Config{
		Resave:            false,
		SaveUninitialized: false,
		Secret:            env.CookieSecret,
		Cookie: session.Cookie{
			HTTPOnly: true,
			MaxAge:   time.Hour,
			Secure:   false,
		},
		Store: store,
		Proxy: env.IsProduction(),
	}
}

// CSRFKey derives the CSRF cookie signing key from the cookie secret so
// tokens survive restarts. nil when secret is empty, which makes the CSRF
// stage pick a random per-process key.
func CSRFKey(secret string) []byte {
	if secret == "" {
		return nil
	}
	sum := sha256.Sum256([]byte("csrf:" + secret))
	return sum[:]
}

// trustedHops is 0 outside production, the forwarded headers are ignored.
func trustedHops(env cfg.Environment, hops int) int {
	if !env.IsProduction() {
		return 0
	}
	return max(hops, 1)
}
