package httpmw

import (
	"context"
	"crypto/rand"
	"html/template"
	"net/http"

	"github.com/gorilla/csrf"

	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

const (
	DefaultCSRFCookie = "_csrf"
	DefaultCSRFField  = "_csrf"
	csrfHeader        = "X-CSRF-Token"
)

type originKey struct{}

// alternate header spellings clients use for the token
var csrfAltHeaders = []string{"CSRF-Token", "XSRF-Token", "X-XSRF-Token"}

type CSRFOptions struct {
	// AuthKey signs the secret cookie. A random key is generated when empty,
	// which invalidates outstanding tokens on restart.
	AuthKey    []byte
	CookieName string
	FieldName  string
	Secure     bool
	// OnFailure is called for every rejected request before the error is
	// handed to the terminal stage.
	OnFailure func(r *http.Request, reason error)
}

// CSRF validates a per-client token for state-changing requests. The secret
// lives in a signed cookie and the token is accepted from the form field,
// a top-level JSON field, the query string, or any of the usual headers.
// GET, HEAD, OPTIONS and TRACE are not checked. Failures reach the terminal
// stage as a 403 with code EBADCSRFTOKEN.
//
// The token is the whole check. Origin and Referer are not compared.
func CSRF(opts CSRFOptions) (func(http.Handler) http.Handler, error) {
	key := opts.AuthKey
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, xerrors.Wrap(err, "generate csrf key")
		}
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCSRFCookie
	}
	if opts.FieldName == "" {
		opts.FieldName = DefaultCSRFField
	}

	onFailure := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reason := csrf.FailureReason(r)
		if opts.OnFailure != nil {
			opts.OnFailure(r, reason)
		}
		Fail(w, r, &xerrors.HTTPError{
			Status: http.StatusForbidden,
			Code:   xerrors.CodeBadCSRFToken,
			Msg:    "invalid csrf token",
			Err:    reason,
		})
	})

	protect := csrf.Protect(key,
		csrf.CookieName(opts.CookieName),
		csrf.FieldName(opts.FieldName),
		csrf.RequestHeader(csrfHeader),
		csrf.Path("/"),
		csrf.Secure(opts.Secure),
		// session cookie, no expiry
		csrf.MaxAge(0),
		csrf.ErrorHandler(onFailure),
	)

	return func(next http.Handler) http.Handler {
		restore := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if o, ok := r.Context().Value(originKey{}).(string); ok {
				r.Header.Set("Origin", o)
			}
			next.ServeHTTP(w, r)
		})
		protected := protect(restore)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// work on a copy, the header edits below must not leak upstream
			r = r.Clone(r.Context())
			if o := r.Header.Get("Origin"); o != "" {
				r.Header.Del("Origin")
				r = r.WithContext(context.WithValue(r.Context(), originKey{}, o))
			}
			promoteCSRFToken(r, opts.FieldName)
			protected.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}, nil
}

// CSRFToken returns the masked token to embed in forms or hand to scripts.
func CSRFToken(r *http.Request) string { return csrf.Token(r) }

// CSRFField renders a hidden input carrying the token.
func CSRFField(r *http.Request) template.HTML { return csrf.TemplateField(r) }

// promoteCSRFToken copies a token supplied anywhere other than the canonical
// header or form field into the canonical header.
func promoteCSRFToken(r *http.Request, field string) {
	if r.Header.Get(csrfHeader) != "" {
		return
	}
	for _, h := range csrfAltHeaders {
		if v := r.Header.Get(h); v != "" {
			r.Header.Set(csrfHeader, v)
			return
		}
	}
	if v := JSONField(r.Context(), field); v != "" {
		r.Header.Set(csrfHeader, v)
		return
	}
	if r.PostForm != nil && r.PostForm.Get(field) != "" {
		return
	}
	if v := r.URL.Query().Get(field); v != "" {
		r.Header.Set(csrfHeader, v)
	}
}
