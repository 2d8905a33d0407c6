package httpmw

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

const (
	// DefaultBodyLimit caps JSON and form bodies at 100 KiB.
	DefaultBodyLimit = 100 << 10
	// DefaultParameterLimit caps the number of fields in a form body.
	DefaultParameterLimit = 1000
)

// Error codes carried by body parsing failures.
const (
	CodeEntityTooLarge = "entity.too.large"
	CodeEntityParse    = "entity.parse.failed"
	CodeTooManyParams  = "parameters.too.many"
)

type BodyOptions struct {
	Limit          int64
	ParameterLimit int
}

type jsonBodyKey struct{}

// BodyParser decodes application/json and application/x-www-form-urlencoded
// request bodies up front. JSON is available through JSONBody, forms through
// r.PostForm and r.Form. Only flat key/value forms are supported. The raw
// bytes are put back on r.Body for later readers. Other content types pass
// through untouched.
func BodyParser(opts BodyOptions) func(http.Handler) http.Handler {
	if opts.Limit <= 0 {
		opts.Limit = DefaultBodyLimit
	}
	if opts.ParameterLimit <= 0 {
		opts.ParameterLimit = DefaultParameterLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasBody(r) {
				next.ServeHTTP(w, r)
				return
			}
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || (mt != "application/json" && mt != "application/x-www-form-urlencoded") {
				next.ServeHTTP(w, r)
				return
			}

			raw, err := readLimited(r, opts.Limit)
			if err != nil {
				Fail(w, r, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))

			switch mt {
			case "application/json":
				v, err := decodeJSON(raw)
				if err != nil {
					Fail(w, r, err)
					return
				}
				r = r.WithContext(context.WithValue(r.Context(), jsonBodyKey{}, v))
			default:
				form, err := decodeForm(raw, opts.ParameterLimit)
				if err != nil {
					Fail(w, r, err)
					return
				}
				r.PostForm = form
				r.Form = mergeForm(form, r.URL.Query())
			}
			next.ServeHTTP(w, r)
		})
	}
}

// JSONBody returns the decoded JSON body, if BodyParser decoded one.
func JSONBody(ctx context.Context) (any, bool) {
	v, ok := ctx.Value(jsonBodyKey{}).(jsonValue)
	if !ok {
		return nil, false
	}
	return v.v, true
}

// JSONField returns a top-level string field from a decoded JSON object body.
func JSONField(ctx context.Context, name string) string {
	v, ok := JSONBody(ctx)
	if !ok {
		return ""
	}
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[name].(string)
	return s
}

// jsonValue boxes the decoded body so a JSON null is still distinguishable
// from "no body".
type jsonValue struct{ v any }

func hasBody(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	return r.ContentLength != 0 || len(r.TransferEncoding) > 0
}

func readLimited(r *http.Request, limit int64) ([]byte, error) {
	if r.ContentLength > limit {
		return nil, tooLarge()
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, xerrors.WithStatus(xerrors.Wrap(err, "read request body"), http.StatusBadRequest, "request.aborted")
	}
	if int64(len(raw)) > limit {
		return nil, tooLarge()
	}
	return raw, nil
}

func tooLarge() error {
	return &xerrors.HTTPError{Status: http.StatusRequestEntityTooLarge, Code: CodeEntityTooLarge, Msg: "request entity too large"}
}

func decodeJSON(raw []byte) (jsonValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return jsonValue{v: map[string]any{}}, nil
	}
	// strict: only objects and arrays are accepted at the top level
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return jsonValue{}, &xerrors.HTTPError{
			Status: http.StatusBadRequest, Code: CodeEntityParse,
			Msg: "unexpected token at start of JSON body",
		}
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return jsonValue{}, &xerrors.HTTPError{Status: http.StatusBadRequest, Code: CodeEntityParse, Msg: err.Error(), Err: err}
	}
	if dec.More() {
		return jsonValue{}, &xerrors.HTTPError{Status: http.StatusBadRequest, Code: CodeEntityParse, Msg: "unexpected data after JSON body"}
	}
	return jsonValue{v: v}, nil
}

func decodeForm(raw []byte, paramLimit int) (url.Values, error) {
	s := string(raw)
	if strings.Count(s, "&")+1 > paramLimit {
		return nil, &xerrors.HTTPError{Status: http.StatusRequestEntityTooLarge, Code: CodeTooManyParams, Msg: "too many parameters"}
	}
	form, err := url.ParseQuery(s)
	if err != nil {
		return nil, &xerrors.HTTPError{Status: http.StatusBadRequest, Code: CodeEntityParse, Msg: err.Error(), Err: err}
	}
	return form, nil
}

// mergeForm mirrors net/http: body values first, then query values.
func mergeForm(post, query url.Values) url.Values {
	out := make(url.Values, len(post)+len(query))
	for k, vs := range post {
		out[k] = append(out[k], vs...)
	}
	for k, vs := range query {
		out[k] = append(out[k], vs...)
	}
	return out
}
