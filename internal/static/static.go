// Package static serves files from the public directory ahead of the
// application routers.
package static

import (
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/keithlinneman/pipeline-web/internal/httpmw"
	"github.com/keithlinneman/pipeline-web/internal/log"
	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

// DefaultCacheControl lets browsers keep files but revalidate on every use.
const DefaultCacheControl = "public, max-age=0"

type Options struct {
	CacheControl string
	// OnServe is called with the served file name, for metrics.
	OnServe func(name string)
}

// Dir returns the public directory as an fs.FS. When dir does not exist
// the embedded fallback is returned instead and used reports false.
func Dir(dir string, fallback fs.FS) (fsys fs.FS, used bool, err error) {
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return os.DirFS(dir), true, nil
	case err == nil:
		return nil, false, xerrors.Newf("public dir %q is not a directory", dir)
	case os.IsNotExist(err) && fallback != nil:
		return fallback, false, nil
	default:
		return nil, false, xerrors.Wrapf(err, "stat public dir %q", dir)
	}
}

// Middleware serves GET and HEAD requests that name a file in fsys. Bytes
// go out exactly as stored. Everything else, including missing files,
// dotfiles and other methods, falls through to next.
func Middleware(fsys fs.FS, opts Options) func(http.Handler) http.Handler {
	if opts.CacheControl == "" {
		opts.CacheControl = DefaultCacheControl
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			file, redirectTo, ok := resolvePath(r.URL.Path, fsys)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if redirectTo != "" {
				if q := r.URL.RawQuery; q != "" {
					redirectTo += "?" + q
				}
				http.Redirect(w, r, redirectTo, http.StatusMovedPermanently)
				return
			}

			if err := serveFile(w, r, fsys, file, opts.CacheControl); err != nil {
				log.FromContext(r.Context()).Warn(r.Context(), "static file unreadable", "file", file, "error", err)
				httpmw.Fail(w, r, xerrors.WithStatus(err, http.StatusInternalServerError, ""))
				return
			}
			if opts.OnServe != nil {
				opts.OnServe(file)
			}
		})
	}
}

func serveFile(w http.ResponseWriter, r *http.Request, fsys fs.FS, name, cacheControl string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return xerrors.Wrapf(err, "open %s", name)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return xerrors.Wrapf(err, "stat %s", name)
	}
	rs, ok := f.(io.ReadSeeker)
	if !ok {
		return xerrors.Newf("%s is not seekable", name)
	}

	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("ETag", fmt.Sprintf(`W/"%x-%x"`, info.Size(), info.ModTime().UnixMilli()))
	// ServeContent handles Range, conditional requests and Content-Type
	http.ServeContent(w, r, info.Name(), info.ModTime(), rs)
	return nil
}
