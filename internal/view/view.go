// Package view renders named page templates inside a shared layout.
package view

import (
	"bytes"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

// Locals are the values a page template sees as ".".
type Locals map[string]any

// Renderer writes a complete response for a named view.
type Renderer interface {
	Render(w http.ResponseWriter, status int, name string, locals Locals) error
}

const (
	layoutFile = "layout.html"
	layoutName = "layout"
)

// Templates renders pages parsed from an fs.FS. Every *.html file other
// than layout.html is a page named after its base name.
type Templates struct {
	pages map[string]*template.Template
}

var _ Renderer = (*Templates)(nil)

func New(fsys fs.FS) (*Templates, error) {
	base, err := template.New(layoutName).ParseFS(fsys, layoutFile)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse layout")
	}

	files, err := fs.Glob(fsys, "*.html")
	if err != nil {
		return nil, xerrors.Wrap(err, "list views")
	}

	t := &Templates{pages: make(map[string]*template.Template, len(files))}
	for _, f := range files {
		if f == layoutFile {
			continue
		}
		clone, err := base.Clone()
		if err != nil {
			return nil, xerrors.Wrapf(err, "clone layout for %s", f)
		}
		page, err := clone.ParseFS(fsys, f)
		if err != nil {
			return nil, xerrors.Wrapf(err, "parse view %s", f)
		}
		t.pages[strings.TrimSuffix(path.Base(f), ".html")] = page
	}
	return t, nil
}

// Has reports whether a page named name exists.
func (t *Templates) Has(name string) bool {
	_, ok := t.pages[name]
	return ok
}

// Render executes the page into a buffer first, so a template error leaves
// w untouched and the caller can still send something else.
func (t *Templates) Render(w http.ResponseWriter, status int, name string, locals Locals) error {
	page, ok := t.pages[name]
	if !ok {
		return xerrors.Newf("view %q not found", name)
	}

	var buf bytes.Buffer
	if err := page.ExecuteTemplate(&buf, layoutName, locals); err != nil {
		return xerrors.Wrapf(err, "render view %s", name)
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}
