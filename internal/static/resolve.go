package static

import (
	"io/fs"
	"path"
	"strings"

	"github.com/keithlinneman/pipeline-web/internal/pathutil"
)

// resolvePath maps a URL path onto fsys.
//
// It returns the file to serve, or a redirect target when the path names a
// directory without its trailing slash. ok is false when the stage should
// step aside and let the routers have the request.
func resolvePath(urlPath string, fsys fs.FS) (file string, redirectTo string, ok bool) {
	p := urlPath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	if strings.ContainsAny(p, "\x00\\") {
		return "", "", false
	}
	// dotfiles are ignored, and this also rejects "." and ".." segments
	if pathutil.HasHiddenSegment(p) {
		return "", "", false
	}

	trailingSlash := strings.HasSuffix(p, "/")
	name := strings.TrimPrefix(path.Clean(p), "/")
	if name == "" {
		name = "."
	}
	if !fs.ValidPath(name) {
		return "", "", false
	}

	info, err := fs.Stat(fsys, name)
	if err != nil {
		return "", "", false
	}

	if !info.IsDir() {
		// "/style.css/" names a directory that does not exist
		if trailingSlash {
			return "", "", false
		}
		return name, "", true
	}

	if !trailingSlash {
		return "", p + "/", true
	}
	index := path.Join(name, "index.html")
	if existsFile(fsys, index) {
		return index, "", true
	}
	return "", "", false
}

func existsFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
