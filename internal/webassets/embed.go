package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

// views/ holds the page templates, public/ the static assets served when
// no public directory exists on disk.
//
//go:embed views public
var embedded embed.FS

func ViewsFS() fs.FS {
	return sub("views")
}

func PublicFS() fs.FS {
	return sub("public")
}

func sub(dir string) fs.FS {
	s, err := fs.Sub(embedded, dir)
	if err != nil {
		panic(fmt.Errorf("webassets: %s subfs: %w", dir, err))
	}
	return s
}
