// Package static embeds and serves frontend assets (CSS, JS).
package static

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

//go:embed css/*.css js/*.js
var assets embed.FS

// FS exposes the embedded static assets.
func FS() fs.FS {
	return assets
}

// HTTP returns an http.FileSystem backed by the embedded assets.
func HTTP() http.FileSystem {
	return http.FS(assets)
}

// Has reports whether the given relative path exists in the embedded assets.
func Has(name string) bool {
	name = strings.TrimPrefix(name, "/")
	f, err := assets.Open(name)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// HasLocalOverride reports whether dir looks like a usable on-disk asset
// directory, so a development checkout can serve edited assets without a
// rebuild.
func HasLocalOverride(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "css", "preview.css"))
	return err == nil && !info.IsDir()
}
