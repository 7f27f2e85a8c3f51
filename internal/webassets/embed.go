// Package webassets embeds the default public directory and the HTML
// templates used for rendered pages.
package webassets

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
)

//go:embed public templates
var embedded embed.FS

// PublicFS is served when no public directory exists on disk.
func PublicFS() fs.FS {
	sub, err := fs.Sub(embedded, "public")
	if err != nil {
		panic(fmt.Errorf("webassets: public subfs: %w", err))
	}
	return sub
}

// Templates parses every page template. Each file defines one template named
// after the file, e.g. "error.html".
func Templates() (*template.Template, error) {
	t, err := template.ParseFS(embedded, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("webassets: parse templates: %w", err)
	}
	return t, nil
}
