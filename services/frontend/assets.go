// Package frontend serves the browser watch page that renders an event's
// question stream from the HTML fragments qa-api pushes.
package frontend

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/styles.css
var staticAssets embed.FS

func StaticHandler() http.Handler {
	subFS, err := fs.Sub(staticAssets, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(subFS))
}
