package httpapi

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	zlog "github.com/rs/zerolog/log"
)

var portraitTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(filepath.Join(s.config.Dashboard.Dir, "index.html"))
	if err != nil {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "<h1>Dashboard not found</h1>")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

// handlePortrait serves an image from the dashboard's portraits directory.
// Names that leave the directory, including through symlinks, are not found.
func (s *Server) handlePortrait(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !filepath.IsLocal(name) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	root, err := os.OpenRoot(filepath.Join(s.config.Dashboard.Dir, "portraits"))
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		zlog.Debug().Msgf("httpapi: portrait not served: name=%s err=%v", name, err)
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	contentType, ok := portraitTypes[strings.ToLower(filepath.Ext(name))]
	if !ok {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
