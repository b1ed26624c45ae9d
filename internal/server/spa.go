package server

import (
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/reelfeed/reelfeed/internal/httputil"
)

// spaFileServer serves the built feed UI. Paths that do not name a file fall
// back to index.html so client-side routes survive a reload.
type spaFileServer struct {
	files http.Handler
	fsys  fs.FS
}

func newSPAFileServer(fsys fs.FS) *spaFileServer {
	return &spaFileServer{
		files: http.FileServer(http.FS(fsys)),
		fsys:  fsys,
	}
}

func (s *spaFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name == "" {
		name = "index.html"
	}
	if info, err := fs.Stat(s.fsys, name); err != nil || info.IsDir() {
		r.URL.Path = "/"
		name = "index.html"
	}

	if name == "index.html" {
		w.Header().Set("Cache-Control", "no-cache")
	} else if strings.HasPrefix(name, "assets/") {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	s.files.ServeHTTP(w, r)
}
