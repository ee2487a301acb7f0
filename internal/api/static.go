package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/voicebridge/voicebridge/pkg/logger"
)

// StaticFileHandler serves the browser client assets
type StaticFileHandler struct {
	dir    string
	logger *logger.Logger
}

// NewStaticFileHandler creates a handler serving files from dir
func NewStaticFileHandler(dir string, log *logger.Logger) *StaticFileHandler {
	return &StaticFileHandler{
		dir:    dir,
		logger: log.Named("static"),
	}
}

func (h *StaticFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Reject path traversal attempts
	if strings.Contains(r.URL.Path, "..") {
		http.NotFound(w, r)
		return
	}

	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	full := filepath.Join(h.dir, filepath.FromSlash(path))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, full)
}
