package handler

import (
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
)

// MediaResolver maps a served media path to a file on disk.
type MediaResolver interface {
	Resolve(src string) (string, error)
}

// MediaHandler serves localized media files.
type MediaHandler struct {
	resolver MediaResolver
	logger   *slog.Logger
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(resolver MediaResolver, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{resolver: resolver, logger: logger}
}

// Serve handles GET {media prefix}/*. The request path is the src stored in
// post records.
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	filePath, err := h.resolver.Resolve(r.URL.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid media path")
		return
	}

	file, err := os.Open(filePath)
	if err != nil {
		writeError(w, http.StatusNotFound, "media file not found")
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		h.logger.Error("stat media file failed", "path", filePath, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to stat file")
		return
	}
	if stat.IsDir() {
		writeError(w, http.StatusNotFound, "media file not found")
		return
	}

	if ct := mime.TypeByExtension(path.Ext(r.URL.Path)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "private, max-age=86400")

	// http.ServeContent handles Range requests for video seeking.
	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
}
