package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var imageContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// handleGetImage serves an uploaded image by basename. Only plain file names
// are accepted; anything that could escape the uploads dir is rejected.
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		s.writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}

	f, err := os.Open(filepath.Join(s.uploadsDir, name))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("file", name).Msg("image open failed")
		}
		s.writeError(w, http.StatusNotFound, "image not found")
		return
	}
	defer f.Close()

	ct, ok := imageContentTypes[strings.ToLower(filepath.Ext(name))]
	if !ok {
		ct = "image/jpeg"
	}
	w.Header().Set("Content-Type", ct)
	if _, err := io.Copy(w, f); err != nil {
		s.log.Warn().Err(err).Str("file", name).Msg("image write failed")
	}
}
