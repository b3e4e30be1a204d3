package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sigsched/internal/storage"
)

const maxUploadBytes = 32 << 20

// postInput is the common shape of create/update requests, accepted either as
// JSON or as multipart/form-data (when an image rides along).
type postInput struct {
	Message     string `json:"message"`
	GroupID     string `json:"group_id"`
	GroupName   string `json:"group_name"`
	ScheduledAt string `json:"scheduled_at"`
	KeepImage   bool   `json:"keep_image"`

	image *multipart.FileHeader
}

func (s *Server) parsePostInput(r *http.Request) (postInput, error) {
	var in postInput
	if strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return in, fmt.Errorf("parse form: %w", err)
		}
		in.Message = r.FormValue("message")
		in.GroupID = r.FormValue("group_id")
		in.GroupName = r.FormValue("group_name")
		in.ScheduledAt = r.FormValue("scheduled_at")
		in.KeepImage = r.FormValue("keep_image") == "true"
		if fhs := r.MultipartForm.File["image"]; len(fhs) > 0 && fhs[0].Size > 0 {
			in.image = fhs[0]
		}
		return in, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return in, fmt.Errorf("parse json: %w", err)
	}
	return in, nil
}

// validate checks the required fields and parses scheduled_at. An empty
// message is allowed when an image is attached (or, on update, retained).
func (in postInput) validate(hasImage bool) (time.Time, error) {
	if in.GroupID == "" {
		return time.Time{}, errors.New("missing required field: group_id")
	}
	if in.ScheduledAt == "" {
		return time.Time{}, errors.New("missing required field: scheduled_at")
	}
	if in.Message == "" && !hasImage {
		return time.Time{}, errors.New("missing required field: message")
	}
	at, err := time.Parse(time.RFC3339, in.ScheduledAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduled_at must be an RFC 3339 timestamp: %v", err)
	}
	return at.UTC(), nil
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.store.ListPosts(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.log.Error().Err(err).Msg("list posts failed")
		s.writeError(w, http.StatusInternalServerError, "failed to fetch posts")
		return
	}
	if posts == nil {
		posts = []storage.Post{}
	}
	s.writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	in, err := s.parsePostInput(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scheduledAt, err := in.validate(in.image != nil)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var imagePath string
	if in.image != nil {
		if imagePath, err = s.saveUpload(in.image); err != nil {
			s.log.Error().Err(err).Msg("image upload failed")
			s.writeError(w, http.StatusInternalServerError, "failed to store image")
			return
		}
	}

	post, err := s.store.CreatePost(r.Context(), storage.Post{
		Message:     in.Message,
		GroupID:     in.GroupID,
		GroupName:   in.GroupName,
		ScheduledAt: scheduledAt,
		ImagePath:   imagePath,
	})
	if err != nil {
		s.removeImage(imagePath)
		s.log.Error().Err(err).Msg("create post failed")
		s.writeError(w, http.StatusInternalServerError, "failed to create post")
		return
	}
	s.writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	existing, err := s.store.GetPost(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Int64("post_id", id).Msg("get post failed")
		s.writeError(w, http.StatusInternalServerError, "failed to update post")
		return
	}
	if existing.Status != storage.StatusScheduled {
		s.writeError(w, http.StatusConflict, "only scheduled posts can be edited")
		return
	}

	in, err := s.parsePostInput(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	keepsImage := in.image != nil || (in.KeepImage && existing.ImagePath != "")
	scheduledAt, err := in.validate(keepsImage)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Image resolution: a new upload replaces the old file, keep_image
	// retains it, anything else orphans it. Orphaned files are unlinked.
	imagePath := ""
	switch {
	case in.image != nil:
		if imagePath, err = s.saveUpload(in.image); err != nil {
			s.log.Error().Err(err).Msg("image upload failed")
			s.writeError(w, http.StatusInternalServerError, "failed to store image")
			return
		}
		s.removeImage(existing.ImagePath)
	case in.KeepImage:
		imagePath = existing.ImagePath
	default:
		s.removeImage(existing.ImagePath)
	}

	post, err := s.store.UpdatePost(r.Context(), id, storage.PostUpdate{
		Message:     in.Message,
		GroupID:     in.GroupID,
		GroupName:   in.GroupName,
		ScheduledAt: scheduledAt,
		ImagePath:   imagePath,
	})
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Int64("post_id", id).Msg("update post failed")
		s.writeError(w, http.StatusInternalServerError, "failed to update post")
		return
	}
	s.writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	post, err := s.store.GetPost(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Int64("post_id", id).Msg("get post failed")
		s.writeError(w, http.StatusInternalServerError, "failed to delete post")
		return
	}

	s.removeImage(post.ImagePath)
	if err := s.store.DeletePost(r.Context(), id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Error().Err(err).Int64("post_id", id).Msg("delete post failed")
		s.writeError(w, http.StatusInternalServerError, "failed to delete post")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// saveUpload stores an uploaded image under the uploads dir and returns its
// absolute path. CreateTemp picks the unique part of the name so concurrent
// uploads in the same millisecond cannot clobber each other.
func (s *Server) saveUpload(fh *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return "", err
	}
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	pattern := fmt.Sprintf("%d-*%s", time.Now().UnixMilli(), strings.ToLower(filepath.Ext(fh.Filename)))
	dst, err := os.CreateTemp(s.uploadsDir, pattern)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	path, err := filepath.Abs(dst.Name())
	if err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return path, nil
}

func (s *Server) removeImage(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Err(err).Str("path", path).Msg("could not remove image file")
	}
}
