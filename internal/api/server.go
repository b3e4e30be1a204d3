// Package api exposes the REST surface the web UI consumes: post CRUD, image
// upload/serving, and the proxied gateway group listing.
//
// The dispatcher never goes through this package; both sides meet only at the
// post store.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"sigsched/internal/gateway"
	"sigsched/internal/storage"
)

// GroupLister is the slice of the gateway client the API needs.
type GroupLister interface {
	Groups(ctx context.Context) ([]gateway.Group, error)
}

type Config struct {
	Listen     string
	UploadsDir string
}

type Server struct {
	store      storage.Store
	groups     GroupLister
	uploadsDir string
	log        zerolog.Logger
	srv        *http.Server
}

func New(cfg Config, store storage.Store, groups GroupLister, log zerolog.Logger) *Server {
	s := &Server{
		store:      store,
		groups:     groups,
		uploadsDir: cfg.UploadsDir,
		log:        log,
	}
	s.srv = &http.Server{Addr: cfg.Listen, Handler: s.routes()}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/posts", s.handleListPosts)
	mux.HandleFunc("POST /api/posts", s.handleCreatePost)
	mux.HandleFunc("PATCH /api/posts/{id}", s.handleUpdatePost)
	mux.HandleFunc("DELETE /api/posts/{id}", s.handleDeletePost)
	mux.HandleFunc("GET /api/groups", s.handleListGroups)
	mux.HandleFunc("GET /api/images/{filename}", s.handleGetImage)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start begins serving in the background. Errors other than a clean shutdown
// are reported through errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		s.log.Info().Str("listen", s.srv.Addr).Msg("http api listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("write response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.Groups(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("group listing failed")
		s.writeError(w, http.StatusBadGateway, "failed to fetch groups")
		return
	}
	s.writeJSON(w, http.StatusOK, groups)
}
