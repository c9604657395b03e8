// Package httpapi implements the restore-side basebackup enumeration API
// (spec.md §6): GET /{site}/basebackup, for clients that talk to a local
// agent instead of the object store directly (pghoard's HTTPRestore).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pgbasebackup/agent/internal/logger"
	"github.com/pgbasebackup/agent/pkg/objectstore"
	"golang.org/x/sync/errgroup"
)

// SiteBackend is the object store a site's basebackups are listed from.
type SiteBackend struct {
	Store  objectstore.Store
	Prefix string
}

// Basebackup is one entry in a GET /{site}/basebackup response, mirroring
// the JSON shape BaseBackupInfoFromBucket.data carries: a key name and its
// stored metadata (pg-version, start-time, backup-name, ...).
type Basebackup struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

type listResponse struct {
	Basebackups []Basebackup `json:"basebackups"`
}

// Server serves the basebackup enumeration API for a fixed set of sites.
type Server struct {
	sites map[string]SiteBackend
}

// NewServer returns a Server that lists backups for each named site from
// its given backend.
func NewServer(sites map[string]SiteBackend) *Server {
	return &Server{sites: sites}
}

// Router builds the chi router for this server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/{site}/basebackup", s.handleListBasebackups)
	return r
}

// ListenAndServe starts an HTTP server on addr; it blocks until ctx is
// cancelled or the server fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleListBasebackups(w http.ResponseWriter, r *http.Request) {
	site := chi.URLParam(r, "site")
	backend, ok := s.sites[site]
	if !ok {
		http.Error(w, "unknown site", http.StatusNotFound)
		return
	}

	backups, err := ListBasebackups(r.Context(), backend)
	if err != nil {
		logger.ErrorCtx(r.Context(), "failed to list basebackups",
			logger.Operation("httpapi.ListBasebackups"), logger.Site(site), logger.Err(err))
		http.Error(w, "failed to list basebackups", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(listResponse{Basebackups: backups})
}

// ListBasebackups enumerates every manifest blob under backend's prefix
// and fetches its metadata, bounding concurrent metadata fetches the same
// way pkg/restore bounds concurrent chunk downloads.
func ListBasebackups(ctx context.Context, backend SiteBackend) ([]Basebackup, error) {
	entries, err := backend.Store.List(ctx, objectstore.BaseBackupPrefix(backend.Prefix))
	if err != nil {
		return nil, err
	}

	results := make([]Basebackup, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for i, entry := range entries {
		i, entry := i, entry
		if entry.Metadata != nil {
			results[i] = Basebackup{Name: entry.Key, Metadata: entry.Metadata}
			continue
		}
		g.Go(func() error {
			meta, err := backend.Store.GetMetadata(gctx, entry.Key)
			if err != nil {
				return err
			}
			results[i] = Basebackup{Name: entry.Key, Metadata: meta}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Info("http request",
			logger.Operation("httpapi"),
			logger.Path(r.URL.Path),
			logger.DurationMs(float64(time.Since(start).Milliseconds())))
		_ = ww.Status()
	})
}
