package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Snapshotter exposes the live state of a running aggregation.
type Snapshotter interface {
	Snapshot() ([]string, map[string]uint64)
}

type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

type Server struct {
	source    Pinger
	metrics   *Metrics
	buildInfo BuildInfo
	snapshot  atomic.Pointer[snapshotHolder]
}

type snapshotHolder struct {
	Snapshotter
}

func NewServer(source Pinger, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if source == nil {
		return nil, errors.New("record source is required")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{source: source, metrics: metrics, buildInfo: buildInfo}, nil
}

// SetSnapshotter switches /snapshot to the given aggregation.
func (s *Server) SetSnapshotter(snapshotter Snapshotter) {
	if snapshotter == nil {
		s.snapshot.Store(nil)
		return
	}
	s.snapshot.Store(&snapshotHolder{Snapshotter: snapshotter})
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.source.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "record source not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

type addressCount struct {
	Address string `json:"address"`
	Count   uint64 `json:"count"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	holder := s.snapshot.Load()
	if holder == nil {
		respondError(w, http.StatusNotFound, "no scan running")
		return
	}
	addresses, counts := holder.Snapshot()
	entries := make([]addressCount, 0, len(addresses))
	for _, address := range addresses {
		entries = append(entries, addressCount{Address: address, Count: counts[address]})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"unique":    len(addresses),
		"addresses": entries,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
