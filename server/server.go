// Package server is the HTTP side of camserver: frame ingest, the latest
// frame pointer, stored frame retrieval and live viewer feeds.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"roverscope.com/camserver/frame"
	"roverscope.com/camserver/storage"
)

type Options struct {
	MaxBodyBytes int64
	MirrorRows   bool
	JPEGQuality  int
	HistorySize  int
	SinkQueue    int
	// Sinks are notified of every stored frame, after the hub.
	Sinks []Sink
	// Catalog, when set, backs /history?source=catalog.
	Catalog RecentLister
}

// HTTPOptions are the listener settings used by Start.
type HTTPOptions struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	opts    Options
	store   *storage.FrameStore
	latest  *LatestFramePublisher
	history *CircularBuffer
	rasters rasterCache
	hub     *Hub
	sinks   []Sink
	records chan frame.Record
	mux     *http.ServeMux
}

func NewServer(store *storage.FrameStore, opts Options) (*Server, error) {
	if store == nil {
		return nil, errors.New("server needs a frame store")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 << 20
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 80
	}
	if opts.SinkQueue <= 0 {
		opts.SinkQueue = 64
	}
	latest := NewLatestFramePublisher(store.FirstIndex())
	hub := NewHub(func() string {
		name, _ := latest.GetLatest()
		return name
	})
	s := &Server{
		opts:    opts,
		store:   store,
		latest:  latest,
		history: NewCircularBuffer(opts.HistorySize),
		hub:     hub,
		sinks:   append([]Sink{hub}, opts.Sinks...),
		records: make(chan frame.Record, opts.SinkQueue),
		mux:     http.NewServeMux(),
	}
	s.PrepareEndpoints()
	return s, nil
}

func (s *Server) Latest() *LatestFramePublisher {
	return s.latest
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) PrepareEndpoints() {
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("GET /latest", s.handleLatest)
	s.mux.HandleFunc("GET /frame/{name}", s.handleFrame)
	s.mux.HandleFunc("GET /history", s.handleHistory)
	s.mux.HandleFunc("GET /stream", s.serveStream)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("OPTIONS /upload", func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w)
		w.WriteHeader(http.StatusNoContent)
	})
}

// StartWorkers runs the hub and the sink dispatcher until ctx is done.
func (s *Server) StartWorkers(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.runSinks(ctx)
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, opts HTTPOptions) error {
	s.StartWorkers(ctx)
	srv := &http.Server{
		Addr:         opts.Listen,
		Handler:      s.mux,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", opts.Listen).Info("Frame server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	log.Info("Shutting down frame server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Device-IP, X-Image-Sequence")
}

func setNoCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Error writing JSON response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	name, _ := s.latest.GetLatest()
	writeJSON(w, map[string]any{
		"status":  "ok",
		"latest":  name,
		"next":    s.latest.Next(),
		"history": s.history.Size(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}
