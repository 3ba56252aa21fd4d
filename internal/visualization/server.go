package visualization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nvandessel/seekwalk/internal/scaling"
	"github.com/nvandessel/seekwalk/internal/summary"
	"github.com/nvandessel/seekwalk/internal/walk"
)

// DefaultHistogramBuckets is used by /api/histogram.png when no bucket
// count is requested.
const DefaultHistogramBuckets = 20

// Server serves the density page and the JSON/PNG endpoints behind it.
type Server struct {
	view       *View
	runs       []walk.Path
	summary    any
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
	addr       string
}

// NewServer creates a visualization server for a prepared view. runs feed
// the histogram endpoint; sum, if non-nil, is returned from /api/summary.
func NewServer(view *View, runs []walk.Path, sum any) *Server {
	return &Server{
		view:    view,
		runs:    runs,
		summary: sum,
	}
}

// Addr returns the address the server is listening on (e.g., "localhost:PORT").
// Returns empty string if the server hasn't started yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/density", s.handleDensity)
	mux.HandleFunc("/api/cell", s.handleCell)
	mux.HandleFunc("/api/histogram.png", s.handleHistogram)
	mux.HandleFunc("/api/summary", s.handleSummary)
	return mux
}

// ListenAndServe starts the HTTP server on an OS-assigned port and blocks
// until the context is cancelled. Returns nil on clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	html, err := RenderHTML(s.view, "http://"+s.Addr())
	if err != nil {
		http.Error(w, "render error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(html)
}

// handleDensity returns the view recolored under ?scaling=. The raw grid
// is reused so switching scaling never rebins the runs.
func (s *Server) handleDensity(w http.ResponseWriter, r *http.Request) {
	v := s.view
	if q := r.URL.Query().Get("scaling"); q != "" {
		kind, err := scaling.ParseKind(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		v = v.Rescale(kind)
	}
	writeJSON(w, v)
}

func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	y, errY := strconv.Atoi(r.URL.Query().Get("y"))
	x, errX := strconv.Atoi(r.URL.Query().Get("x"))
	if errY != nil || errX != nil {
		http.Error(w, "'y' and 'x' must be integers", http.StatusBadRequest)
		return
	}
	g := s.view.Grid()
	if g == nil {
		http.Error(w, "no density grid", http.StatusNotFound)
		return
	}
	cell, err := g.Cell(y, x)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, cell)
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	n := DefaultHistogramBuckets
	if q := r.URL.Query().Get("buckets"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 {
			http.Error(w, "'buckets' must be a positive integer", http.StatusBadRequest)
			return
		}
		n = v
	}
	buckets := summary.Histogram(s.runs, n)
	if len(buckets) == 0 {
		http.Error(w, "no completed runs", http.StatusNotFound)
		return
	}

	// Render into a buffer so a chart error can still produce a 500.
	var buf bytes.Buffer
	if err := RenderHistogramPNG(&buf, buckets, "path length"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.summary == nil {
		http.Error(w, "no summary available", http.StatusNotFound)
		return
	}
	writeJSON(w, s.summary)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
