package api

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/windock/internal/config"
	"github.com/bryanchriswhite/windock/internal/logger"
	"github.com/bryanchriswhite/windock/internal/toplevel"
	"github.com/bryanchriswhite/windock/internal/window"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/image/draw"
)

const maxIconSize = 1024

// Windows is the part of the window manager the HTTP surface needs
type Windows interface {
	Snapshot() window.Snapshot
	Subscribe() chan window.Snapshot
	Unsubscribe(ch chan window.Snapshot)
	Activate(h toplevel.Handle) bool
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	windows   Windows
	configMgr *config.Manager
	version   string
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	httpSrv *http.Server
}

// NewServer creates a new API server. configMgr may be nil.
func NewServer(windows Windows, configMgr *config.Manager, version string) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		windows:   windows,
		configMgr: configMgr,
		version:   version,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // panels are served from file:// or other local origins
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Window list
	api.HandleFunc("/toplevels", s.handleListToplevels).Methods("GET")
	api.HandleFunc("/toplevels/stream", s.handleToplevelStream)
	api.HandleFunc("/toplevels/{handle}", s.handleGetToplevel).Methods("GET")
	api.HandleFunc("/toplevels/{handle}/activate", s.handleActivate).Methods("POST")
	api.HandleFunc("/toplevels/{handle}/icon", s.handleIcon).Methods("GET")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start listens on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a server started with Start
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// lookup resolves the {handle} path variable against the latest snapshot
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (window.Snapshot, toplevel.Handle, bool) {
	h, err := toplevel.ParseHandle(mux.Vars(r)["handle"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return window.Snapshot{}, 0, false
	}
	snap := s.windows.Snapshot()
	if _, ok := snap.Find(h); !ok {
		writeError(w, http.StatusNotFound, "no such toplevel: "+h.String())
		return snap, h, false
	}
	return snap, h, true
}

// HTTP Handlers

func (s *Server) handleListToplevels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.windows.Snapshot())
}

func (s *Server) handleGetToplevel(w http.ResponseWriter, r *http.Request) {
	snap, h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	entry, _ := snap.Find(h)
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	_, h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !s.windows.Activate(h) {
		writeError(w, http.StatusServiceUnavailable, "window manager is not accepting requests")
		return
	}
	logger.WithComponent("api").Debug().Stringer("handle", h).Msg("Activation queued")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "handle": h.String()})
}

func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	snap, h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	entry, _ := snap.Find(h)
	path := entry.Metadata.IconPath
	if path == "" {
		writeError(w, http.StatusNotFound, "no icon for "+entry.Metadata.AppID)
		return
	}

	size := 0
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxIconSize {
			writeError(w, http.StatusBadRequest, "invalid size: "+v)
			return
		}
		size = n
	}

	// Only raster PNGs are scaled; everything else is served as found
	if size == 0 || !strings.EqualFold(filepath.Ext(path), ".png") {
		http.ServeFile(w, r, path)
		return
	}

	img, err := loadPNG(path)
	if err != nil {
		logger.WithComponent("api").Warn().Err(err).Str("path", path).Msg("Failed to decode icon")
		http.ServeFile(w, r, path)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, scaleIcon(img, size)); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Icon write failed")
	}
}

func loadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

// scaleIcon resizes img to a size x size square
func scaleIcon(img image.Image, size int) image.Image {
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func (s *Server) handleToplevelStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.windows.Subscribe()
	defer s.windows.Unsubscribe(updates)

	// Drain client frames so a close is noticed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send initial snapshot
	if err := conn.WriteJSON(s.windows.Snapshot()); err != nil {
		log.Debug().Err(err).Msg("WebSocket write error")
		return
	}

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		writeJSON(w, http.StatusOK, config.Defaults())
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.windows.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   s.version,
		"ready":     snap.Ready,
		"toplevels": len(snap.Entries),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>windock</title>
    <style>
        body { font-family: sans-serif; max-width: 720px; margin: 40px auto; }
        code { background: #f0f0f0; padding: 2px 6px; border-radius: 3px; }
    </style>
</head>
<body>
    <h1>windock</h1>
    <ul>
        <li><a href="/api/health">/api/health</a></li>
        <li><a href="/api/toplevels">/api/toplevels</a></li>
        <li><code>POST /api/toplevels/{handle}/activate</code></li>
        <li><code>GET /api/toplevels/{handle}/icon?size=48</code></li>
        <li><code>ws /api/toplevels/stream</code></li>
        <li><a href="/api/config">/api/config</a></li>
    </ul>
</body>
</html>`

	if r.URL.Path == "/" {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
		return
	}

	http.NotFound(w, r)
}
