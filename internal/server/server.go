// Package server exposes the recording engine and catalog over a
// JSON-over-net/http control surface.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/taverntapes/taverntapes/internal/catalog"
	"github.com/taverntapes/taverntapes/internal/config"
	"github.com/taverntapes/taverntapes/internal/device/pipewire"
	"github.com/taverntapes/taverntapes/internal/engine"
	"github.com/taverntapes/taverntapes/internal/ids"
	"github.com/taverntapes/taverntapes/internal/store"

	"github.com/taverntapes/taverntapes/internal/clock"
)

// Server is the HTTP control surface over one Engine. Construct with
// New, which opens the store and wires a production device backend.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	engine  *engine.Engine
	catalog *catalog.Catalog
}

// New opens the store cfg points at, purges orphan blobs, and wires a
// PipeWire-backed Engine over it.
func New(cfg *config.Config) (*Server, error) {
	if err := config.EnsureStoreDir(cfg); err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("server: opening store: %w", err)
	}

	if err := purgeOrphanBlobs(st); err != nil {
		return nil, fmt.Errorf("server: purging orphan blobs: %w", err)
	}

	dev := pipewire.New()
	eng := engine.New(st, dev, clock.Real{}, nil).
		WithStopTimeout(cfg.Engine.StopTimeout()).
		WithCheckpointInterval(cfg.Engine.CheckpointInterval())

	return &Server{
		cfg:     cfg,
		store:   st,
		engine:  eng,
		catalog: catalog.New(st),
	}, nil
}

// purgeOrphanBlobs deletes every blob whose session_id no longer
// references a known session, run once at startup before the server
// accepts requests.
func purgeOrphanBlobs(st *store.Store) error {
	sessions, err := st.GetAllSessions()
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	known := make([]ids.ID, len(sessions))
	for i, sess := range sessions {
		known[i] = sess.ID
	}

	orphans, err := st.ListOrphans(known)
	if err != nil {
		return fmt.Errorf("listing orphan blobs: %w", err)
	}
	for _, id := range orphans {
		if err := st.DeleteBlob(id); err != nil {
			return fmt.Errorf("deleting orphan blob %s: %w", id, err)
		}
		slog.Info("purged orphan blob", "blob_id", id)
	}
	if len(orphans) > 0 {
		slog.Info("orphan blob purge complete", "count", len(orphans))
	}
	return nil
}

// Close releases the underlying store handle.
func (s *Server) Close() error {
	return s.store.Close()
}

// Start registers every route and blocks serving on cfg.Server.Addr,
// one http.HandleFunc per route over a dedicated ServeMux rather than
// the package-level default mux.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sources", s.handleSources)
	mux.HandleFunc("/api/recovery", s.handleRecovery)
	mux.HandleFunc("/api/recovery/resume", s.handleRecoveryResume)
	mux.HandleFunc("/api/recovery/discard", s.handleRecoveryDiscard)

	mux.HandleFunc("/api/catalog/sessions", s.handleCatalogSessions)
	mux.HandleFunc("/api/catalog/sessions/", s.handleCatalogSessionByID)

	slog.Info("taverntapes server starting",
		"addr", s.cfg.Server.Addr,
		"local_url", localNetworkURL(s.cfg.Server.Addr),
		"store", s.cfg.Store.Path)

	return http.ListenAndServe(s.cfg.Server.Addr, mux)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	meta, err := s.engine.Start(r.Context(), req.Name)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, meta)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.engine.Pause(); err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.engine.GetStatus())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.engine.Resume(); err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.engine.GetStatus())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	meta, err := s.engine.Stop(r.Context())
	if err != nil && !errors.Is(err, engine.ErrStopTimeout) {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, meta)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.sendJSON(w, http.StatusOK, s.engine.GetStatus())
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	dev := pipewire.New()
	sources, err := dev.EnumerateInputs(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"sources": sources})
}

func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cp, ok, err := s.engine.PendingRecovery()
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"pending": ok, "checkpoint": cp})
}

func (s *Server) handleRecoveryResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	meta, err := s.engine.Recover(r.Context())
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, meta)
}

func (s *Server) handleRecoveryDiscard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.engine.DiscardRecovery(); err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"discarded": true})
}

func (s *Server) handleCatalogSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query().Get("q")
	sessions, err := s.catalog.Search(q)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// handleCatalogSessionByID dispatches /api/catalog/sessions/{id}[/notes|/tags|/tags/{tag}|/export].
func (s *Server) handleCatalogSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/catalog/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.sendError(w, http.StatusNotFound, "session id required")
		return
	}

	id, err := ids.Parse(parts[0])
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.deleteSession(w, id)
	case len(parts) == 2 && parts[1] == "notes" && r.Method == http.MethodPost:
		s.addNote(w, r, id)
	case len(parts) == 2 && parts[1] == "tags" && r.Method == http.MethodPost:
		s.addTags(w, r, id)
	case len(parts) == 3 && parts[1] == "tags" && r.Method == http.MethodDelete:
		s.removeTag(w, id, parts[2])
	case len(parts) == 2 && parts[1] == "export" && r.Method == http.MethodGet:
		s.exportSession(w, r, id)
	default:
		s.sendError(w, http.StatusNotFound, "no such catalog route")
	}
}

func (s *Server) deleteSession(w http.ResponseWriter, id ids.ID) {
	if err := s.catalog.DeleteSession(id); err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (s *Server) addNote(w http.ResponseWriter, r *http.Request, id ids.ID) {
	var req struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.catalog.AddNote(id, req.Note); err != nil {
		s.sendCatalogError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"added": true})
}

func (s *Server) addTags(w http.ResponseWriter, r *http.Request, id ids.ID) {
	var req struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.catalog.AddTags(id, req.Tags); err != nil {
		s.sendCatalogError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"added": true})
}

func (s *Server) removeTag(w http.ResponseWriter, id ids.ID, tag string) {
	if err := s.catalog.RemoveTag(id, tag); err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"removed": true})
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request, id ids.ID) {
	format := store.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = store.FormatWAV
	}
	blob, err := s.catalog.Export(id, format)
	if err != nil {
		s.sendCatalogError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

func (s *Server) sendEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrAlreadyRecording), errors.Is(err, engine.ErrNotRecording), errors.Is(err, engine.ErrIllegalTransition):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrSessionNameInvalid):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNoRecoveryCheckpoint):
		s.sendError(w, http.StatusNotFound, err.Error())
	default:
		s.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) sendCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrSessionNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrNoteTooLong), errors.Is(err, catalog.ErrTagInvalid),
		errors.Is(err, catalog.ErrTooManyTags), errors.Is(err, catalog.ErrFormatConversionUnsupported):
		s.sendError(w, http.StatusBadRequest, err.Error())
	default:
		s.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	slog.Error("sending error response", "status", status, "error", msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": msg})
}

// localNetworkURL resolves the machine's LAN-facing address so
// operators can reach the control surface from another device on the
// same network.
func localNetworkURL(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	conn, err := net.DialTimeout("udp", "8.8.8.8:80", time.Second)
	if err != nil {
		return addr
	}
	defer conn.Close()
	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return addr
	}
	return fmt.Sprintf("http://%s:%s", localAddr.IP.String(), port)
}
