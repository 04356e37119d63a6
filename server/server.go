// Package server exposes the terminal's HTTP surface: the manual-entry and
// reporting API, static assets, and the websocket feed the browser UI
// listens on. It is plumbing around the core, not part of it.
package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"messgate/session"
	"messgate/store"
)

// Outcome is the wire shape broadcast to listeners and returned by the
// manual-entry API. Field names match what the browser UI expects.
type Outcome struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	ImagePath string `json:"image_path"`
	Session   string `json:"session,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ProcessFunc runs the full business decision for an identity, exactly as a
// tap would, and broadcasts the outcome to listeners itself. The server
// calls it for manual entries.
type ProcessFunc func(ctx context.Context, identity string) Outcome

// Config holds HTTP settings.
type Config struct {
	Addr      string `yaml:"addr"`       // default ":8080"
	ImageDir  string `yaml:"image_dir"`  // student photos
	StaticDir string `yaml:"static_dir"` // index.html and friends
}

// Server wires the routes.
type Server struct {
	cfg     Config
	store   *store.Store
	sched   session.Schedule
	guestID string
	hub     *Hub
	process ProcessFunc
	http    *http.Server
}

// New builds the server. process may be nil, which disables manual entry.
func New(cfg Config, st *store.Store, sched session.Schedule, guestID string, hub *Hub, process ProcessFunc) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	s := &Server{
		cfg:     cfg,
		store:   st,
		sched:   sched,
		guestID: guestID,
		hub:     hub,
		process: process,
	}

	r := chi.NewRouter()
	r.Post("/api/entry/manual", s.handleManualEntry)
	r.Get("/api/mess/export", s.handleExport)
	r.Get("/api/mess/stats", s.handleStats)
	r.Get("/api/mess/recent", s.handleRecent)
	r.Get("/api/mess/session", s.handleSession)
	r.Get("/api/images/{file}", s.handleImage)
	r.Get("/ws", hub.ServeHTTP)
	r.Get("/", s.handleIndex)

	s.http = &http.Server{Addr: cfg.Addr, Handler: r}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	log.Printf("server: listening on %s", s.cfg.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops the listener and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type manualEntryRequest struct {
	Year       string `json:"year"`
	Department string `json:"department"`
	RollNumber string `json:"roll_number"`
}

func (s *Server) handleManualEntry(w http.ResponseWriter, r *http.Request) {
	if s.process == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success": false, "error": "manual entry disabled",
		})
		return
	}

	var req manualEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false, "error": "bad request body",
		})
		return
	}
	sid := req.Year + req.Department + req.RollNumber

	_, found, err := s.store.Student(sid)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false, "error": "lookup failed",
		})
		return
	}
	if !found && sid != s.guestID {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false, "error": "Student not found",
		})
		return
	}

	outcome := s.process(r.Context(), sid)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": outcome})
}

// parseMonth parses the optional ?month=YYYY-MM parameter. Zero time means
// current month.
func parseMonth(r *http.Request) (time.Time, error) {
	q := r.URL.Query().Get("month")
	if q == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01", q, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad month %q", q)
	}
	return t, nil
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonth(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	rows, err := s.store.ExportRows(month, s.guestID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "export failed"})
		return
	}

	label := r.URL.Query().Get("month")
	if label == "" {
		label = time.Now().Format("2006-01-02")
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=mess_export_%s.csv", label))

	cw := csv.NewWriter(w)
	cw.Write([]string{"Timestamp", "Student ID", "Name", "Session"})
	for _, e := range rows {
		cw.Write([]string{e.Timestamp, e.StudentID, e.Name, e.Session})
	}
	cw.Flush()
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonth(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	stats, err := s.store.MonthStats(month)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats failed"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	sess, ok := s.sched.Current(time.Now())
	if !ok {
		writeJSON(w, http.StatusOK, []store.Entry{})
		return
	}
	entries, err := s.store.RecentEntries(sess, s.guestID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	type recentEntry struct {
		StudentID string `json:"student_id"`
		Timestamp string `json:"timestamp"`
		Name      string `json:"name"`
		ImagePath string `json:"image_path"`
	}
	out := make([]recentEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, recentEntry{
			StudentID: e.StudentID,
			Timestamp: e.Timestamp,
			Name:      e.Name,
			ImagePath: ImagePath(e.StudentID, s.guestID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	current, _ := s.sched.Current(time.Now())
	timings := make(map[string]map[string]string, len(s.sched.Windows))
	for _, win := range s.sched.Windows {
		timings[win.Name] = map[string]string{
			"start": win.Start.String(),
			"end":   win.End.String(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"current_session": orNil(current),
		"timings":         timings,
	})
}

func orNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	// Base strips any path traversal attempt.
	name := filepath.Base(chi.URLParam(r, "file"))
	http.ServeFile(w, r, filepath.Join(s.cfg.ImageDir, name))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	dir := s.cfg.StaticDir
	if dir == "" {
		dir = "."
	}
	http.ServeFile(w, r, filepath.Join(dir, "index.html"))
}

// ImagePath builds the photo URL shown next to an outcome.
func ImagePath(studentID, guestID string) string {
	if studentID == guestID {
		return "/api/images/guest.png"
	}
	return "/api/images/" + studentID + ".png"
}
