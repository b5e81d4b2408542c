package db

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/passthrough/internal/config"
	"github.com/banshee-data/passthrough/internal/telemetry"
	"github.com/banshee-data/passthrough/internal/version"
)

// ErrNoSession is returned when a window or jank event is recorded before
// StartSession.
var ErrNoSession = errors.New("no active session")

// DB is the pacing telemetry store.
type DB struct {
	*sql.DB

	path string

	mu      sync.Mutex
	session string
}

// OpenDB opens the database without touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers; a single connection avoids SQLITE_BUSY
	// between the async sink and the admin routes.
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// NewDB opens the database and applies all pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migrationsFS); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("initialized telemetry database at %s", path)
	return db, nil
}

// Session is one pipeline run.
type Session struct {
	SessionID   string     `json:"session_id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	RefreshHz   float64    `json:"refresh_hz"`
	MeshOrder   string     `json:"mesh_order"`
	ConfigJSON  string     `json:"config_json"`
	Version     string     `json:"version"`
	TotalFrames int64      `json:"total_frames"`
}

// StartSession records a new session for cfg and makes it the target of
// subsequent windows and jank events.
func (db *DB) StartSession(cfg *config.PipelineConfig) (string, error) {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	id := uuid.NewString()
	_, err = db.Exec(`
		INSERT INTO sessions (session_id, refresh_hz, mesh_order, config_json, version)
		VALUES (?, ?, ?, ?, ?)
	`, id, cfg.GetRefreshHz(), cfg.GetMeshOrder().String(), string(raw), version.Version)
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}

	db.mu.Lock()
	db.session = id
	db.mu.Unlock()
	return id, nil
}

// EndSession stamps the active session with its end time and frame total.
func (db *DB) EndSession(totalFrames uint64) error {
	id := db.SessionID()
	if id == "" {
		return ErrNoSession
	}
	_, err := db.Exec(`
		UPDATE sessions SET ended_at = CURRENT_TIMESTAMP, total_frames = ?
		WHERE session_id = ?
	`, int64(totalFrames), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// SessionID returns the active session, or "" before StartSession.
func (db *DB) SessionID() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.session
}

// RecordWindow stores a closed telemetry window against the active session.
func (db *DB) RecordWindow(w telemetry.Window) error {
	id := db.SessionID()
	if id == "" {
		return ErrNoSession
	}
	_, err := db.Exec(`
		INSERT INTO windows (
			session_id, window_index, start_ns, end_ns, frame_count, duration_ns,
			fps, mean_interval_ns, stddev_interval_ns, max_interval_ns,
			midpoint_misses, vsync_corrections, eye_overruns, skipped, latency_warnings
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, int64(w.Index), w.StartNs, w.EndNs, w.FrameCount, w.DurationNs,
		w.FPS, w.MeanIntervalNs, w.StddevIntervalNs, w.MaxIntervalNs,
		w.MidpointMisses, w.VsyncCorrections, w.EyeOverruns, w.Skipped, w.LatencyWarnings)
	if err != nil {
		return fmt.Errorf("failed to insert window %d: %w", w.Index, err)
	}
	return nil
}

// RecordJank stores a jank event against the active session.
func (db *DB) RecordJank(e telemetry.JankEvent) error {
	id := db.SessionID()
	if id == "" {
		return ErrNoSession
	}
	kind := e.KindName
	if kind == "" {
		kind = e.Kind.String()
	}
	_, err := db.Exec(`
		INSERT INTO jank_events (session_id, kind, frame_index, at_ns)
		VALUES (?, ?, ?, ?)
	`, id, kind, int64(e.FrameIndex), e.AtNs)
	if err != nil {
		return fmt.Errorf("failed to insert jank event: %w", err)
	}
	return nil
}

// OnWindow implements telemetry.Sink. Errors are logged; the store is
// best effort and never stalls the render loop.
func (db *DB) OnWindow(w telemetry.Window) {
	if err := db.RecordWindow(w); err != nil {
		log.Printf("[db] %v", err)
	}
}

// OnJank implements telemetry.Sink.
func (db *DB) OnJank(e telemetry.JankEvent) {
	if err := db.RecordJank(e); err != nil {
		log.Printf("[db] %v", err)
	}
}

// RecentWindows returns up to limit windows of the active session, newest
// first.
func (db *DB) RecentWindows(limit int) ([]telemetry.Window, error) {
	id := db.SessionID()
	if id == "" {
		return nil, ErrNoSession
	}
	return db.SessionWindows(id, limit)
}

// SessionWindows returns up to limit windows of a session, newest first.
func (db *DB) SessionWindows(sessionID string, limit int) ([]telemetry.Window, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT window_index, start_ns, end_ns, frame_count, duration_ns,
			fps, mean_interval_ns, stddev_interval_ns, max_interval_ns,
			midpoint_misses, vsync_corrections, eye_overruns, skipped, latency_warnings
		FROM windows
		WHERE session_id = ?
		ORDER BY window_index DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	windows := []telemetry.Window{}
	for rows.Next() {
		var w telemetry.Window
		var index int64
		if err := rows.Scan(&index, &w.StartNs, &w.EndNs, &w.FrameCount, &w.DurationNs,
			&w.FPS, &w.MeanIntervalNs, &w.StddevIntervalNs, &w.MaxIntervalNs,
			&w.MidpointMisses, &w.VsyncCorrections, &w.EyeOverruns, &w.Skipped, &w.LatencyWarnings); err != nil {
			return nil, err
		}
		w.Index = uint64(index)
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return windows, nil
}

// JankCounts returns jank totals by kind for a session.
func (db *DB) JankCounts(sessionID string) (map[string]int, error) {
	rows, err := db.Query(`
		SELECT kind, COUNT(*) FROM jank_events
		WHERE session_id = ?
		GROUP BY kind
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// Sessions lists sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT session_id, started_at, ended_at, refresh_hz, mesh_order,
			config_json, version, total_frames
		FROM sessions
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var ended sql.NullTime
		if err := rows.Scan(&s.SessionID, &s.StartedAt, &ended, &s.RefreshHz, &s.MeshOrder,
			&s.ConfigJSON, &s.Version, &s.TotalFrames); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// AttachAdminRoutes mounts the debug pages, live SQL console and backup
// download on mux. The returned handler accepts further debug entries.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) *tsweb.DebugHandler {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Passthrough telemetry DB",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
	debug.KVFunc("Telemetry session", func() any { return db.SessionID() })
	return debug
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("passthrough-backup-%d.db", time.Now().UnixNano()))
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			log.Printf("Failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		log.Printf("Failed to write backup: %v", err)
	}
}
