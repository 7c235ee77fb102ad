// Package report persists scan results to a local SQLite database so
// successive runs of the inspector can be compared and deduplicated. The
// in-memory core stays a pure analyzer; persistence is strictly additive.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/f0829/moneta/pkg/suspicion"
)

// Store is a SQLite-backed scan report store.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the report database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open report database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		image_name TEXT,
		image_path TEXT,
		wow64 INTEGER NOT NULL DEFAULT 0,
		entity_count INTEGER NOT NULL,
		suspicion_count INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS suspicions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		alloc_base INTEGER NOT NULL,
		subregion_base INTEGER NOT NULL,
		entity_scope INTEGER NOT NULL,
		description TEXT,
		backing_path TEXT,
		fingerprint TEXT NOT NULL,
		FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_suspicions_scan_id ON suspicions(scan_id);
	CREATE INDEX IF NOT EXISTS idx_suspicions_fingerprint ON suspicions(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_scans_pid ON scans(pid);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ScanSummary describes one completed snapshot inspection.
type ScanSummary struct {
	Pid            uint32
	ImageName      string
	ImagePath      string
	Wow64          bool
	EntityCount    int
	SuspicionCount int
	Duration       time.Duration
}

// SaveScan writes the scan row and its filtered suspicions, returning the
// generated scan identifier.
func (s *Store) SaveScan(ctx context.Context, sum ScanSummary, m *suspicion.Map) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	scanID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scans (id, pid, image_name, image_path, wow64, entity_count, suspicion_count, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		scanID, sum.Pid, sum.ImageName, sum.ImagePath, boolInt(sum.Wow64),
		sum.EntityCount, sum.SuspicionCount, sum.Duration.Milliseconds(),
	)
	if err != nil {
		return "", err
	}

	var insertErr error
	m.Walk(func(allocBase, base uint64, susp *suspicion.Suspicion) {
		if insertErr != nil {
			return
		}
		_, insertErr = tx.ExecContext(ctx, `
			INSERT INTO suspicions (scan_id, kind, severity, alloc_base, subregion_base, entity_scope, description, backing_path, fingerprint)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			scanID, string(susp.Kind), string(susp.Kind.Severity()),
			int64(allocBase), int64(base), boolInt(susp.EntityScope),
			susp.Description, susp.Entity.Path(),
			suspicion.Fingerprint(sum.ImagePath, susp),
		)
	})
	if insertErr != nil {
		return "", insertErr
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return scanID, nil
}

// SuspicionRow is one persisted finding.
type SuspicionRow struct {
	ScanID        string
	Kind          suspicion.Kind
	Severity      suspicion.Level
	AllocBase     uint64
	SubregionBase uint64
	EntityScope   bool
	Description   string
	BackingPath   string
	Fingerprint   string
}

// SuspicionsByScan returns the persisted findings of one scan in address order.
func (s *Store) SuspicionsByScan(ctx context.Context, scanID string) ([]SuspicionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scan_id, kind, severity, alloc_base, subregion_base, entity_scope, description, backing_path, fingerprint
		FROM suspicions WHERE scan_id = ?
		ORDER BY alloc_base, subregion_base, id`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SuspicionRow
	for rows.Next() {
		var r SuspicionRow
		var kind, severity string
		var allocBase, subBase int64
		var scope int
		if err := rows.Scan(&r.ScanID, &kind, &severity, &allocBase, &subBase, &scope, &r.Description, &r.BackingPath, &r.Fingerprint); err != nil {
			return nil, err
		}
		r.Kind = suspicion.KindFromString(kind)
		r.Severity = suspicion.Level(severity)
		r.AllocBase = uint64(allocBase)
		r.SubregionBase = uint64(subBase)
		r.EntityScope = scope != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// SeenBefore reports whether a fingerprint was recorded by any earlier scan.
func (s *Store) SeenBefore(ctx context.Context, fingerprint, excludeScanID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM suspicions WHERE fingerprint = ? AND scan_id != ?`,
		fingerprint, excludeScanID).Scan(&n)
	return n > 0, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
