// Package report keeps a SQLite record of classification outcomes: whether an
// extension was judged network related, which signals matched, and the
// descriptor as it was kept.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	errs "crxharvest/pkg/errors"
	"crxharvest/pkg/logger"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	id              TEXT PRIMARY KEY,
	network_related INTEGER NOT NULL,
	signals         TEXT NOT NULL DEFAULT '[]',
	descriptor      TEXT NOT NULL DEFAULT '{}',
	classified_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_network ON results(network_related);
`

// Entry is one classification outcome
type Entry struct {
	ID             string
	NetworkRelated bool
	Signals        []string
	// Descriptor is the manifest as kept on disk, stripped when not network related
	Descriptor   json.RawMessage
	ClassifiedAt time.Time
}

// Totals summarizes the stored outcomes
type Totals struct {
	Classified     int
	NetworkRelated int
}

// Store is the report database
type Store struct {
	db     *sql.DB
	path   string
	logger logger.Logger
}

// Open opens (creating if needed) the report database at path.
// ":memory:" opens a private in-memory database.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errs.Storage("create report directory", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Storage("open report", err)
	}
	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Storage("create report schema", err)
	}

	log.DebugWithFields("Report opened", map[string]interface{}{"path": path})
	return &Store{db: db, path: path, logger: log}, nil
}

// Path returns the database location
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts or replaces the outcome for e.ID
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errs.Storage("record result", fmt.Errorf("empty id"))
	}
	if e.ClassifiedAt.IsZero() {
		e.ClassifiedAt = time.Now()
	}
	signals := e.Signals
	if signals == nil {
		signals = []string{}
	}
	signalsJSON, err := json.Marshal(signals)
	if err != nil {
		return errs.Storage("encode signals", err).WithID(e.ID)
	}
	descriptor := e.Descriptor
	if len(descriptor) == 0 {
		descriptor = json.RawMessage("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (id, network_related, signals, descriptor, classified_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			network_related = excluded.network_related,
			signals = excluded.signals,
			descriptor = excluded.descriptor,
			classified_at = excluded.classified_at`,
		e.ID, boolToInt(e.NetworkRelated), string(signalsJSON), string(descriptor),
		e.ClassifiedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errs.Storage("record result", err).WithID(e.ID)
	}
	return nil
}

// Get returns the outcome for id. ok is false when id was never classified.
func (s *Store) Get(ctx context.Context, id string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, network_related, signals, descriptor, classified_at
		FROM results WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errs.Storage("read result", err).WithID(id)
	}
	return e, true, nil
}

// List returns every outcome ordered by id. networkOnly limits it to network related ones.
func (s *Store) List(ctx context.Context, networkOnly bool) ([]Entry, error) {
	query := `SELECT id, network_related, signals, descriptor, classified_at FROM results`
	if networkOnly {
		query += ` WHERE network_related = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Storage("list results", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errs.Storage("list results", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("list results", err)
	}
	return entries, nil
}

// Totals counts the stored outcomes
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(network_related), 0) FROM results`).
		Scan(&t.Classified, &t.NetworkRelated)
	if err != nil {
		return t, errs.Storage("count results", err)
	}
	return t, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e            Entry
		network      int
		signals      string
		descriptor   string
		classifiedAt string
	)
	if err := sc.Scan(&e.ID, &network, &signals, &descriptor, &classifiedAt); err != nil {
		return Entry{}, err
	}
	e.NetworkRelated = network != 0
	if err := json.Unmarshal([]byte(signals), &e.Signals); err != nil {
		return Entry{}, fmt.Errorf("decode signals of %s: %w", e.ID, err)
	}
	e.Descriptor = json.RawMessage(descriptor)
	ts, err := time.Parse(time.RFC3339Nano, classifiedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("decode classified_at of %s: %w", e.ID, err)
	}
	e.ClassifiedAt = ts
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
