package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/versolabs/verso-core/internal/config"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Chunk lifecycle states. A chunk moves pending -> processing ->
// completed or failed; needs_reprocess marks completed chunks queued
// for another pass.
const (
	StatusPending        = "pending"
	StatusProcessing     = "processing"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusNeedsReprocess = "needs_reprocess"
)

// Store persists projects, chapters, chunks, and audio versions in
// SQLite. The clock is injectable so tests control timestamps.
type Store struct {
	db    *sql.DB
	clock func() time.Time
	log   *slog.Logger
}

// Open creates or opens the database at cfg.Path, enables WAL, and
// runs migrations.
func Open(cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc/sqlite serializes writes; one connection avoids lock churn.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:    db,
		clock: time.Now,
		log:   log.With(slog.String("component", "store")),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.VacuumOnStart {
		if _, err := db.Exec("VACUUM"); err != nil {
			s.log.Warn("vacuum failed", slog.String("error", err.Error()))
		}
	}
	s.log.Info("store opened", slog.String("path", cfg.Path))
	return s, nil
}

// SetClock overrides the timestamp source. Tests use it for
// deterministic created_at/updated_at values.
func (s *Store) SetClock(clock func() time.Time) {
	s.clock = clock
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() string {
	return s.clock().UTC().Format(time.RFC3339Nano)
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	source_file  TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'active',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_source ON projects(source_file);

CREATE TABLE IF NOT EXISTS chapters (
	id              TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL REFERENCES projects(id),
	chapter_number  INTEGER NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	UNIQUE(project_id, chapter_number)
);

CREATE TABLE IF NOT EXISTS chunks (
	id              TEXT PRIMARY KEY,
	chapter_id      TEXT NOT NULL REFERENCES chapters(id),
	chunk_number    INTEGER NOT NULL,
	text            TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	position_start  INTEGER NOT NULL DEFAULT 0,
	position_end    INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	voice           TEXT NOT NULL DEFAULT '',
	temperature     REAL NOT NULL DEFAULT 0,
	speed           REAL NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	UNIQUE(chapter_id, chunk_number)
);
CREATE INDEX IF NOT EXISTS idx_chunks_status ON chunks(status);

CREATE TABLE IF NOT EXISTS audio_versions (
	id                TEXT PRIMARY KEY,
	chunk_id          TEXT NOT NULL REFERENCES chunks(id),
	version_number    INTEGER NOT NULL,
	file_path         TEXT NOT NULL,
	is_active         INTEGER NOT NULL DEFAULT 0,
	duration_seconds  REAL NOT NULL DEFAULT 0,
	accuracy          REAL,
	content_hash      TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	UNIQUE(chunk_id, version_number)
);
CREATE INDEX IF NOT EXISTS idx_audio_versions_chunk ON audio_versions(chunk_id);

CREATE TABLE IF NOT EXISTS chapter_audio_versions (
	id               TEXT PRIMARY KEY,
	chapter_id       TEXT NOT NULL REFERENCES chapters(id),
	version_number   INTEGER NOT NULL,
	file_path        TEXT NOT NULL,
	is_active        INTEGER NOT NULL DEFAULT 0,
	included_chunks  TEXT NOT NULL DEFAULT '[]',
	excluded_chunks  TEXT NOT NULL DEFAULT '[]',
	checksum         TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	UNIQUE(chapter_id, version_number)
);

CREATE TABLE IF NOT EXISTS word_timings (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_id         TEXT NOT NULL REFERENCES chunks(id),
	audio_version_id TEXT NOT NULL REFERENCES audio_versions(id),
	word             TEXT NOT NULL,
	start_time       REAL NOT NULL,
	end_time         REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_word_timings_chunk ON word_timings(chunk_id);

CREATE TABLE IF NOT EXISTS chapter_settings (
	chapter_id   TEXT PRIMARY KEY REFERENCES chapters(id),
	voice        TEXT NOT NULL DEFAULT '',
	temperature  REAL NOT NULL DEFAULT 0,
	speed        REAL NOT NULL DEFAULT 0
);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	// Columns added after the first release; ALTER fails harmlessly when
	// the column already exists.
	additive := []string{
		"ALTER TABLE chunks ADD COLUMN last_error TEXT NOT NULL DEFAULT ''",
		"ALTER TABLE chunks ADD COLUMN voice TEXT NOT NULL DEFAULT ''",
		"ALTER TABLE chunks ADD COLUMN temperature REAL NOT NULL DEFAULT 0",
		"ALTER TABLE chunks ADD COLUMN speed REAL NOT NULL DEFAULT 0",
		"ALTER TABLE audio_versions ADD COLUMN accuracy REAL",
		"ALTER TABLE audio_versions ADD COLUMN content_hash TEXT NOT NULL DEFAULT ''",
		"ALTER TABLE chapter_settings ADD COLUMN speed REAL NOT NULL DEFAULT 0",
	}
	for _, stmt := range additive {
		if _, err := s.db.Exec(stmt); err != nil {
			if !strings.Contains(err.Error(), "duplicate column") {
				s.log.Debug("additive migration skipped", slog.String("stmt", stmt))
			}
		}
	}
	return nil
}
