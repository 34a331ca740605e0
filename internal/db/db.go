package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/robolabel/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// FileName is the database file inside the base directory.
const FileName = "robolabel.db"

// Init initializes the SQLite database at baseDir/robolabel.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.robolabel.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the DSN apply to every pooled connection
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: videos, analyses, per-group checkpoints
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS videos (
		  name        TEXT PRIMARY KEY,
		  size_bytes  INTEGER NOT NULL,
		  source      TEXT NOT NULL,
		  source_url  TEXT,
		  location    TEXT NOT NULL,
		  created_at  INTEGER NOT NULL,
		  updated_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS analyses (
		  id              TEXT PRIMARY KEY,
		  video_name      TEXT NOT NULL,
		  status          TEXT NOT NULL,
		  model           TEXT,
		  prompt_version  TEXT,
		  resumed_from    TEXT,
		  result_text     TEXT,
		  groups_done     INTEGER NOT NULL DEFAULT 0,
		  last_end_time   TEXT,
		  fps             REAL,
		  error_code      TEXT,
		  error_message   TEXT,
		  created_at      INTEGER NOT NULL,
		  updated_at      INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_analyses_video_created
		ON analyses(video_name, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_analyses_status
		ON analyses(status);

		CREATE TABLE IF NOT EXISTS checkpoints (
		  analysis_id   TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
		  group_index   INTEGER NOT NULL,
		  start_time    TEXT NOT NULL,
		  end_time      TEXT NOT NULL,
		  context_text  TEXT NOT NULL,
		  created_at    INTEGER NOT NULL,
		  PRIMARY KEY (analysis_id, group_index)
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: record the settings a run was made with, so a resume
	// can refuse to continue under different grouping or a replaced video.
	if version < 2 {
		schema := `
		ALTER TABLE videos ADD COLUMN revision INTEGER NOT NULL DEFAULT 1;
		ALTER TABLE analyses ADD COLUMN group_size INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE analyses ADD COLUMN num_cams INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE analyses ADD COLUMN sample_seconds REAL NOT NULL DEFAULT 0;
		ALTER TABLE analyses ADD COLUMN video_revision INTEGER NOT NULL DEFAULT 0;
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
