package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	stateDir      = ".verdictline"
	defaultDBName = "verdictline.db"
)

type Config struct {
	Workspace string
	// Path overrides the workspace location when set. ":memory:" is accepted.
	Path string
}

// StateDir returns the per-workspace state directory.
func StateDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, stateDir)
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return filepath.Join(StateDir(workspace), defaultDBName)
}

// Open opens the history database, creating the state directory if needed.
// The pool is capped at one connection.
func Open(cfg Config) (*sql.DB, error) {
	path := cfg.Path
	if path == "" {
		if err := os.MkdirAll(StateDir(cfg.Workspace), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		path = Path(cfg.Workspace)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	if path == ":memory:" {
		dsn = "file::memory:"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}
