package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "coscribe.db"

type Config struct {
	// Path is the database file. When empty, DataDir/.coscribe/coscribe.db
	// is used.
	Path    string
	DataDir string
}

func dbPath(cfg Config) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	dir := cfg.DataDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, ".coscribe", defaultDBName)
}

// Open opens the SQLite database with foreign keys on, creating the parent
// directory if missing.
func Open(cfg Config) (*sql.DB, error) {
	path := dbPath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the resolved database file path.
func Path(cfg Config) string {
	return dbPath(cfg)
}
