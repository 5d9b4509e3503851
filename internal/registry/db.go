package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/davidsonq/modelforge/internal/log"
)

// OpenDB opens (creating if needed) the registry database at dbPath.
// The parent directory is created with 0700 permissions. WAL mode and
// foreign key enforcement are enabled for every connection; busy_timeout
// lets concurrent writers queue instead of failing immediately.
func OpenDB(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(wal)" +
		"&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		log.ErrorErr(log.CatDB, "Failed to open database", err, "path", dbPath)
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		log.ErrorErr(log.CatDB, "Failed to ping database", err, "path", dbPath)
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info(log.CatDB, "Connected to database", "path", dbPath)
	return db, nil
}
