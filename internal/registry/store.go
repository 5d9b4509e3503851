// Package registry provides the durable catalog of optimized-model artifacts
// and A/B comparison bookkeeping, backed by SQLite and a managed storage
// directory tree.
//
// Storage layout is one subdirectory per model name containing one
// subdirectory per version:
//
//	<storage root>/<name>/<version>/<artifact files>
//
// Registering a model copies the caller's artifact into managed storage and
// then inserts the catalog row. The copy and the insert are deliberately not
// wrapped in one atomic unit: a crash between the two leaves an orphaned
// artifact directory, which the next registration of the same name/version
// overwrites. Callers must not rely on stronger guarantees.
package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davidsonq/modelforge/internal/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS models (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	backend TEXT NOT NULL,
	model_path TEXT NOT NULL,
	base_model TEXT,
	task TEXT,
	size_mb REAL NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	UNIQUE(name, version)
);

CREATE TABLE IF NOT EXISTS ab_tests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	model_a_id INTEGER NOT NULL,
	model_b_id INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TEXT NOT NULL,
	FOREIGN KEY (model_a_id) REFERENCES models (id),
	FOREIGN KEY (model_b_id) REFERENCES models (id)
);

CREATE TABLE IF NOT EXISTS ab_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	test_id INTEGER NOT NULL,
	model_id INTEGER NOT NULL,
	metric_name TEXT NOT NULL,
	metric_value REAL NOT NULL,
	timestamp TEXT NOT NULL,
	FOREIGN KEY (test_id) REFERENCES ab_tests (id),
	FOREIGN KEY (model_id) REFERENCES models (id)
);

CREATE INDEX IF NOT EXISTS idx_models_name_created ON models (name, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ab_results_test ON ab_results (test_id);
`

// Store is the registry of optimized-model artifacts and A/B test records.
// It is safe for concurrent use; each operation runs on its own pooled
// connection and relies on SQLite's own transaction isolation.
type Store struct {
	db   *sql.DB
	root string
}

// NewStore creates a Store over an open database handle and a managed
// storage root. Call Initialize before first use.
func NewStore(db *sql.DB, storageRoot string) *Store {
	return &Store{db: db, root: storageRoot}
}

// OpenStore opens the database at dbPath, creates a Store with the given
// storage root, and initializes the schema.
func OpenStore(dbPath, storageRoot string) (*Store, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}
	s := NewStore(db, storageRoot)
	if err := s.Initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StorageRoot returns the managed storage root directory.
func (s *Store) StorageRoot() string {
	return s.root
}

// Initialize creates the schema and the managed storage root. It is
// idempotent and safe to call on every startup.
func (s *Store) Initialize() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("creating storage root: %w", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	log.Debug(log.CatDB, "Registry schema initialized", "root", s.root)
	return nil
}

// RegisterParams are the inputs to RegisterModel.
type RegisterParams struct {
	Name       string
	Version    string
	Backend    string
	SourcePath string
	BaseModel  string
	Task       string
	Metadata   map[string]any
}

// RegisterModel copies the artifact at SourcePath into managed storage and
// inserts a catalog row, returning the generated id.
//
// Filesystem failures abort before any database write. A duplicate
// (name, version) fails with a ConflictError; concurrent registrations of
// the same pair resolve to exactly one winner via the UNIQUE constraint,
// and losers should retry with a different version.
func (s *Store) RegisterModel(p RegisterParams) (int64, error) {
	if err := checkPathComponent("name", p.Name); err != nil {
		return 0, err
	}
	if err := checkPathComponent("version", p.Version); err != nil {
		return 0, err
	}

	size, err := treeSizeBytes(p.SourcePath)
	if err != nil {
		return 0, fmt.Errorf("sizing artifact %s: %w", p.SourcePath, err)
	}
	sizeMB := float64(size) / (1024 * 1024)

	dest := filepath.Join(s.root, p.Name, p.Version)
	if err := copyTree(p.SourcePath, dest); err != nil {
		return 0, fmt.Errorf("copying artifact to %s: %w", dest, err)
	}

	metadata, err := json.Marshal(orEmpty(p.Metadata))
	if err != nil {
		return 0, fmt.Errorf("encoding metadata: %w", err)
	}

	result, err := s.db.Exec(
		`INSERT INTO models (name, version, backend, model_path, base_model, task, size_mb, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Version, p.Backend, dest,
		nullable(p.BaseModel), nullable(p.Task),
		sizeMB, string(metadata), formatTime(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, &ConflictError{Resource: "model", Key: p.Name + ":" + p.Version}
		}
		return 0, fmt.Errorf("inserting model row: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading insert id: %w", err)
	}

	log.Info(log.CatRegistry, "Registered model", "name", p.Name, "version", p.Version, "id", id, "size_mb", fmt.Sprintf("%.2f", sizeMB))
	return id, nil
}

// GetModel returns the model with the given name and version, or (nil, nil)
// when no such model exists. Version "latest" resolves to the most recently
// registered version of the name, by created_at, not by semantic version.
func (s *Store) GetModel(name, version string) (*ModelRecord, error) {
	var row *sql.Row
	if version == "" || version == "latest" {
		row = s.db.QueryRow(
			`SELECT `+modelColumns+` FROM models WHERE name = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
			name,
		)
	} else {
		row = s.db.QueryRow(
			`SELECT `+modelColumns+` FROM models WHERE name = ? AND version = ?`,
			name, version,
		)
	}

	rec, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying model %s:%s: %w", name, version, err)
	}
	return rec, nil
}

// GetModelByID returns the model with the given id, or (nil, nil).
func (s *Store) GetModelByID(id int64) (*ModelRecord, error) {
	row := s.db.QueryRow(`SELECT `+modelColumns+` FROM models WHERE id = ?`, id)
	rec, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying model id %d: %w", id, err)
	}
	return rec, nil
}

// ListModels returns all models, optionally filtered to one name, newest
// first. An empty result is a valid outcome, not an error.
func (s *Store) ListModels(nameFilter string) ([]ModelRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if nameFilter != "" {
		rows, err = s.db.Query(
			`SELECT `+modelColumns+` FROM models WHERE name = ? ORDER BY created_at DESC, id DESC`,
			nameFilter,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT ` + modelColumns + ` FROM models ORDER BY created_at DESC, id DESC`,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer rows.Close()

	var records []ModelRecord
	for rows.Next() {
		rec, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning model row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return records, nil
}

// DeleteModel removes the given version of a model, or every version when
// version is empty. Catalog rows are deleted first; artifact removal
// tolerates directories that are already gone. Deleting a name or version
// that does not exist is a silent no-op.
//
// A model still referenced by an A/B test cannot be deleted; the error
// matches ErrReferentialIntegrity and nothing is removed.
func (s *Store) DeleteModel(name, version string) error {
	if version != "" {
		return s.deleteVersion(name, version)
	}
	return s.deleteAllVersions(name)
}

func (s *Store) deleteVersion(name, version string) error {
	var modelPath string
	err := s.db.QueryRow(
		`SELECT model_path FROM models WHERE name = ? AND version = ?`,
		name, version,
	).Scan(&modelPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("querying model %s:%s: %w", name, version, err)
	}

	if _, err := s.db.Exec(`DELETE FROM models WHERE name = ? AND version = ?`, name, version); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("model %s:%s is referenced by an A/B test: %w", name, version, ErrReferentialIntegrity)
		}
		return fmt.Errorf("deleting model %s:%s: %w", name, version, err)
	}

	if err := os.RemoveAll(modelPath); err != nil {
		// Row is gone; a leftover directory is recoverable by hand.
		log.Warn(log.CatRegistry, "Failed to remove artifact directory", "path", modelPath, "error", err)
	}

	log.Info(log.CatRegistry, "Deleted model", "name", name, "version", version)
	return nil
}

func (s *Store) deleteAllVersions(name string) error {
	rows, err := s.db.Query(`SELECT model_path FROM models WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("querying models named %s: %w", name, err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return fmt.Errorf("scanning model path: %w", err)
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("querying models named %s: %w", name, err)
	}
	if len(paths) == 0 {
		return nil
	}

	if _, err := s.db.Exec(`DELETE FROM models WHERE name = ?`, name); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("model %s is referenced by an A/B test: %w", name, ErrReferentialIntegrity)
		}
		return fmt.Errorf("deleting models named %s: %w", name, err)
	}

	// Remove the per-name subtree, one level above the version directories.
	for _, p := range paths {
		if err := os.RemoveAll(filepath.Dir(p)); err != nil {
			log.Warn(log.CatRegistry, "Failed to remove artifact subtree", "path", filepath.Dir(p), "error", err)
		}
	}

	log.Info(log.CatRegistry, "Deleted all versions", "name", name, "count", len(paths))
	return nil
}

// CreateABTest creates a named pairing of two catalog entries and returns
// the generated id. Status defaults to "active". The name must be unused;
// both ids must reference existing models.
func (s *Store) CreateABTest(name string, modelAID, modelBID int64) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO ab_tests (name, model_a_id, model_b_id, created_at) VALUES (?, ?, ?, ?)`,
		name, modelAID, modelBID, formatTime(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, &ConflictError{Resource: "ab_test", Key: name}
		}
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("ab_test %q references unknown model ids %d/%d: %w", name, modelAID, modelBID, ErrReferentialIntegrity)
		}
		return 0, fmt.Errorf("inserting ab_test row: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading insert id: %w", err)
	}
	log.Info(log.CatRegistry, "Created A/B test", "name", name, "id", id)
	return id, nil
}

// GetABTest returns the named test joined with both arms' name/version, or
// (nil, nil) when not found.
func (s *Store) GetABTest(name string) (*ABTestView, error) {
	row := s.db.QueryRow(
		`SELECT `+abTestColumns+`
		 FROM ab_tests t
		 JOIN models ma ON t.model_a_id = ma.id
		 JOIN models mb ON t.model_b_id = mb.id
		 WHERE t.name = ?`,
		name,
	)
	view, err := scanABTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying ab_test %q: %w", name, err)
	}
	return view, nil
}

// ListABTests returns all tests with both arms joined, newest first.
func (s *Store) ListABTests() ([]ABTestView, error) {
	rows, err := s.db.Query(
		`SELECT ` + abTestColumns + `
		 FROM ab_tests t
		 JOIN models ma ON t.model_a_id = ma.id
		 JOIN models mb ON t.model_b_id = mb.id
		 ORDER BY t.created_at DESC, t.id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing ab_tests: %w", err)
	}
	defer rows.Close()

	var views []ABTestView
	for rows.Next() {
		view, err := scanABTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ab_test row: %w", err)
		}
		views = append(views, *view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing ab_tests: %w", err)
	}
	return views, nil
}

// RecordABResult appends one timestamped metric observation for an arm of a
// test. Observations are never overwritten; repeated measurements of the
// same metric all land as separate rows.
func (s *Store) RecordABResult(testID, modelID int64, metricName string, metricValue float64) error {
	_, err := s.db.Exec(
		`INSERT INTO ab_results (test_id, model_id, metric_name, metric_value, timestamp) VALUES (?, ?, ?, ?, ?)`,
		testID, modelID, metricName, metricValue, formatTime(time.Now()),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("ab_result references unknown test %d or model %d: %w", testID, modelID, ErrReferentialIntegrity)
		}
		return fmt.Errorf("inserting ab_result row: %w", err)
	}
	return nil
}

// GetABResults returns every observation for a test joined with the
// observed model's name/version, newest first.
func (s *Store) GetABResults(testID int64) ([]ABResultView, error) {
	rows, err := s.db.Query(
		`SELECT `+abResultColumns+`
		 FROM ab_results r
		 JOIN models m ON r.model_id = m.id
		 WHERE r.test_id = ?
		 ORDER BY r.timestamp DESC, r.id DESC`,
		testID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing ab_results for test %d: %w", testID, err)
	}
	defer rows.Close()

	var views []ABResultView
	for rows.Next() {
		view, err := scanABResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ab_result row: %w", err)
		}
		views = append(views, *view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing ab_results for test %d: %w", testID, err)
	}
	return views, nil
}

// checkPathComponent rejects values that cannot serve as a single directory
// name under the storage root.
func checkPathComponent(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if value == "." || value == ".." ||
		strings.ContainsAny(value, `/\`) {
		return fmt.Errorf("%s %q is not a valid path component", field, value)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
