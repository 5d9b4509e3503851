package registry

import (
	"database/sql"
	"encoding/json"
	"time"
)

// timeFormat is RFC 3339 with fixed-width nanoseconds. Timestamps are stored
// as UTC text; the fixed width keeps lexicographic order equal to
// chronological order, which the created_at DESC queries rely on.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ModelRecord is one catalog row for a registered model artifact.
type ModelRecord struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Backend   string         `json:"backend"`
	ModelPath string         `json:"model_path"`
	BaseModel string         `json:"base_model,omitempty"`
	Task      string         `json:"task,omitempty"`
	SizeMB    float64        `json:"size_mb"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ABTestView is an A/B test row joined with both arms' name and version.
type ABTestView struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	ModelAID      int64     `json:"model_a_id"`
	ModelBID      int64     `json:"model_b_id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	ModelAName    string    `json:"model_a_name"`
	ModelAVersion string    `json:"model_a_version"`
	ModelBName    string    `json:"model_b_name"`
	ModelBVersion string    `json:"model_b_version"`
}

// ABResultView is one metric observation joined with the observed model's
// name and version.
type ABResultView struct {
	ID           int64     `json:"id"`
	TestID       int64     `json:"test_id"`
	ModelID      int64     `json:"model_id"`
	MetricName   string    `json:"metric_name"`
	MetricValue  float64   `json:"metric_value"`
	Timestamp    time.Time `json:"timestamp"`
	ModelName    string    `json:"model_name"`
	ModelVersion string    `json:"model_version"`
}

// modelColumns is the list of columns to select for model queries.
const modelColumns = `id, name, version, backend, model_path, base_model, task, size_mb, metadata, created_at`

func scanModel(scanner interface{ Scan(...any) error }) (*ModelRecord, error) {
	var (
		rec       ModelRecord
		baseModel sql.NullString
		task      sql.NullString
		metadata  string
		createdAt string
	)
	err := scanner.Scan(
		&rec.ID, &rec.Name, &rec.Version, &rec.Backend, &rec.ModelPath,
		&baseModel, &task, &rec.SizeMB, &metadata, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	rec.BaseModel = baseModel.String
	rec.Task = task.String
	rec.CreatedAt = parseTime(createdAt)
	if metadata != "" {
		// Opaque passthrough; a row written by an older build may hold
		// anything, so decode failures just leave Metadata nil.
		_ = json.Unmarshal([]byte(metadata), &rec.Metadata)
	}
	return &rec, nil
}

const abTestColumns = `t.id, t.name, t.model_a_id, t.model_b_id, t.status, t.created_at,
	ma.name, ma.version, mb.name, mb.version`

func scanABTest(scanner interface{ Scan(...any) error }) (*ABTestView, error) {
	var (
		view      ABTestView
		createdAt string
	)
	err := scanner.Scan(
		&view.ID, &view.Name, &view.ModelAID, &view.ModelBID, &view.Status, &createdAt,
		&view.ModelAName, &view.ModelAVersion, &view.ModelBName, &view.ModelBVersion,
	)
	if err != nil {
		return nil, err
	}
	view.CreatedAt = parseTime(createdAt)
	return &view, nil
}

const abResultColumns = `r.id, r.test_id, r.model_id, r.metric_name, r.metric_value, r.timestamp,
	m.name, m.version`

func scanABResult(scanner interface{ Scan(...any) error }) (*ABResultView, error) {
	var (
		view ABResultView
		ts   string
	)
	err := scanner.Scan(
		&view.ID, &view.TestID, &view.ModelID, &view.MetricName, &view.MetricValue, &ts,
		&view.ModelName, &view.ModelVersion,
	)
	if err != nil {
		return nil, err
	}
	view.Timestamp = parseTime(ts)
	return &view, nil
}
