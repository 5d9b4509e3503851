package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidsonq/modelforge/internal/backend"
	"github.com/davidsonq/modelforge/internal/hardware"
	"github.com/davidsonq/modelforge/internal/optimizer"
	"github.com/davidsonq/modelforge/internal/registry"
)

type fakeBackend struct {
	name string
}

func (f *fakeBackend) Name() string           { return f.name }
func (f *fakeBackend) Available() bool        { return true }
func (f *fakeBackend) Requirements() []string { return []string{"fake-toolchain"} }

func (f *fakeBackend) Optimize(_ context.Context, req backend.Request) (*backend.Result, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(req.OutputDir, "model.onnx"), []byte("w"), 0o644); err != nil {
		return nil, err
	}
	return &backend.Result{Backend: f.name, ModelID: req.ModelID, OutputPath: req.OutputDir}, nil
}

type fixture struct {
	api     *Handler
	handler http.Handler
	store   *registry.Store
	srcDir  string
}

func setupHandler(t *testing.T) *fixture {
	t.Helper()
	tmpDir := t.TempDir()
	store, err := registry.OpenStore(filepath.Join(tmpDir, "registry.db"), filepath.Join(tmpDir, "models"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	manager := backend.NewManager()
	manager.Register(&fakeBackend{name: "onnx"})
	detector := hardware.NewDetector()
	opt := optimizer.New(manager, detector, store, filepath.Join(tmpDir, "out"))

	h := NewHandler(HandlerConfig{
		Store:     store,
		Optimizer: opt,
		Tasks:     optimizer.NewTaskTracker(opt),
		Backends:  manager,
		Detector:  detector,
		Version:   "test",
	})

	srcDir := filepath.Join(tmpDir, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "model.onnx"), []byte("weights"), 0o644))

	return &fixture{api: h, handler: h.Routes(), store: store, srcDir: srcDir}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (f *fixture) registerModel(t *testing.T, name, version string) int64 {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/models", RegisterModelRequest{
		Name: name, Version: version, Backend: "onnx", Path: f.srcDir,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[RegisterModelResponse](t, rec).ID
}

func TestHealth(t *testing.T) {
	f := setupHandler(t)
	f.registerModel(t, "bert", "1.0.0")

	rec := f.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "test", resp.Version)
	require.Equal(t, 1, resp.Models)
}

func TestSystem(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodGet, "/api/v1/system", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[SystemResponse](t, rec)
	require.NotNil(t, resp.System)
	require.NotEmpty(t, resp.Recommended)
}

func TestBackends(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodGet, "/api/v1/backends", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[BackendsResponse](t, rec)
	require.Len(t, resp.Backends, 3)

	byName := map[string]BackendInfo{}
	for _, b := range resp.Backends {
		byName[b.Name] = b
	}
	require.True(t, byName["onnx"].Available)
	require.Equal(t, []string{"fake-toolchain"}, byName["onnx"].Requirements)
}

func TestModels_CRUD(t *testing.T) {
	f := setupHandler(t)
	id := f.registerModel(t, "bert", "1.0.0")

	// Get by explicit version.
	rec := f.do(t, http.MethodGet, "/api/v1/models/bert/1.0.0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	model := decode[registry.ModelRecord](t, rec)
	require.Equal(t, id, model.ID)
	require.Equal(t, "onnx", model.Backend)

	// "latest" resolves.
	rec = f.do(t, http.MethodGet, "/api/v1/models/bert/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// List.
	rec = f.do(t, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListModelsResponse](t, rec)
	require.Equal(t, 1, list.Total)

	// Delete.
	rec = f.do(t, http.MethodDelete, "/api/v1/models/bert/1.0.0", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/models/bert/1.0.0", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModels_Conflict(t *testing.T) {
	f := setupHandler(t)
	f.registerModel(t, "bert", "1.0.0")

	rec := f.do(t, http.MethodPost, "/api/v1/models", RegisterModelRequest{
		Name: "bert", Version: "1.0.0", Backend: "onnx", Path: f.srcDir,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict", decode[ErrorResponse](t, rec).Code)
}

func TestModels_ValidationError(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodPost, "/api/v1/models", RegisterModelRequest{Name: "bert"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModels_NotFound(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodGet, "/api/v1/models/ghost/1.0.0", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

func TestModels_DeleteAllVersions(t *testing.T) {
	f := setupHandler(t)
	f.registerModel(t, "bert", "1.0.0")
	f.registerModel(t, "bert", "2.0.0")

	rec := f.do(t, http.MethodDelete, "/api/v1/models/bert", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	list := decode[ListModelsResponse](t, f.do(t, http.MethodGet, "/api/v1/models", nil))
	require.Zero(t, list.Total)
}

func TestModels_DeleteReferenced(t *testing.T) {
	f := setupHandler(t)
	aID := f.registerModel(t, "bert", "1.0.0")
	bID := f.registerModel(t, "bert", "2.0.0")

	rec := f.do(t, http.MethodPost, "/api/v1/ab-tests", CreateABTestRequest{
		Name: "t", ModelAID: aID, ModelBID: bID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/models/bert/1.0.0", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "in_use", decode[ErrorResponse](t, rec).Code)
}

func TestABTests(t *testing.T) {
	f := setupHandler(t)
	aID := f.registerModel(t, "bert", "1.0.0")
	bID := f.registerModel(t, "bert-q8", "1.0.0")

	rec := f.do(t, http.MethodPost, "/api/v1/ab-tests", CreateABTestRequest{
		Name: "quant", ModelAID: aID, ModelBID: bID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[CreateABTestResponse](t, rec)
	testID := created.ID
	require.Equal(t, "bert:1.0.0", created.ModelA)
	require.Equal(t, "bert-q8:1.0.0", created.ModelB)

	// Duplicate name.
	rec = f.do(t, http.MethodPost, "/api/v1/ab-tests", CreateABTestRequest{
		Name: "quant", ModelAID: aID, ModelBID: bID,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	// Unknown model ids; the error names the bad arm.
	rec = f.do(t, http.MethodPost, "/api/v1/ab-tests", CreateABTestRequest{
		Name: "bad", ModelAID: aID, ModelBID: 999,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	require.Equal(t, "unknown_model", errResp.Code)
	require.Equal(t, "model_b_id 999", errResp.Details)

	// Get by name, with joined model identity.
	rec = f.do(t, http.MethodGet, "/api/v1/ab-tests/quant", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[registry.ABTestView](t, rec)
	require.Equal(t, "bert", view.ModelAName)
	require.Equal(t, "bert-q8", view.ModelBName)

	rec = f.do(t, http.MethodGet, "/api/v1/ab-tests/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Record and read back a result.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/ab-tests/%d/results", testID),
		RecordABResultRequest{ModelID: aID, MetricName: "latency", MetricValue: 0.01})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/ab-tests/%d/results", testID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[ABResultsResponse](t, rec)
	require.Equal(t, 1, results.Total)
	require.Equal(t, "latency", results.Results[0].MetricName)

	// Unknown test id on record.
	rec = f.do(t, http.MethodPost, "/api/v1/ab-tests/9999/results",
		RecordABResultRequest{ModelID: aID, MetricName: "latency", MetricValue: 1})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Non-numeric id.
	rec = f.do(t, http.MethodGet, "/api/v1/ab-tests/abc/results", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptimize_Sync(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodPost, "/api/v1/optimize", optimizer.Params{
		ModelID:        "bert-base-uncased",
		Backend:        "onnx",
		BatchSize:      1,
		SequenceLength: 128,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	outcome := decode[optimizer.Outcome](t, rec)
	require.Equal(t, "onnx", outcome.ResolvedBackend)
	require.NotNil(t, outcome.Result)
}

func TestOptimize_ValidationError(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodPost, "/api/v1/optimize", optimizer.Params{
		ModelID:        "bert",
		Backend:        "onnx",
		BatchSize:      500,
		SequenceLength: 128,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_error", decode[ErrorResponse](t, rec).Code)
}

func TestOptimize_UnsupportedBackend(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodPost, "/api/v1/optimize", map[string]any{
		"model":           "bert",
		"backend":         "openvino",
		"batch_size":      1,
		"sequence_length": 128,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "unsupported_backend", decode[ErrorResponse](t, rec).Code)
}

func TestOptimize_Async(t *testing.T) {
	f := setupHandler(t)

	rec := f.do(t, http.MethodPost, "/api/v1/optimize/async", optimizer.Params{
		ModelID:        "bert",
		Backend:        "onnx",
		BatchSize:      1,
		SequenceLength: 128,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	task := decode[optimizer.Task](t, rec)
	require.NotEmpty(t, task.ID)

	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID, nil)
		return decode[optimizer.Task](t, rec).Status == optimizer.TaskCompleted
	}, 5*time.Second, 20*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/v1/tasks/unknown-id", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	f := setupHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/models", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_json", decode[ErrorResponse](t, rec).Code)
}
