// Package api exposes the optimization and registry operations over HTTP.
// All routes live under /api/v1 and speak JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/davidsonq/modelforge/internal/backend"
	"github.com/davidsonq/modelforge/internal/hardware"
	"github.com/davidsonq/modelforge/internal/log"
	"github.com/davidsonq/modelforge/internal/optimizer"
	"github.com/davidsonq/modelforge/internal/registry"
)

// Handler provides the HTTP endpoints.
type Handler struct {
	store    *registry.Store
	opt      *optimizer.Optimizer
	tasks    *optimizer.TaskTracker
	backends *backend.Manager
	detector *hardware.Detector
	version  string
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	Store     *registry.Store
	Optimizer *optimizer.Optimizer
	Tasks     *optimizer.TaskTracker
	Backends  *backend.Manager
	Detector  *hardware.Detector
	Version   string
}

// NewHandler creates the API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		store:    cfg.Store,
		opt:      cfg.Optimizer,
		tasks:    cfg.Tasks,
		backends: cfg.Backends,
		detector: cfg.Detector,
		version:  cfg.Version,
	}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/system", h.System)
	mux.HandleFunc("GET /api/v1/backends", h.Backends)

	mux.HandleFunc("POST /api/v1/optimize", h.Optimize)
	mux.HandleFunc("POST /api/v1/optimize/async", h.OptimizeAsync)
	mux.HandleFunc("GET /api/v1/tasks", h.ListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.GetTask)

	mux.HandleFunc("POST /api/v1/models", h.RegisterModel)
	mux.HandleFunc("GET /api/v1/models", h.ListModels)
	mux.HandleFunc("GET /api/v1/models/{name}/{version}", h.GetModel)
	mux.HandleFunc("DELETE /api/v1/models/{name}", h.DeleteModelAll)
	mux.HandleFunc("DELETE /api/v1/models/{name}/{version}", h.DeleteModel)

	mux.HandleFunc("POST /api/v1/ab-tests", h.CreateABTest)
	mux.HandleFunc("GET /api/v1/ab-tests", h.ListABTests)
	mux.HandleFunc("GET /api/v1/ab-tests/{name}", h.GetABTest)
	mux.HandleFunc("POST /api/v1/ab-tests/{id}/results", h.RecordABResult)
	mux.HandleFunc("GET /api/v1/ab-tests/{id}/results", h.GetABResults)

	return mux
}

// === Request/Response Types ===

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the response body for the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Models  int    `json:"models"`
}

// SystemResponse reports detected hardware and the recommended backend.
type SystemResponse struct {
	System      *hardware.SystemInfo `json:"system"`
	Recommended string               `json:"recommended_backend"`
}

// BackendInfo describes one backend's availability.
type BackendInfo struct {
	Name         string   `json:"name"`
	Available    bool     `json:"available"`
	Requirements []string `json:"requirements,omitempty"`
}

// BackendsResponse lists all backends.
type BackendsResponse struct {
	Backends []BackendInfo `json:"backends"`
}

// RegisterModelRequest is the request body for registering a model.
type RegisterModelRequest struct {
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Backend   string         `json:"backend"`
	Path      string         `json:"path"`
	BaseModel string         `json:"base_model,omitempty"`
	Task      string         `json:"task,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RegisterModelResponse is the response body for registering a model.
type RegisterModelResponse struct {
	ID int64 `json:"id"`
}

// ListModelsResponse is the response body for listing models.
type ListModelsResponse struct {
	Models []registry.ModelRecord `json:"models"`
	Total  int                    `json:"total"`
}

// CreateABTestRequest is the request body for creating an A/B test.
type CreateABTestRequest struct {
	Name     string `json:"name"`
	ModelAID int64  `json:"model_a_id"`
	ModelBID int64  `json:"model_b_id"`
}

// CreateABTestResponse is the response body for creating an A/B test.
type CreateABTestResponse struct {
	ID     int64  `json:"id"`
	ModelA string `json:"model_a"`
	ModelB string `json:"model_b"`
}

// ListABTestsResponse is the response body for listing A/B tests.
type ListABTestsResponse struct {
	Tests []registry.ABTestView `json:"tests"`
	Total int                   `json:"total"`
}

// RecordABResultRequest is the request body for recording a metric.
type RecordABResultRequest struct {
	ModelID     int64   `json:"model_id"`
	MetricName  string  `json:"metric_name"`
	MetricValue float64 `json:"metric_value"`
}

// ABResultsResponse is the response body for listing test results.
type ABResultsResponse struct {
	Results []registry.ABResultView `json:"results"`
	Total   int                     `json:"total"`
}

// === Handlers ===

// Health returns daemon status and the registry size.
// GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	models, err := h.store.ListModels("")
	if err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Version: h.version})
		return
	}
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: h.version,
		Models:  len(models),
	})
}

// System returns detected hardware and the backend recommendation.
// GET /api/v1/system
func (h *Handler) System(w http.ResponseWriter, r *http.Request) {
	info, err := h.detector.Detect()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "detection_failed", "Hardware detection failed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, SystemResponse{
		System:      info,
		Recommended: hardware.RecommendAvailable(info, h.backends.IsAvailable),
	})
}

// Backends lists all backends with availability.
// GET /api/v1/backends
func (h *Handler) Backends(w http.ResponseWriter, r *http.Request) {
	resp := BackendsResponse{Backends: make([]BackendInfo, 0)}
	for _, name := range h.backends.List() {
		info := BackendInfo{Name: name, Available: h.backends.IsAvailable(name)}
		if b, err := h.backends.Get(name); err == nil {
			info.Requirements = b.Requirements()
		}
		resp.Backends = append(resp.Backends, info)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Optimize runs an optimization synchronously.
// POST /api/v1/optimize
func (h *Handler) Optimize(w http.ResponseWriter, r *http.Request) {
	var params optimizer.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}

	outcome, err := h.opt.Run(r.Context(), params)
	if err != nil {
		h.writeOptimizeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, outcome)
}

// OptimizeAsync submits a background optimization and returns its task id.
// POST /api/v1/optimize/async
func (h *Handler) OptimizeAsync(w http.ResponseWriter, r *http.Request) {
	var params optimizer.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}

	// Detach from the request context so the task survives the response.
	task, err := h.tasks.Submit(context.Background(), params)
	if err != nil {
		h.writeOptimizeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, task)
}

// ListTasks returns all tracked tasks, newest first.
// GET /api/v1/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": h.tasks.List()})
}

// GetTask returns one task by id.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task := h.tasks.Get(r.PathValue("id"))
	if task == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Task not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

// RegisterModel copies an artifact into the registry.
// POST /api/v1/models
func (h *Handler) RegisterModel(w http.ResponseWriter, r *http.Request) {
	var req RegisterModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if req.Name == "" || req.Version == "" || req.Path == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "name, version and path are required", "")
		return
	}

	id, err := h.store.RegisterModel(registry.RegisterParams{
		Name:       req.Name,
		Version:    req.Version,
		Backend:    req.Backend,
		SourcePath: req.Path,
		BaseModel:  req.BaseModel,
		Task:       req.Task,
		Metadata:   req.Metadata,
	})
	if err != nil {
		if errors.Is(err, registry.ErrConflict) {
			h.writeError(w, http.StatusConflict, "conflict", "Model version already registered", err.Error())
			return
		}
		h.writeError(w, http.StatusBadRequest, "register_failed", "Failed to register model", err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, RegisterModelResponse{ID: id})
}

// ListModels returns all models, optionally filtered by name.
// GET /api/v1/models?name=bert
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.store.ListModels(r.URL.Query().Get("name"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "list_failed", "Failed to list models", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, ListModelsResponse{Models: models, Total: len(models)})
}

// GetModel returns one model. The version segment accepts "latest".
// GET /api/v1/models/{name}/{version}
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetModel(r.PathValue("name"), r.PathValue("version"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "get_failed", "Failed to get model", err.Error())
		return
	}
	if rec == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Model not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// DeleteModel removes one model version.
// DELETE /api/v1/models/{name}/{version}
func (h *Handler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	h.deleteModel(w, r.PathValue("name"), r.PathValue("version"))
}

// DeleteModelAll removes every version of a model.
// DELETE /api/v1/models/{name}
func (h *Handler) DeleteModelAll(w http.ResponseWriter, r *http.Request) {
	h.deleteModel(w, r.PathValue("name"), "")
}

func (h *Handler) deleteModel(w http.ResponseWriter, name, version string) {
	if err := h.store.DeleteModel(name, version); err != nil {
		if errors.Is(err, registry.ErrReferentialIntegrity) {
			h.writeError(w, http.StatusConflict, "in_use", "Model is referenced by an A/B test", err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete model", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateABTest creates a named comparison between two registered models.
// POST /api/v1/ab-tests
func (h *Handler) CreateABTest(w http.ResponseWriter, r *http.Request) {
	var req CreateABTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "name is required", "")
		return
	}

	// Resolve both arms up front so the caller learns which id is bad;
	// the foreign keys still backstop a concurrent delete.
	modelA, err := h.store.GetModelByID(req.ModelAID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "create_failed", "Failed to look up model", err.Error())
		return
	}
	if modelA == nil {
		h.writeError(w, http.StatusBadRequest, "unknown_model", "Referenced model does not exist", fmt.Sprintf("model_a_id %d", req.ModelAID))
		return
	}
	modelB, err := h.store.GetModelByID(req.ModelBID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "create_failed", "Failed to look up model", err.Error())
		return
	}
	if modelB == nil {
		h.writeError(w, http.StatusBadRequest, "unknown_model", "Referenced model does not exist", fmt.Sprintf("model_b_id %d", req.ModelBID))
		return
	}

	id, err := h.store.CreateABTest(req.Name, req.ModelAID, req.ModelBID)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrConflict):
			h.writeError(w, http.StatusConflict, "conflict", "Test name already exists", err.Error())
		case errors.Is(err, registry.ErrReferentialIntegrity):
			h.writeError(w, http.StatusBadRequest, "unknown_model", "Referenced model does not exist", err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "create_failed", "Failed to create test", err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, CreateABTestResponse{
		ID:     id,
		ModelA: modelA.Name + ":" + modelA.Version,
		ModelB: modelB.Name + ":" + modelB.Version,
	})
}

// ListABTests returns all A/B tests, newest first.
// GET /api/v1/ab-tests
func (h *Handler) ListABTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.store.ListABTests()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "list_failed", "Failed to list tests", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, ListABTestsResponse{Tests: tests, Total: len(tests)})
}

// GetABTest returns one test by name.
// GET /api/v1/ab-tests/{name}
func (h *Handler) GetABTest(w http.ResponseWriter, r *http.Request) {
	view, err := h.store.GetABTest(r.PathValue("name"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "get_failed", "Failed to get test", err.Error())
		return
	}
	if view == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Test not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// RecordABResult appends one metric observation to a test.
// POST /api/v1/ab-tests/{id}/results
func (h *Handler) RecordABResult(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "Test id must be an integer", "")
		return
	}

	var req RecordABResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if req.MetricName == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "metric_name is required", "")
		return
	}

	if err := h.store.RecordABResult(testID, req.ModelID, req.MetricName, req.MetricValue); err != nil {
		if errors.Is(err, registry.ErrReferentialIntegrity) {
			h.writeError(w, http.StatusNotFound, "not_found", "Test or model does not exist", err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "record_failed", "Failed to record result", err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// GetABResults returns all recorded metrics for a test, newest first.
// GET /api/v1/ab-tests/{id}/results
func (h *Handler) GetABResults(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "Test id must be an integer", "")
		return
	}

	results, err := h.store.GetABResults(testID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "list_failed", "Failed to list results", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, ABResultsResponse{Results: results, Total: len(results)})
}

// === Helpers ===

func (h *Handler) writeOptimizeError(w http.ResponseWriter, err error) {
	var verr *optimizer.ValidationError
	var uerr *backend.UnsupportedError
	switch {
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, "validation_error", verr.Error(), "")
	case errors.As(err, &uerr):
		h.writeError(w, http.StatusBadRequest, "unsupported_backend", uerr.Error(), "")
	case errors.Is(err, registry.ErrConflict):
		h.writeError(w, http.StatusConflict, "conflict", "Model version already registered", err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "optimize_failed", "Optimization failed", err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.ErrorErr(log.CatAPI, "failed to encode response", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
