package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/hivetrain/checkpoint"
	"github.com/BaSui01/hivetrain/types"
	"go.uber.org/zap"
)

// RunStore 持久化的训练运行查询，*checkpoint.Store 实现了它
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]checkpoint.Run, error)
	GetRun(ctx context.Context, id string) (*checkpoint.Run, error)
	History(ctx context.Context, runID string, limit int) ([]checkpoint.EpochRecord, error)
	LatestCheckpoint(ctx context.Context, runID string) (*checkpoint.Checkpoint, error)
}

// RunsHandler 查询数据库中的历史运行与检查点
type RunsHandler struct {
	store  RunStore
	logger *zap.Logger
}

// NewRunsHandler 创建 RunsHandler
func NewRunsHandler(store RunStore, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{store: store, logger: logger.With(zap.String("handler", "runs"))}
}

// checkpointResponse 检查点元数据，weights 仅在 ?weights=true 时返回
type checkpointResponse struct {
	RunID      string    `json:"run_id"`
	Epoch      int       `json:"epoch"`
	Loss       float64   `json:"loss"`
	ParamCount int       `json:"param_count"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
	Weights    []float64 `json:"weights,omitempty"`
}

// extractRunID 从请求中提取运行 ID（Go 1.22+ PathValue 优先，回退到路径解析）
func extractRunID(r *http.Request) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

func queryLimit(r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// HandleListRuns GET /v1/runs
// @Summary List runs
// @Tags runs
// @Produce json
// @Param limit query int false "Max runs" default(20)
// @Success 200 {object} Response{data=[]checkpoint.Run} "Runs"
// @Router /v1/runs [get]
func (h *RunsHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r, 20)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a non-negative integer", h.logger)
		return
	}
	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to list runs").WithCause(err), h.logger)
		return
	}
	if runs == nil {
		runs = []checkpoint.Run{}
	}
	WriteSuccess(w, runs)
}

// HandleGetRun GET /v1/runs/{id}
// @Summary Get run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} Response{data=checkpoint.Run} "Run"
// @Failure 404 {object} Response "Run not found"
// @Router /v1/runs/{id} [get]
func (h *RunsHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := extractRunID(r)
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "run ID is required", h.logger)
		return
	}
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "run not found")
		return
	}
	WriteSuccess(w, run)
}

// HandleRunHistory GET /v1/runs/{id}/history
// @Summary Run history
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Param limit query int false "Max records" default(100)
// @Success 200 {object} Response{data=api.HistoryResponse} "History"
// @Router /v1/runs/{id}/history [get]
func (h *RunsHandler) HandleRunHistory(w http.ResponseWriter, r *http.Request) {
	id := extractRunID(r)
	limit, ok := queryLimit(r, defaultHistoryLimit)
	if id == "" || !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "run ID and a non-negative limit are required", h.logger)
		return
	}
	if _, err := h.store.GetRun(r.Context(), id); err != nil {
		h.storeError(w, err, "run not found")
		return
	}
	records, err := h.store.History(r.Context(), id, limit)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to load history").WithCause(err), h.logger)
		return
	}
	out := historyResponse(id, records)
	WriteSuccess(w, out)
}

// HandleLatestCheckpoint GET /v1/runs/{id}/checkpoint
// @Summary Latest checkpoint
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Param weights query bool false "Include decoded weights"
// @Success 200 {object} Response "Checkpoint metadata"
// @Failure 404 {object} Response "No checkpoint"
// @Router /v1/runs/{id}/checkpoint [get]
func (h *RunsHandler) HandleLatestCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := extractRunID(r)
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "run ID is required", h.logger)
		return
	}
	cp, err := h.store.LatestCheckpoint(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "no checkpoint for run")
		return
	}
	resp := checkpointResponse{
		RunID:      cp.RunID,
		Epoch:      cp.Epoch,
		Loss:       cp.Loss,
		ParamCount: cp.ParamCount,
		Checksum:   cp.Checksum,
		CreatedAt:  cp.CreatedAt,
	}
	if include, _ := strconv.ParseBool(r.URL.Query().Get("weights")); include {
		weights, err := cp.Weights()
		if err != nil {
			WriteDomainError(w, err, h.logger)
			return
		}
		resp.Weights = weights
	}
	WriteSuccess(w, resp)
}

func (h *RunsHandler) storeError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, checkpoint.ErrNotFound) {
		WriteError(w, types.NewError(types.ErrNotFound, notFoundMsg), h.logger)
		return
	}
	WriteError(w, types.NewError(types.ErrInternalError, "store query failed").WithCause(err), h.logger)
}
