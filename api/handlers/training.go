package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/hivetrain/api"
	"github.com/BaSui01/hivetrain/checkpoint"
	"github.com/BaSui01/hivetrain/scheduler"
	"github.com/BaSui01/hivetrain/trainer"
	"github.com/BaSui01/hivetrain/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 🏋️ 训练控制处理器
// =============================================================================

// defaultHistoryLimit GET /v1/history 未指定 limit 时返回的条数
const defaultHistoryLimit = 100

// TrainingController 处理器依赖的训练循环能力，*trainer.Trainer 实现了它
type TrainingController interface {
	Status() trainer.Status
	History(limit int) []checkpoint.EpochRecord
	Snapshot() scheduler.Snapshot
	Stop(reason string) bool
	UpdateHyperParams(lr, maxGradNorm *float64) error
}

// TrainingHandler 训练状态、快照与运行期控制
type TrainingHandler struct {
	ctrl     TrainingController
	interval time.Duration
	logger   *zap.Logger
}

// NewTrainingHandler 创建训练处理器。interval 为 WebSocket 快照推送间隔。
func NewTrainingHandler(ctrl TrainingController, interval time.Duration, logger *zap.Logger) *TrainingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &TrainingHandler{
		ctrl:     ctrl,
		interval: interval,
		logger:   logger.With(zap.String("handler", "training")),
	}
}

// HandleSnapshot 返回调度器当前快照
// @Summary Scheduler snapshot
// @Description Per-node states, queue occupancy and last epoch buffer stats
// @Tags training
// @Produce json
// @Success 200 {object} Response{data=scheduler.Snapshot} "Snapshot"
// @Router /v1/snapshot [get]
func (h *TrainingHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.ctrl.Snapshot())
}

// HandleSnapshotWS 升级为 WebSocket 并按固定间隔推送快照，直到客户端断开
// @Summary Snapshot stream
// @Tags training
// @Router /v1/snapshot/ws [get]
func (h *TrainingHandler) HandleSnapshotWS(w http.ResponseWriter, r *http.Request) {
	// 长连接不受服务器 WriteTimeout 约束，每次写入自带超时
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept 已写出 4xx 响应
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 不接收客户端消息；对端关闭时 ctx 结束
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.writeSnapshot(ctx, conn); err != nil {
			if !isClientGone(err) {
				h.logger.Warn("snapshot stream failed", zap.Error(err))
			}
			return
		}
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}
	}
}

func (h *TrainingHandler) writeSnapshot(ctx context.Context, conn *websocket.Conn) error {
	data, err := json.Marshal(h.ctrl.Snapshot())
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, h.interval+5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// HandleStatus 返回当前训练运行状态
// @Summary Training status
// @Tags training
// @Produce json
// @Success 200 {object} Response{data=api.RunStatus} "Run status"
// @Router /v1/training [get]
func (h *TrainingHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, toRunStatus(h.ctrl.Status()))
}

// HandleHistory 返回最近的 epoch 记录
// @Summary Epoch history
// @Tags training
// @Produce json
// @Param limit query int false "Max records" default(100)
// @Success 200 {object} Response{data=api.HistoryResponse} "History"
// @Failure 400 {object} Response "Invalid limit"
// @Router /v1/history [get]
func (h *TrainingHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a non-negative integer", h.logger)
			return
		}
		limit = n
	}

	WriteSuccess(w, historyResponse(h.ctrl.Status().RunID, h.ctrl.History(limit)))
}

// HandleHyperParams 修改学习率或裁剪阈值，下一个 epoch 生效
// @Summary Update hyper-parameters
// @Tags training
// @Accept json
// @Produce json
// @Param request body api.HyperParamsRequest true "New values"
// @Success 200 {object} Response{data=api.RunStatus} "Updated"
// @Failure 400 {object} Response "Invalid values"
// @Security ApiKeyAuth
// @Router /v1/training/hyperparams [post]
func (h *TrainingHandler) HandleHyperParams(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.HyperParamsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.LearningRate == nil && req.MaxGradNorm == nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "learning_rate or max_grad_norm is required", h.logger)
		return
	}
	if err := h.ctrl.UpdateHyperParams(req.LearningRate, req.MaxGradNorm); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	fields := []zap.Field{}
	if req.LearningRate != nil {
		fields = append(fields, zap.Float64("learning_rate", *req.LearningRate))
	}
	if req.MaxGradNorm != nil {
		fields = append(fields, zap.Float64("max_grad_norm", *req.MaxGradNorm))
	}
	h.logger.Info("hyper-parameters changed via api", fields...)

	WriteSuccess(w, toRunStatus(h.ctrl.Status()))
}

// HandleStop 停止当前训练运行
// @Summary Stop training
// @Tags training
// @Accept json
// @Produce json
// @Param request body api.StopRequest false "Stop reason"
// @Success 200 {object} Response{data=api.StopResponse} "Stop requested"
// @Failure 409 {object} Response "Nothing running"
// @Security ApiKeyAuth
// @Router /v1/training/stop [post]
func (h *TrainingHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	var req api.StopRequest
	if r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	if !h.ctrl.Stop(req.Reason) {
		WriteError(w, types.NewError(types.ErrConflict, "no training run in progress"), h.logger)
		return
	}

	st := h.ctrl.Status()
	h.logger.Info("training stop requested", zap.String("run_id", st.RunID), zap.String("reason", req.Reason))
	WriteSuccess(w, api.StopResponse{
		RunID:   st.RunID,
		State:   api.RunState(st.State),
		Stopped: true,
	})
}

// =============================================================================
// 🔄 类型转换
// =============================================================================

func toRunStatus(st trainer.Status) api.RunStatus {
	return api.RunStatus{
		RunID:               st.RunID,
		State:               api.RunState(st.State),
		EpochsDone:          st.EpochsDone,
		EpochsPlanned:       st.EpochsPlanned,
		Attempts:            st.Attempts,
		ConsecutiveFailures: st.ConsecutiveFailures,
		LastLoss:            st.LastLoss,
		BestLoss:            st.BestLoss,
		LearningRate:        st.LearningRate,
		MaxGradNorm:         st.MaxGradNorm,
		StartedAt:           st.StartedAt,
		FinishedAt:          st.FinishedAt,
		StopReason:          st.StopReason,
		Error:               st.Error,
	}
}

func historyResponse(runID string, records []checkpoint.EpochRecord) api.HistoryResponse {
	out := api.HistoryResponse{
		RunID:  runID,
		Epochs: make([]api.EpochRecord, 0, len(records)),
	}
	for _, rec := range records {
		out.Epochs = append(out.Epochs, toEpochRecord(rec))
	}
	return out
}

func toEpochRecord(rec checkpoint.EpochRecord) api.EpochRecord {
	return api.EpochRecord{
		Epoch:        rec.Epoch,
		Batches:      rec.Batches,
		Loss:         rec.Loss,
		GradientNorm: rec.GradientNorm,
		Clipped:      rec.Clipped,
		Applied:      rec.Applied,
		LearningRate: rec.LearningRate,
		DurationMS:   rec.DurationMS,
		ErrorCode:    rec.ErrorCode,
		Error:        rec.ErrorMessage,
	}
}

// isClientGone 对端断开导致的写失败不算错误
func isClientGone(err error) bool {
	return errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway
}
