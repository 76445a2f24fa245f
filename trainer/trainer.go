package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/BaSui01/hivetrain/checkpoint"
	"github.com/BaSui01/hivetrain/internal/ctxkeys"
	"github.com/BaSui01/hivetrain/scheduler"
	"github.com/BaSui01/hivetrain/types"
)

const meterName = "github.com/BaSui01/hivetrain/trainer"

// historyLimit 内存中保留的 epoch 记录数
const historyLimit = 1000

// 停止原因
const (
	ReasonCompleted       = "completed"
	ReasonEarlyStop       = "early_stop"
	ReasonTooManyFailures = "too_many_failures"
	ReasonCancelled       = "cancelled"
	ReasonFatal           = "fatal_error"
)

// State 训练运行状态
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var (
	// ErrAlreadyRunning Run 已在执行
	ErrAlreadyRunning = errors.New("trainer is already running")
	// ErrTooManyFailures 连续可恢复失败达到上限
	ErrTooManyFailures = errors.New("too many consecutive failed epochs")
)

// =============================================================================
// 🔌 协作接口
// =============================================================================

// Stepper 由 *scheduler.Scheduler 实现
type Stepper interface {
	RunEpoch(ctx context.Context) (*scheduler.EpochResult, error)
	SetHyperParams(lr, maxGradNorm float64) error
	HyperParams() (lr, maxGradNorm float64)
	Weights() []float64
	RestoreWeights(w []float64) error
	Snapshot() scheduler.Snapshot
	Config() scheduler.Config
}

// Store 运行与检查点持久化，由 *checkpoint.Store 实现
type Store interface {
	CreateRun(ctx context.Context, run *checkpoint.Run) error
	UpdateRun(ctx context.Context, run *checkpoint.Run) error
	GetRun(ctx context.Context, id string) (*checkpoint.Run, error)
	RecordEpoch(ctx context.Context, rec *checkpoint.EpochRecord) error
	SaveCheckpoint(ctx context.Context, runID string, epoch int, loss float64, weights []float64) (*checkpoint.Checkpoint, error)
	LatestCheckpoint(ctx context.Context, runID string) (*checkpoint.Checkpoint, error)
	PruneCheckpoints(ctx context.Context, runID string, keep int) (int64, error)
}

// Update 每个 epoch 结束后发布给 Publisher 的内容
type Update struct {
	RunID    string                 `json:"run_id"`
	Status   Status                 `json:"status"`
	Result   *scheduler.EpochResult `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Snapshot scheduler.Snapshot     `json:"snapshot"`
}

// Publisher 把 Update 推送到外部（Redis、WebSocket 等）
type Publisher interface {
	Publish(ctx context.Context, update Update) error
}

// CheckpointRecorder 检查点写入指标
type CheckpointRecorder interface {
	RecordCheckpoint(err error)
}

// Status 训练运行的只读视图
type Status struct {
	RunID               string     `json:"run_id"`
	State               State      `json:"state"`
	EpochsPlanned       int        `json:"epochs_planned"`
	EpochsDone          int        `json:"epochs_done"`
	Attempts            int        `json:"attempts"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastLoss            *float64   `json:"last_loss,omitempty"`
	BestLoss            *float64   `json:"best_loss,omitempty"`
	LearningRate        float64    `json:"learning_rate"`
	MaxGradNorm         float64    `json:"max_grad_norm"`
	StopReason          string     `json:"stop_reason,omitempty"`
	Error               string     `json:"error,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
}

// Config 训练循环参数
type Config struct {
	Schedule               LRSchedule
	MaxGradNorm            float64
	CheckpointEvery        int
	KeepCheckpoints        int
	MaxConsecutiveFailures int
	EarlyStopPatience      int
	EarlyStopMinDelta      float64
	EpochTimeout           time.Duration
}

// =============================================================================
// 🏋️ Trainer
// =============================================================================

// Trainer 驱动 Stepper 逐 epoch 训练：调度学习率、记录历史、保存检查点、发布快照
type Trainer struct {
	stepper   Stepper
	store     Store
	publisher Publisher
	ckptRec   CheckpointRecorder
	logger    *zap.Logger
	meter     metric.Meter

	lossHist   metric.Float64Histogram
	epochCount metric.Int64Counter

	resumeID string

	mu      sync.RWMutex
	cfg     Config
	status  Status
	history []checkpoint.EpochRecord
	stopper *EarlyStopper
	running bool
	cancel  context.CancelFunc
	stopWhy string
}

// Option Trainer 选项
type Option func(*Trainer)

// WithStore 启用运行记录与检查点
func WithStore(s Store) Option {
	return func(t *Trainer) { t.store = s }
}

// WithPublisher 每个 epoch 后发布 Update
func WithPublisher(p Publisher) Option {
	return func(t *Trainer) { t.publisher = p }
}

// WithCheckpointRecorder 检查点指标
func WithCheckpointRecorder(r CheckpointRecorder) Option {
	return func(t *Trainer) { t.ckptRec = r }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(t *Trainer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMeter 设置 OpenTelemetry Meter，默认使用全局 MeterProvider
func WithMeter(m metric.Meter) Option {
	return func(t *Trainer) {
		if m != nil {
			t.meter = m
		}
	}
}

// WithResume 从 runID 的最新检查点继续训练（需要 WithStore）
func WithResume(runID string) Option {
	return func(t *Trainer) { t.resumeID = runID }
}

// New 创建 Trainer
func New(stepper Stepper, cfg Config, opts ...Option) (*Trainer, error) {
	if stepper == nil {
		return nil, errors.New("stepper is required")
	}
	if err := cfg.Schedule.Validate(); err != nil {
		return nil, types.NewError(types.ErrConfigInvalid, "invalid learning rate schedule").WithCause(err)
	}
	if math.IsNaN(cfg.MaxGradNorm) || cfg.MaxGradNorm < 0 {
		return nil, types.NewError(types.ErrConfigInvalid, fmt.Sprintf("max grad norm must be >= 0, got %v", cfg.MaxGradNorm))
	}
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = 1
	}

	t := &Trainer{
		stepper: stepper,
		cfg:     cfg,
		logger:  zap.NewNop(),
		meter:   otel.Meter(meterName),
		status:  Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.resumeID != "" && t.store == nil {
		return nil, types.NewError(types.ErrConfigInvalid, "resume requires a checkpoint store")
	}
	t.logger = t.logger.With(zap.String("component", "trainer"))

	var err error
	t.lossHist, err = t.meter.Float64Histogram("hivetrain.trainer.epoch_loss",
		metric.WithDescription("Mean loss of applied epochs"))
	if err != nil {
		return nil, fmt.Errorf("create loss histogram: %w", err)
	}
	t.epochCount, err = t.meter.Int64Counter("hivetrain.trainer.epochs",
		metric.WithDescription("Epoch attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create epoch counter: %w", err)
	}
	return t, nil
}

// Run 训练直到完成 epochs 个成功 epoch、早停、被停止或出现致命错误。
// 正常结束与被停止返回 nil；失败返回导致停止的错误。
func (t *Trainer) Run(ctx context.Context, epochs int) (Status, error) {
	if epochs < 1 {
		return t.Status(), types.NewError(types.ErrConfigInvalid, fmt.Sprintf("epochs must be >= 1, got %d", epochs))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return t.Status(), ErrAlreadyRunning
	}
	t.running = true
	t.cancel = cancel
	t.stopWhy = ""
	t.stopper = NewEarlyStopper(t.cfg.EarlyStopPatience, t.cfg.EarlyStopMinDelta)
	now := time.Now()
	t.status = Status{
		RunID:         uuid.NewString(),
		State:         StateRunning,
		EpochsPlanned: epochs,
		StartedAt:     &now,
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.cancel = nil
		t.mu.Unlock()
	}()

	if err := t.begin(runCtx); err != nil {
		return t.finish(ctx, StateFailed, ReasonFatal, err)
	}

	runID := t.Status().RunID
	runCtx = ctxkeys.WithRunID(runCtx, runID)
	log := t.logger.With(zap.String("run_id", runID))
	log.Info("training started", zap.Int("epochs", epochs))

	for {
		t.mu.RLock()
		done := t.status.EpochsDone
		planned := t.status.EpochsPlanned
		failures := t.status.ConsecutiveFailures
		t.mu.RUnlock()

		if done >= planned {
			return t.finish(ctx, StateCompleted, ReasonCompleted, nil)
		}
		if reason := t.stopReason(); reason != "" {
			return t.finish(ctx, StateStopped, reason, nil)
		}
		if runCtx.Err() != nil {
			return t.finish(ctx, StateStopped, ReasonCancelled, nil)
		}

		res, err := t.runEpoch(runCtx, done)
		t.record(ctx, res, err)

		if err == nil {
			if !res.Applied {
				// 空数据源：没有东西可以训练
				return t.finish(ctx, StateCompleted, ReasonCompleted, nil)
			}
			if t.afterSuccess(ctx, res) {
				return t.finish(ctx, StateStopped, ReasonEarlyStop, nil)
			}
			continue
		}

		switch {
		case t.stopReason() != "":
			return t.finish(ctx, StateStopped, t.stopReason(), nil)
		case ctx.Err() != nil:
			return t.finish(ctx, StateStopped, ReasonCancelled, nil)
		case Recoverable(err):
			failures++
			t.mu.Lock()
			t.status.ConsecutiveFailures = failures
			t.mu.Unlock()
			log.Warn("epoch failed, skipping step",
				zap.Int("consecutive_failures", failures),
				zap.String("code", string(scheduler.ErrorCode(err))),
				zap.Error(err),
			)
			if failures >= t.cfg.MaxConsecutiveFailures {
				return t.finish(ctx, StateFailed, ReasonTooManyFailures, fmt.Errorf("%w: %w", ErrTooManyFailures, err))
			}
		default:
			return t.finish(ctx, StateFailed, ReasonFatal, err)
		}
	}
}

// Recoverable 数值异常、Apply 失败与单 epoch 超时只跳过当前步
func Recoverable(err error) bool {
	var numErr *scheduler.NumericError
	var applyErr *scheduler.ApplyError
	switch {
	case errors.As(err, &numErr), errors.As(err, &applyErr):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

func (t *Trainer) begin(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	cfg := t.stepper.Config()
	snap := t.stepper.Snapshot()

	if t.resumeID != "" {
		run, err := t.store.GetRun(ctx, t.resumeID)
		if err != nil {
			return fmt.Errorf("load run %s: %w", t.resumeID, err)
		}
		ckpt, err := t.store.LatestCheckpoint(ctx, t.resumeID)
		if err != nil {
			return fmt.Errorf("load checkpoint for run %s: %w", t.resumeID, err)
		}
		weights, err := ckpt.Weights()
		if err != nil {
			return err
		}
		if err := t.stepper.RestoreWeights(weights); err != nil {
			return fmt.Errorf("restore weights: %w", err)
		}

		t.mu.Lock()
		t.status.RunID = run.ID
		t.status.EpochsDone = ckpt.Epoch
		t.status.BestLoss = run.BestLoss
		if t.status.EpochsPlanned < ckpt.Epoch {
			t.status.EpochsPlanned = ckpt.Epoch
		}
		status := t.status
		t.mu.Unlock()

		run.State = string(StateRunning)
		run.EpochsPlanned = status.EpochsPlanned
		run.EpochsDone = ckpt.Epoch
		run.StopReason = ""
		run.ErrorMessage = ""
		run.FinishedAt = nil
		t.logger.Info("resuming run", zap.String("run_id", run.ID), zap.Int("epoch", ckpt.Epoch))
		return t.store.UpdateRun(ctx, run)
	}

	status := t.Status()
	return t.store.CreateRun(ctx, &checkpoint.Run{
		ID:            status.RunID,
		State:         string(StateRunning),
		Workers:       cfg.Workers,
		Fanout:        cfg.Fanout,
		Depth:         snap.Depth,
		ParamCount:    snap.Buffer.ParamCount,
		EpochsPlanned: status.EpochsPlanned,
		StartedAt:     *status.StartedAt,
	})
}

func (t *Trainer) runEpoch(ctx context.Context, done int) (*scheduler.EpochResult, error) {
	t.mu.RLock()
	lr := t.cfg.Schedule.At(done)
	maxNorm := t.cfg.MaxGradNorm
	timeout := t.cfg.EpochTimeout
	t.mu.RUnlock()

	if err := t.stepper.SetHyperParams(lr, maxNorm); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.status.LearningRate = lr
	t.status.MaxGradNorm = maxNorm
	t.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return t.stepper.RunEpoch(ctx)
}

// record 更新状态、内存历史、otel 指标与持久化的 epoch 记录，并发布快照
func (t *Trainer) record(ctx context.Context, res *scheduler.EpochResult, err error) {
	t.mu.Lock()
	t.status.Attempts++
	rec := checkpoint.EpochRecord{
		RunID:        t.status.RunID,
		Epoch:        t.status.EpochsDone + 1,
		LearningRate: t.status.LearningRate,
		CreatedAt:    time.Now(),
	}
	if res != nil {
		rec.Batches = res.Batches
		rec.Loss = res.EpochLoss
		rec.GradientNorm = res.GradientNorm
		rec.Clipped = res.Clipped
		rec.Applied = res.Applied
		rec.DurationMS = res.Duration.Milliseconds()
	}
	if err != nil {
		rec.ErrorCode = string(scheduler.ErrorCode(err))
		rec.ErrorMessage = err.Error()
	}
	t.history = append(t.history, rec)
	if len(t.history) > historyLimit {
		t.history = t.history[len(t.history)-historyLimit:]
	}
	runID := t.status.RunID
	t.mu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = string(scheduler.ErrorCode(err))
	}
	t.epochCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if res != nil && res.Applied {
		t.lossHist.Record(ctx, res.EpochLoss)
	}

	if t.store != nil {
		if serr := t.store.RecordEpoch(ctx, &rec); serr != nil {
			t.logger.Warn("failed to persist epoch record", zap.String("run_id", runID), zap.Error(serr))
		}
	}
	t.publish(ctx, res, err)
}

// afterSuccess 更新 loss 统计、保存检查点，返回是否触发早停
func (t *Trainer) afterSuccess(ctx context.Context, res *scheduler.EpochResult) bool {
	t.mu.Lock()
	t.status.EpochsDone++
	t.status.ConsecutiveFailures = 0
	loss := res.EpochLoss
	t.status.LastLoss = &loss
	if t.status.BestLoss == nil || loss < *t.status.BestLoss {
		best := loss
		t.status.BestLoss = &best
	}
	done := t.status.EpochsDone
	every := t.cfg.CheckpointEvery
	stop := t.stopper.Observe(loss)
	t.mu.Unlock()

	if t.store != nil && every > 0 && done%every == 0 {
		t.saveCheckpoint(ctx, done, loss)
	}
	return stop
}

func (t *Trainer) saveCheckpoint(ctx context.Context, epoch int, loss float64) {
	runID := t.Status().RunID
	_, err := t.store.SaveCheckpoint(ctx, runID, epoch, loss, t.stepper.Weights())
	if t.ckptRec != nil {
		t.ckptRec.RecordCheckpoint(err)
	}
	if err != nil {
		t.logger.Error("checkpoint failed", zap.String("run_id", runID), zap.Int("epoch", epoch), zap.Error(err))
		return
	}
	t.logger.Info("checkpoint saved", zap.String("run_id", runID), zap.Int("epoch", epoch), zap.Float64("loss", loss))

	if keep := t.cfg.KeepCheckpoints; keep > 0 {
		if _, err := t.store.PruneCheckpoints(ctx, runID, keep); err != nil {
			t.logger.Warn("prune checkpoints failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
}

func (t *Trainer) publish(ctx context.Context, res *scheduler.EpochResult, err error) {
	if t.publisher == nil {
		return
	}
	u := Update{
		RunID:    t.Status().RunID,
		Status:   t.Status(),
		Result:   res,
		Snapshot: t.stepper.Snapshot(),
	}
	if err != nil {
		u.Error = err.Error()
	}
	if perr := t.publisher.Publish(ctx, u); perr != nil {
		t.logger.Debug("publish update failed", zap.Error(perr))
	}
}

func (t *Trainer) finish(ctx context.Context, state State, reason string, cause error) (Status, error) {
	now := time.Now()
	t.mu.Lock()
	t.status.State = state
	t.status.StopReason = reason
	t.status.FinishedAt = &now
	if cause != nil {
		t.status.Error = cause.Error()
	}
	status := t.status
	t.mu.Unlock()

	fields := []zap.Field{
		zap.String("run_id", status.RunID),
		zap.String("state", string(state)),
		zap.String("reason", reason),
		zap.Int("epochs_done", status.EpochsDone),
	}
	if cause != nil {
		t.logger.Error("training finished with error", append(fields, zap.Error(cause))...)
	} else {
		t.logger.Info("training finished", fields...)
	}

	if t.store != nil && status.RunID != "" {
		// 运行 ctx 可能已取消，落库使用独立的短超时
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		run, err := t.store.GetRun(saveCtx, status.RunID)
		if err == nil {
			run.State = string(state)
			run.EpochsDone = status.EpochsDone
			run.LastLoss = status.LastLoss
			run.BestLoss = status.BestLoss
			run.StopReason = reason
			run.ErrorMessage = status.Error
			run.FinishedAt = &now
			err = t.store.UpdateRun(saveCtx, run)
		}
		if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
			t.logger.Warn("failed to persist run state", zap.String("run_id", status.RunID), zap.Error(err))
		}
	}
	return status, cause
}

// =============================================================================
// 🎛️ 运行期控制
// =============================================================================

// Stop 请求停止当前运行，正在执行的 epoch 会被取消。没有运行时返回 false。
func (t *Trainer) Stop(reason string) bool {
	if reason == "" {
		reason = ReasonCancelled
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.cancel == nil {
		return false
	}
	if t.stopWhy == "" {
		t.stopWhy = reason
	}
	t.cancel()
	return true
}

func (t *Trainer) stopReason() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stopWhy
}

// UpdateHyperParams 热更新基础学习率与裁剪阈值，下一个 epoch 生效。nil 表示不修改。
func (t *Trainer) UpdateHyperParams(lr, maxGradNorm *float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	schedule := t.cfg.Schedule
	maxNorm := t.cfg.MaxGradNorm
	if lr != nil {
		if math.IsNaN(*lr) || math.IsInf(*lr, 0) || *lr <= 0 {
			return types.NewError(types.ErrConfigInvalid, fmt.Sprintf("learning rate must be a positive finite number, got %v", *lr))
		}
		schedule.BaseLR = *lr
		if schedule.MinLR > schedule.BaseLR {
			schedule.MinLR = schedule.BaseLR
		}
	}
	if maxGradNorm != nil {
		if math.IsNaN(*maxGradNorm) || math.IsInf(*maxGradNorm, 0) || *maxGradNorm < 0 {
			return types.NewError(types.ErrConfigInvalid, fmt.Sprintf("max grad norm must be a non-negative finite number, got %v", *maxGradNorm))
		}
		maxNorm = *maxGradNorm
	}
	t.cfg.Schedule = schedule
	t.cfg.MaxGradNorm = maxNorm
	t.logger.Info("hyper-parameters updated",
		zap.Float64("base_lr", schedule.BaseLR),
		zap.Float64("max_grad_norm", maxNorm),
	)
	return nil
}

// PolicyUpdate 运行期可调的训练策略，nil 字段保持不变
type PolicyUpdate struct {
	Epochs            *int
	MinLearningRate   *float64
	CheckpointEvery   *int
	KeepCheckpoints   *int
	EarlyStopPatience *int
}

// UpdatePolicy 热更新训练策略。Epochs 修改当前运行的计划总数，
// 小于已完成数时运行在下一个 epoch 边界结束。
func (t *Trainer) UpdatePolicy(p PolicyUpdate) error {
	for _, v := range []*int{p.Epochs, p.CheckpointEvery, p.KeepCheckpoints, p.EarlyStopPatience} {
		if v != nil && *v < 0 {
			return types.NewError(types.ErrConfigInvalid, fmt.Sprintf("policy values must not be negative, got %d", *v))
		}
	}
	if p.Epochs != nil && *p.Epochs == 0 {
		return types.NewError(types.ErrConfigInvalid, "epochs must be >= 1")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if p.MinLearningRate != nil {
		minLR := *p.MinLearningRate
		if math.IsNaN(minLR) || minLR < 0 || minLR > t.cfg.Schedule.BaseLR {
			return types.NewError(types.ErrConfigInvalid, fmt.Sprintf("min learning rate must be in [0, %v], got %v", t.cfg.Schedule.BaseLR, minLR))
		}
		t.cfg.Schedule.MinLR = minLR
	}
	if p.Epochs != nil {
		t.cfg.Schedule.DecayEpochs = *p.Epochs
		if t.running {
			t.status.EpochsPlanned = *p.Epochs
		}
	}
	if p.CheckpointEvery != nil {
		t.cfg.CheckpointEvery = *p.CheckpointEvery
	}
	if p.KeepCheckpoints != nil {
		t.cfg.KeepCheckpoints = *p.KeepCheckpoints
	}
	if p.EarlyStopPatience != nil {
		t.cfg.EarlyStopPatience = *p.EarlyStopPatience
		if t.stopper != nil {
			t.stopper.Patience = *p.EarlyStopPatience
		}
	}
	t.logger.Info("training policy updated",
		zap.Int("checkpoint_every", t.cfg.CheckpointEvery),
		zap.Int("keep_checkpoints", t.cfg.KeepCheckpoints),
		zap.Int("early_stop_patience", t.cfg.EarlyStopPatience),
		zap.Float64("min_lr", t.cfg.Schedule.MinLR),
	)
	return nil
}

// Schedule returns the current learning rate schedule.
func (t *Trainer) Schedule() LRSchedule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg.Schedule
}

// Status 返回当前状态的副本
func (t *Trainer) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Running reports whether Run is in progress.
func (t *Trainer) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// History 返回最近 limit 条 epoch 记录（按时间升序），limit<=0 返回全部
func (t *Trainer) History(limit int) []checkpoint.EpochRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := t.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]checkpoint.EpochRecord, len(h))
	copy(out, h)
	return out
}

// Snapshot returns the scheduler's current observation view.
func (t *Trainer) Snapshot() scheduler.Snapshot {
	return t.stepper.Snapshot()
}
