package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/hivetrain/internal/database"
	"github.com/BaSui01/hivetrain/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound 运行或检查点不存在
	ErrNotFound = errors.New("checkpoint: not found")
	// ErrEmptyWeights 拒绝保存空权重
	ErrEmptyWeights = errors.New("checkpoint: weights must not be empty")
)

// CorruptError 检查点数据无法还原
type CorruptError struct {
	RunID  string
	Epoch  int
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("checkpoint %s@%d is corrupt: %s", e.RunID, e.Epoch, e.Reason)
}

// ErrorCode implements types.Coded.
func (e *CorruptError) ErrorCode() types.ErrorCode { return types.ErrCheckpointFailed }

// QueryRecorder 接收查询耗时。metrics.Collector 实现此接口。
type QueryRecorder interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// =============================================================================
// 💾 Store
// =============================================================================

// Store 基于 GORM 持久化训练运行、epoch 历史与权重检查点。
// 表结构由 internal/migration 维护。
type Store struct {
	pool     *database.PoolManager
	logger   *zap.Logger
	recorder QueryRecorder
	retries  uint
}

// Option Store 选项
type Option func(*Store)

// WithQueryRecorder 记录每次查询的耗时
func WithQueryRecorder(r QueryRecorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithRetries 写事务的最大尝试次数
func WithRetries(n uint) Option {
	return func(s *Store) {
		if n > 0 {
			s.retries = n
		}
	}
}

// NewStore 创建 Store
func NewStore(pool *database.PoolManager, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		pool:    pool,
		logger:  logger.With(zap.String("component", "checkpoint_store")),
		retries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) observe(op string, start time.Time) {
	if s.recorder != nil {
		s.recorder.RecordDBQuery(s.pool.DB().Dialector.Name(), op, time.Since(start))
	}
}

// CreateRun 插入新运行
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	defer s.observe("create_run", time.Now())
	if run.ID == "" {
		return fmt.Errorf("create run: id is required")
	}
	return s.pool.WithTransactionRetry(ctx, s.retries, func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("create run %s: %w", run.ID, err)
		}
		return nil
	})
}

// UpdateRun 覆盖运行的可变字段
func (s *Store) UpdateRun(ctx context.Context, run *Run) error {
	defer s.observe("update_run", time.Now())
	return s.pool.WithTransactionRetry(ctx, s.retries, func(tx *gorm.DB) error {
		res := tx.Model(&Run{ID: run.ID}).Select(
			"state", "epochs_done", "last_loss", "best_loss", "stop_reason", "error", "finished_at", "updated_at",
		).Updates(run)
		if res.Error != nil {
			return fmt.Errorf("update run %s: %w", run.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetRun 按 ID 查询
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	defer s.observe("get_run", time.Now())
	var run Run
	if err := s.pool.DB().WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "get run %s", id)
	}
	return &run, nil
}

// ListRuns 按开始时间倒序列出最近的运行
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	defer s.observe("list_runs", time.Now())
	var runs []Run
	q := s.pool.DB().WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// RecordEpoch 追加一条 epoch 记录
func (s *Store) RecordEpoch(ctx context.Context, rec *EpochRecord) error {
	defer s.observe("record_epoch", time.Now())
	return s.pool.WithTransactionRetry(ctx, s.retries, func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("record epoch %d of %s: %w", rec.Epoch, rec.RunID, err)
		}
		return nil
	})
}

// History 返回最近 limit 条记录，按 epoch 升序；limit <= 0 返回全部
func (s *Store) History(ctx context.Context, runID string, limit int) ([]EpochRecord, error) {
	defer s.observe("history", time.Now())
	var records []EpochRecord
	q := s.pool.DB().WithContext(ctx).Where("run_id = ?", runID).Order("epoch DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("history of %s: %w", runID, err)
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// SaveCheckpoint 保存权重；同一 (run, epoch) 重复保存时覆盖
func (s *Store) SaveCheckpoint(ctx context.Context, runID string, epoch int, loss float64, weights []float64) (*Checkpoint, error) {
	defer s.observe("save_checkpoint", time.Now())
	if len(weights) == 0 {
		return nil, ErrEmptyWeights
	}
	data := encodeWeights(weights)
	cp := &Checkpoint{
		RunID:      runID,
		Epoch:      epoch,
		Loss:       loss,
		ParamCount: len(weights),
		Data:       data,
		Checksum:   checksum(data),
	}
	err := s.pool.WithTransactionRetry(ctx, s.retries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "epoch"}},
			DoUpdates: clause.AssignmentColumns([]string{"loss", "param_count", "weights", "checksum"}),
		}).Create(cp).Error
	})
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointFailed, "save checkpoint").WithCause(err)
	}
	s.logger.Debug("checkpoint saved",
		zap.String("run_id", runID),
		zap.Int("epoch", epoch),
		zap.Int("params", len(weights)),
	)
	return cp, nil
}

// LatestCheckpoint 返回运行的最后一个检查点
func (s *Store) LatestCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	defer s.observe("latest_checkpoint", time.Now())
	var cp Checkpoint
	err := s.pool.DB().WithContext(ctx).
		Where("run_id = ?", runID).
		Order("epoch DESC").
		First(&cp).Error
	if err != nil {
		return nil, notFound(err, "latest checkpoint of %s", runID)
	}
	return &cp, nil
}

// PruneCheckpoints 只保留最近 keep 个检查点，返回删除数
func (s *Store) PruneCheckpoints(ctx context.Context, runID string, keep int) (int64, error) {
	defer s.observe("prune_checkpoints", time.Now())
	if keep < 1 {
		return 0, fmt.Errorf("prune checkpoints: keep must be >= 1, got %d", keep)
	}
	var deleted int64
	err := s.pool.WithTransactionRetry(ctx, s.retries, func(tx *gorm.DB) error {
		var epochs []int
		if err := tx.Model(&Checkpoint{}).
			Where("run_id = ?", runID).
			Order("epoch DESC").
			Pluck("epoch", &epochs).Error; err != nil {
			return err
		}
		if len(epochs) <= keep {
			deleted = 0
			return nil
		}
		res := tx.Where("run_id = ? AND epoch IN ?", runID, epochs[keep:]).Delete(&Checkpoint{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints of %s: %w", runID, err)
	}
	return deleted, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
