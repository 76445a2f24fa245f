package checkpoint

import (
	"time"
)

// Run 一次训练运行
type Run struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	State         string     `gorm:"size:16;not null" json:"state"`
	Workers       int        `gorm:"not null" json:"workers"`
	Fanout        int        `gorm:"not null" json:"fanout"`
	Depth         int        `gorm:"not null" json:"depth"`
	ParamCount    int        `gorm:"not null" json:"param_count"`
	EpochsPlanned int        `json:"epochs_planned"`
	EpochsDone    int        `json:"epochs_done"`
	LastLoss      *float64   `json:"last_loss,omitempty"`
	BestLoss      *float64   `json:"best_loss,omitempty"`
	StopReason    string     `gorm:"size:64" json:"stop_reason"`
	ErrorMessage  string     `gorm:"column:error;type:text" json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName 表名
func (Run) TableName() string { return "training_runs" }

// EpochRecord 单个 epoch 尝试的结果；失败的尝试同样落库
type EpochRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RunID        string    `gorm:"size:36;not null;index:idx_epoch_records_run_epoch" json:"run_id"`
	Epoch        int       `gorm:"not null;index:idx_epoch_records_run_epoch" json:"epoch"`
	Batches      int       `json:"batches"`
	Loss         float64   `json:"loss"`
	GradientNorm float64   `json:"gradient_norm"`
	Clipped      bool      `json:"clipped"`
	Applied      bool      `json:"applied"`
	LearningRate float64   `json:"learning_rate"`
	DurationMS   int64     `gorm:"column:duration_ms" json:"duration_ms"`
	ErrorCode    string    `gorm:"size:32" json:"error_code,omitempty"`
	ErrorMessage string    `gorm:"column:error;type:text" json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName 表名
func (EpochRecord) TableName() string { return "epoch_records" }

// Failed reports whether the attempt ended with an error.
func (r *EpochRecord) Failed() bool { return r.ErrorCode != "" }

// Checkpoint 某个 epoch 结束时的权重快照
type Checkpoint struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RunID      string    `gorm:"size:36;not null;uniqueIndex:idx_checkpoints_run_epoch" json:"run_id"`
	Epoch      int       `gorm:"not null;uniqueIndex:idx_checkpoints_run_epoch" json:"epoch"`
	Loss       float64   `json:"loss"`
	ParamCount int       `gorm:"not null" json:"param_count"`
	Data       []byte    `gorm:"column:weights;not null" json:"-"`
	Checksum   string    `gorm:"size:64;not null" json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName 表名
func (Checkpoint) TableName() string { return "checkpoints" }

// Weights 解码权重并校验 checksum
func (c *Checkpoint) Weights() ([]float64, error) {
	if got := checksum(c.Data); got != c.Checksum {
		return nil, &CorruptError{RunID: c.RunID, Epoch: c.Epoch, Reason: "checksum mismatch"}
	}
	weights, err := decodeWeights(c.Data)
	if err != nil {
		return nil, &CorruptError{RunID: c.RunID, Epoch: c.Epoch, Reason: err.Error()}
	}
	if len(weights) != c.ParamCount {
		return nil, &CorruptError{RunID: c.RunID, Epoch: c.Epoch, Reason: "param count mismatch"}
	}
	return weights, nil
}
