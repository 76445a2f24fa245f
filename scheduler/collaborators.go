package scheduler

import "context"

// Batch 一个训练批次的不可变句柄，指向 BatchSource 拥有的数据
type Batch struct {
	ID uint64
	// Lo/Hi 为源数据中的索引区间 [Lo, Hi)
	Lo, Hi  int
	Payload any
}

// Size returns the number of examples covered by the batch.
func (b Batch) Size() int { return b.Hi - b.Lo }

// EpochCursor 标识一次 epoch 内的拉取位置
type EpochCursor struct {
	Epoch int
	Index int
}

// GradientDelta 单个批次产生的稠密梯度，长度等于参数个数
type GradientDelta []float64

// Model 外部数值模型
//
// ComputeGradients 只能读取权重；ApplyGradients 是唯一允许写权重的入口，
// 只由根控制节点调用。
type Model interface {
	ComputeGradients(ctx context.Context, weights ReadOnlyView, batch Batch) (GradientDelta, float64, error)
	ApplyGradients(ctx context.Context, weights MutableView, reduced GradientView, lr float64) error
}

// BatchSource 外部批次来源。每层只有一个控制协程调用它，无需并发安全。
type BatchSource interface {
	NextBatch(cursor EpochCursor) (Batch, bool)
	TotalBatches(epoch int) int
}
