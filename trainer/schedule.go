package trainer

import (
	"fmt"
	"math"
)

// =============================================================================
// 📉 学习率调度
// =============================================================================

// LRSchedule 线性预热后余弦衰减到 MinLR，之后保持 MinLR。
//
// 与按步计数的调度器不同，At 是纯函数：同一 epoch 总是得到同一学习率，
// 所以失败重试的 epoch 不会推进调度。
type LRSchedule struct {
	BaseLR       float64
	MinLR        float64
	WarmupEpochs int
	// DecayEpochs 预热结束到衰减到 MinLR 的总 epoch 数（含预热）
	DecayEpochs int
}

// Validate 检查调度参数
func (s LRSchedule) Validate() error {
	if math.IsNaN(s.BaseLR) || math.IsInf(s.BaseLR, 0) || s.BaseLR <= 0 {
		return fmt.Errorf("base learning rate must be positive, got %v", s.BaseLR)
	}
	if s.MinLR < 0 || s.MinLR > s.BaseLR {
		return fmt.Errorf("min learning rate must be in [0, %v], got %v", s.BaseLR, s.MinLR)
	}
	if s.WarmupEpochs < 0 {
		return fmt.Errorf("warmup epochs must be >= 0, got %d", s.WarmupEpochs)
	}
	if s.DecayEpochs < 0 {
		return fmt.Errorf("decay epochs must be >= 0, got %d", s.DecayEpochs)
	}
	return nil
}

// At 返回第 epoch 个（从 0 开始）成功 epoch 使用的学习率
func (s LRSchedule) At(epoch int) float64 {
	step := epoch + 1

	// 预热：线性升到 BaseLR
	if step <= s.WarmupEpochs {
		return s.BaseLR * float64(step) / float64(s.WarmupEpochs+1)
	}

	// 余弦衰减
	if step < s.DecayEpochs {
		progress := float64(step-s.WarmupEpochs) / float64(s.DecayEpochs-s.WarmupEpochs)
		cosine := 0.5 * (1.0 + math.Cos(math.Pi*progress))
		lr := s.MinLR + (s.BaseLR-s.MinLR)*cosine
		if lr <= 0 {
			return s.floor()
		}
		return lr
	}

	if s.DecayEpochs <= s.WarmupEpochs {
		// 没有衰减区间，保持恒定
		return s.BaseLR
	}
	return s.floor()
}

// floor 学习率必须为正，MinLR 为 0 时退化为 BaseLR 的极小比例
func (s LRSchedule) floor() float64 {
	if s.MinLR > 0 {
		return s.MinLR
	}
	return s.BaseLR * 1e-3
}

// ConstantSchedule 每个 epoch 都使用 lr
func ConstantSchedule(lr float64) LRSchedule {
	return LRSchedule{BaseLR: lr, MinLR: lr}
}

// =============================================================================
// ⏹️ 早停
// =============================================================================

// EarlyStopper 连续 Patience 个 epoch 的 loss 改善不足 MinDelta 时触发早停
type EarlyStopper struct {
	Patience int
	MinDelta float64

	best    float64
	seen    bool
	stalled int
}

// NewEarlyStopper patience 为 0 时 Observe 永远返回 false
func NewEarlyStopper(patience int, minDelta float64) *EarlyStopper {
	return &EarlyStopper{Patience: patience, MinDelta: minDelta}
}

// Observe 记录一个 epoch 的 loss，返回是否应停止
func (e *EarlyStopper) Observe(loss float64) bool {
	if e == nil || e.Patience <= 0 {
		return false
	}
	if !e.seen || loss < e.best-e.MinDelta {
		e.best = loss
		e.seen = true
		e.stalled = 0
		return false
	}
	e.stalled++
	return e.stalled >= e.Patience
}

// Best returns the best loss observed so far.
func (e *EarlyStopper) Best() (float64, bool) { return e.best, e.seen }
