package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/hivetrain/types"
)

var (
	// ErrShutdown 调度器已关闭，不再接受新的 epoch
	ErrShutdown = errors.New("scheduler is shut down")
	// ErrNotStarted 调度器尚未 Start
	ErrNotStarted = errors.New("scheduler is not started")
	// ErrBarrierAborted 屏障被中止（关闭信号），等待者以取消结果返回
	ErrBarrierAborted = errors.New("barrier aborted")
	// ErrQueueDone 生产者已标记完成后仍尝试 Push
	ErrQueueDone = errors.New("work queue is marked done")

	errModelPanicked = errors.New("model panicked")
	errStepStopped   = errors.New("training step stopped")
)

// =============================================================================
// 🧱 训练步级错误
// =============================================================================

// BatchError 单个批次的梯度计算失败，整个训练步被中止
type BatchError struct {
	BatchID  uint64
	NodePath string
	Cause    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d failed on node %s: %v", e.BatchID, e.NodePath, e.Cause)
}

func (e *BatchError) Unwrap() error { return e.Cause }

// ErrorCode implements types.Coded.
func (e *BatchError) ErrorCode() types.ErrorCode { return types.ErrBatchFailed }

// NumericError 归约后的梯度或更新后的权重中出现 NaN/Inf
type NumericError struct {
	// Where 取值 "gradients" 或 "weights"
	Where    string
	Index    int
	Value    float64
	NodePath string
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("non-finite %s at index %d (%v) on node %s", e.Where, e.Index, e.Value, e.NodePath)
}

// ErrorCode implements types.Coded.
func (e *NumericError) ErrorCode() types.ErrorCode { return types.ErrNumericInvalid }

// ApplyError 外部模型的 ApplyGradients 返回错误，权重保持不变
type ApplyError struct {
	Epoch int
	Cause error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply gradients for epoch %d: %v", e.Epoch, e.Cause)
}

func (e *ApplyError) Unwrap() error { return e.Cause }

// ErrorCode implements types.Coded.
func (e *ApplyError) ErrorCode() types.ErrorCode { return types.ErrApplyFailed }

// StructuralError 构造期不变量被破坏。只会以 panic 的形式出现在 New 中。
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string {
	return "structural invariant violated: " + e.Reason
}

// ErrorCode implements types.Coded.
func (e *StructuralError) ErrorCode() types.ErrorCode { return types.ErrStructuralInvalid }

func structuralf(format string, args ...any) {
	panic(&StructuralError{Reason: fmt.Sprintf(format, args...)})
}

// ErrorCode 把 RunEpoch 返回的错误映射到 types.ErrorCode，nil 返回空串
func ErrorCode(err error) types.ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrShutdown), errors.Is(err, ErrBarrierAborted):
		return types.ErrSchedulerShutdown
	case errors.Is(err, ErrNotStarted):
		return types.ErrSchedulerIdle
	}
	if code := types.GetErrorCode(err); code != "" {
		return code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrTimeout
	}
	return types.ErrStepCancelled
}

// codeOf 把失败映射成指标标签
func codeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(ErrorCode(err))
}
