package testutil

import (
	"context"
	"math"
	"testing"
	"time"
)

// pollInterval WaitFor 与 AssertEventuallyTrue 的轮询间隔
const pollInterval = 5 * time.Millisecond

// =============================================================================
// 🎯 上下文
// =============================================================================

// TestContext 返回 30s 超时的上下文，测试结束时取消
func TestContext(t testing.TB) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 同 TestContext，超时可定制
func TestContextWithTimeout(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔢 数值断言
// =============================================================================

// AssertFloatsNear 逐元素比较；只报告第一个超出 eps 的位置
func AssertFloatsNear(t testing.TB, expected, actual []float64, eps float64) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Errorf("length mismatch: expected %d, got %d", len(expected), len(actual))
		return
	}
	if i, ok := firstMismatch(expected, actual, eps); ok {
		t.Errorf("value[%d]: expected %v, got %v (|diff| %.3g > eps %v)",
			i, expected[i], actual[i], math.Abs(expected[i]-actual[i]), eps)
	}
}

func firstMismatch(expected, actual []float64, eps float64) (int, bool) {
	for i := range expected {
		if math.IsNaN(expected[i]) != math.IsNaN(actual[i]) || math.Abs(expected[i]-actual[i]) > eps {
			return i, true
		}
	}
	return 0, false
}

// AssertAllFinite 断言没有 NaN/Inf
func AssertAllFinite(t testing.TB, values []float64) {
	t.Helper()
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("value[%d] is not finite: %v", i, v)
			return
		}
	}
}

// =============================================================================
// ⏱️ 异步等待
// =============================================================================

// WaitFor 轮询 condition，超时返回 false
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// AssertEventuallyTrue WaitFor 的断言形式
func AssertEventuallyTrue(t testing.TB, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// WaitForChannel 等待一个值或超时；通道关闭也算收到
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// =============================================================================
// 🔧 切片
// =============================================================================

// CopyFloats 复制切片，nil 保持 nil
func CopyFloats(values []float64) []float64 {
	if values == nil {
		return nil
	}
	return append([]float64(nil), values...)
}

// SumFloats 求和
func SumFloats(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum
}
