// MockModel 是 scheduler.Model 的测试模拟实现。
//
// 梯度由批次 ID 与参数下标确定性生成（小整数，求和与顺序无关），
// 支持按批次注入错误、NaN 与 panic，并记录每次调用。
package mocks

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/BaSui01/hivetrain/scheduler"
)

// MockModel 记录 ComputeGradients / ApplyGradients 调用的模型
type MockModel struct {
	mu sync.Mutex

	// 行为配置
	failOn     map[uint64]error
	nanOn      map[uint64]bool
	panicOn    map[uint64]bool
	applyErr   error
	applyNaN   bool
	delay      time.Duration
	gradientFn func(b scheduler.Batch, params int) scheduler.GradientDelta
	lossFn     func(b scheduler.Batch) float64
	blockUntil chan struct{}

	// 调用记录
	computed     map[uint64]int
	losses       []float64
	applyCalls   int
	lastReduced  []float64
	lastLR       float64
	computeCalls int
}

// NewMockModel 创建新的 MockModel
func NewMockModel() *MockModel {
	return &MockModel{
		failOn:   make(map[uint64]error),
		nanOn:    make(map[uint64]bool),
		panicOn:  make(map[uint64]bool),
		computed: make(map[uint64]int),
	}
}

// WithFailOn 让指定批次返回错误
func (m *MockModel) WithFailOn(batchID uint64, err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[batchID] = err
	return m
}

// WithNaNOn 让指定批次的梯度包含 NaN
func (m *MockModel) WithNaNOn(batchID uint64) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nanOn[batchID] = true
	return m
}

// WithPanicOn 让指定批次在计算时 panic
func (m *MockModel) WithPanicOn(batchID uint64) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicOn[batchID] = true
	return m
}

// WithApplyError 让 ApplyGradients 先修改权重再返回错误
func (m *MockModel) WithApplyError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyErr = err
	return m
}

// WithApplyNaN 让 ApplyGradients 写入 NaN 权重
func (m *MockModel) WithApplyNaN() *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyNaN = true
	return m
}

// WithDelay 每个批次的模拟计算耗时
func (m *MockModel) WithDelay(d time.Duration) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithGradient 自定义梯度生成函数
func (m *MockModel) WithGradient(fn func(b scheduler.Batch, params int) scheduler.GradientDelta) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gradientFn = fn
	return m
}

// WithLoss 自定义损失函数
func (m *MockModel) WithLoss(fn func(b scheduler.Batch) float64) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lossFn = fn
	return m
}

// WithBlock 计算在 ch 关闭（或 ctx 取消）前阻塞
func (m *MockModel) WithBlock(ch chan struct{}) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockUntil = ch
	return m
}

// --- scheduler.Model 实现 ---

// ComputeGradients implements scheduler.Model.
func (m *MockModel) ComputeGradients(ctx context.Context, w scheduler.ReadOnlyView, b scheduler.Batch) (scheduler.GradientDelta, float64, error) {
	m.mu.Lock()
	m.computeCalls++
	failErr := m.failOn[b.ID]
	nan := m.nanOn[b.ID]
	shouldPanic := m.panicOn[b.ID]
	delay := m.delay
	gradientFn := m.gradientFn
	lossFn := m.lossFn
	block := m.blockUntil
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if shouldPanic {
		panic("mock model panic")
	}
	if failErr != nil {
		return nil, 0, failErr
	}

	var delta scheduler.GradientDelta
	if gradientFn != nil {
		delta = gradientFn(b, w.Len())
	} else {
		delta = DefaultGradient(b, w.Len())
	}
	if nan && len(delta) > 0 {
		delta[len(delta)/2] = math.NaN()
	}
	loss := DefaultLoss(b)
	if lossFn != nil {
		loss = lossFn(b)
	}

	m.mu.Lock()
	m.computed[b.ID]++
	m.losses = append(m.losses, loss)
	m.mu.Unlock()
	return delta, loss, nil
}

// ApplyGradients implements scheduler.Model: w -= lr * g.
func (m *MockModel) ApplyGradients(_ context.Context, w scheduler.MutableView, g scheduler.GradientView, lr float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCalls++
	m.lastLR = lr
	m.lastReduced = make([]float64, g.Len())
	g.CopyTo(m.lastReduced)

	if w.Len() != g.Len() {
		return errors.New("weights and gradient length differ")
	}
	for i := 0; i < w.Len(); i++ {
		w.Add(i, -lr*g.At(i))
	}
	if m.applyNaN {
		w.Set(0, math.NaN())
	}
	return m.applyErr
}

// --- 查询方法 ---

// ComputedCounts 每个批次 ID 成功计算的次数
func (m *MockModel) ComputedCounts() map[uint64]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint64]int, len(m.computed))
	for k, v := range m.computed {
		out[k] = v
	}
	return out
}

// Losses 所有成功批次的损失
func (m *MockModel) Losses() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.losses))
	copy(out, m.losses)
	return out
}

// ComputeCalls 包括失败在内的计算调用次数
func (m *MockModel) ComputeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.computeCalls
}

// ApplyCalls ApplyGradients 调用次数
func (m *MockModel) ApplyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyCalls
}

// LastReduced 最近一次交给 ApplyGradients 的归约梯度
func (m *MockModel) LastReduced() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.lastReduced))
	copy(out, m.lastReduced)
	return out
}

// LastLearningRate 最近一次 ApplyGradients 的学习率
func (m *MockModel) LastLearningRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLR
}

// ClearFaults 移除所有注入的错误、NaN 与 panic
func (m *MockModel) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = make(map[uint64]error)
	m.nanOn = make(map[uint64]bool)
	m.panicOn = make(map[uint64]bool)
	m.applyErr = nil
	m.applyNaN = false
}

// Reset 清空调用记录，保留行为配置
func (m *MockModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computed = make(map[uint64]int)
	m.losses = nil
	m.applyCalls = 0
	m.computeCalls = 0
	m.lastReduced = nil
}

// DefaultGradient 小整数梯度：浮点求和精确，与累加顺序无关
func DefaultGradient(b scheduler.Batch, params int) scheduler.GradientDelta {
	delta := make(scheduler.GradientDelta, params)
	for j := range delta {
		delta[j] = float64((int(b.ID)+1)*(j+3)%11) - 5
	}
	return delta
}

// DefaultLoss 批次 ID 的确定性损失
func DefaultLoss(b scheduler.Batch) float64 {
	return float64(b.ID%17) + 0.25
}

// ExpectedSum 对一组批次求 DefaultGradient 之和
func ExpectedSum(ids []uint64, params int) []float64 {
	sum := make([]float64, params)
	for _, id := range ids {
		for j, v := range DefaultGradient(scheduler.Batch{ID: id}, params) {
			sum[j] += v
		}
	}
	return sum
}
