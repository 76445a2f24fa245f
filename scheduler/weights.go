package scheduler

import (
	"fmt"
	"math"
	"sync"
)

// =============================================================================
// ⚖️ 权重存储
// =============================================================================

// WeightStore 持有模型权重。
//
// Worker 只能拿到 ReadOnlyView；根控制节点在 ApplyingUpdate 中通过
// beginUpdate 得到 scratch 副本上的 MutableView，校验通过后 commit。
// 失败时 live 保持原样。
type WeightStore struct {
	mu      sync.RWMutex
	live    []float64
	scratch []float64
}

// NewWeightStore copies initial into a new store.
func NewWeightStore(initial []float64) *WeightStore {
	live := make([]float64, len(initial))
	copy(live, initial)
	return &WeightStore{
		live:    live,
		scratch: make([]float64, len(initial)),
	}
}

// Len returns the parameter count.
func (s *WeightStore) Len() int { return len(s.live) }

// ReadOnly returns a view over the live weights. Only valid between barriers
// of an epoch, where no update can run.
func (s *WeightStore) ReadOnly() ReadOnlyView {
	return ReadOnlyView{data: s.live}
}

// Snapshot 返回权重副本，可在任意时刻安全调用
func (s *WeightStore) Snapshot() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.live))
	copy(out, s.live)
	return out
}

// Restore 用检查点覆盖权重。只能在两个 epoch 之间调用。
func (s *WeightStore) Restore(weights []float64) error {
	if len(weights) != len(s.live) {
		return fmt.Errorf("restore weights: got %d values, want %d", len(weights), len(s.live))
	}
	if idx, v, ok := firstNonFinite(weights); ok {
		return &NumericError{Where: "weights", Index: idx, Value: v, NodePath: "restore"}
	}
	s.mu.Lock()
	copy(s.live, weights)
	s.mu.Unlock()
	return nil
}

func (s *WeightStore) beginUpdate() MutableView {
	copy(s.scratch, s.live)
	return MutableView{data: s.scratch}
}

func (s *WeightStore) commit() {
	s.mu.Lock()
	copy(s.live, s.scratch)
	s.mu.Unlock()
}

// ReadOnlyView 只读权重视图，Worker 在 Computing 阶段使用
type ReadOnlyView struct {
	data []float64
}

// NewReadOnlyView wraps data; intended for tests and model implementations.
func NewReadOnlyView(data []float64) ReadOnlyView { return ReadOnlyView{data: data} }

func (v ReadOnlyView) Len() int                 { return len(v.data) }
func (v ReadOnlyView) At(i int) float64         { return v.data[i] }
func (v ReadOnlyView) CopyTo(dst []float64) int { return copy(dst, v.data) }

// MutableView 可写权重视图，仅在 ApplyingUpdate 中存在
type MutableView struct {
	data []float64
}

// NewMutableView wraps data; intended for tests and model implementations.
func NewMutableView(data []float64) MutableView { return MutableView{data: data} }

func (v MutableView) Len() int             { return len(v.data) }
func (v MutableView) At(i int) float64     { return v.data[i] }
func (v MutableView) Set(i int, x float64) { v.data[i] = x }
func (v MutableView) Add(i int, x float64) { v.data[i] += x }
func (v MutableView) Values() []float64    { return v.data }

func firstNonFinite(data []float64) (int, float64, bool) {
	for i, x := range data {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return i, x, true
		}
	}
	return -1, 0, false
}
