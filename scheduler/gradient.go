package scheduler

import (
	"math"
	"sort"
	"sync/atomic"
	"unsafe"
)

// =============================================================================
// 📐 GradientBuffer: 静态分段的共享梯度缓冲
// =============================================================================

// clipTolerance 相对容差，保证对已裁剪缓冲再次裁剪是恒等操作
const clipTolerance = 1e-9

// Segment 一个 worker 独占的梯度区间 [Lo, Hi)。
//
// 若 Lo 是接缝（seam），该下标不归本段独占，只能通过原子加写入。
type Segment struct {
	ID   int  `json:"id"`
	Lo   int  `json:"lo"`
	Hi   int  `json:"hi"`
	Seam bool `json:"seam"`
}

// ExclusiveLo 返回本段第一个独占下标
func (s Segment) ExclusiveLo() int {
	if s.Seam {
		return s.Lo + 1
	}
	return s.Lo
}

// Len returns the number of indices in [Lo, Hi).
func (s Segment) Len() int { return s.Hi - s.Lo }

// Exclusive returns the number of indices written with plain stores.
func (s Segment) Exclusive() int {
	if n := s.Hi - s.ExclusiveLo(); n > 0 {
		return n
	}
	return 0
}

// GradientBuffer 长度为 param_count 的共享缓冲，按 worker 数静态分段。
//
// 段 i 覆盖 [i*P/N, (i+1)*P/N)；段 1..N-1 的起点为接缝（去重后）。
// 刷写阶段每个 worker 只对自己段的独占下标做普通写入，接缝用 CAS 原子加，
// 这是热路径上唯一的同步操作。
type GradientBuffer struct {
	data     []float64
	segments []Segment
	seams    []int
}

// NewGradientBuffer partitions paramCount indices across workers segments.
func NewGradientBuffer(paramCount, workers int) *GradientBuffer {
	if paramCount < 1 {
		structuralf("gradient buffer needs at least one parameter, got %d", paramCount)
	}
	if workers < 1 {
		structuralf("gradient buffer needs at least one worker, got %d", workers)
	}
	segments, seams := Partition(paramCount, workers)
	if err := verifyPartition(paramCount, segments, seams); err != "" {
		structuralf("segment partition: %s", err)
	}
	return &GradientBuffer{
		data:     make([]float64, paramCount),
		segments: segments,
		seams:    seams,
	}
}

// Partition computes the static segment layout for paramCount indices and n workers.
func Partition(paramCount, n int) ([]Segment, []int) {
	bounds := make([]int, n+1)
	for i := 0; i <= n; i++ {
		bounds[i] = i * paramCount / n
	}
	seamSet := make(map[int]struct{}, n)
	for i := 1; i < n; i++ {
		if bounds[i] < paramCount {
			seamSet[bounds[i]] = struct{}{}
		}
	}
	seams := make([]int, 0, len(seamSet))
	for idx := range seamSet {
		seams = append(seams, idx)
	}
	sort.Ints(seams)

	segments := make([]Segment, n)
	for i := 0; i < n; i++ {
		_, seam := seamSet[bounds[i]]
		segments[i] = Segment{
			ID:   i,
			Lo:   bounds[i],
			Hi:   bounds[i+1],
			Seam: seam && bounds[i] < bounds[i+1],
		}
	}
	return segments, seams
}

// verifyPartition 每个下标恰好属于一个段的独占区或一个接缝
func verifyPartition(paramCount int, segments []Segment, seams []int) string {
	owners := make([]int8, paramCount)
	for _, s := range segments {
		if s.Lo > s.Hi || s.Lo < 0 || s.Hi > paramCount {
			return "segment out of range"
		}
		for i := s.ExclusiveLo(); i < s.Hi; i++ {
			owners[i]++
		}
	}
	for _, idx := range seams {
		owners[idx]++
	}
	for _, c := range owners {
		if c != 1 {
			return "overlapping or uncovered index"
		}
	}
	return ""
}

// Len returns param_count.
func (b *GradientBuffer) Len() int { return len(b.data) }

// Segments returns a copy of the partition.
func (b *GradientBuffer) Segments() []Segment {
	out := make([]Segment, len(b.segments))
	copy(out, b.segments)
	return out
}

// Seams returns a copy of the seam indices.
func (b *GradientBuffer) Seams() []int {
	out := make([]int, len(b.seams))
	copy(out, b.seams)
	return out
}

// Accumulate 刷写 worker 的段：独占下标写入所有 partial 之和，
// 接缝只原子加上本 worker 自己的 partial。
// partials 在调用期间必须只读（由排空屏障保证）。
func (b *GradientBuffer) Accumulate(workerID int, partials [][]float64) {
	seg := b.segments[workerID]
	for i := seg.ExclusiveLo(); i < seg.Hi; i++ {
		var sum float64
		for _, p := range partials {
			sum += p[i]
		}
		b.data[i] += sum
	}
	own := partials[workerID]
	for _, idx := range b.seams {
		if v := own[idx]; v != 0 {
			atomicAddFloat64(&b.data[idx], v)
		}
	}
}

// AddTo 单线程地把缓冲加到 dst 上（分支节点把子组结果并入自身 partial 时使用）
func (b *GradientBuffer) AddTo(dst []float64) {
	for i, v := range b.data {
		dst[i] += v
	}
}

// Scale 所有元素乘以 f
func (b *GradientBuffer) Scale(f float64) {
	for i := range b.data {
		b.data[i] *= f
	}
}

// Norm 返回 L2 范数
func (b *GradientBuffer) Norm() float64 {
	return l2Norm(b.data)
}

// Reduce 校验有限性并返回范数，不做裁剪。分支节点使用。
func (b *GradientBuffer) Reduce() (float64, error) {
	if idx, v, ok := firstNonFinite(b.data); ok {
		return 0, &NumericError{Where: "gradients", Index: idx, Value: v}
	}
	return b.Norm(), nil
}

// ReduceAndClip 计算全缓冲 L2 范数，超过 maxNorm 时按 maxNorm/norm 缩放。
// 返回裁剪前的范数。norm==0 不缩放；maxNorm<=0 关闭裁剪；
// 出现 NaN/Inf 返回 *NumericError 且不修改缓冲。
func (b *GradientBuffer) ReduceAndClip(maxNorm float64) (float64, error) {
	norm, err := b.Reduce()
	if err != nil {
		return 0, err
	}
	if norm == 0 || maxNorm <= 0 {
		return norm, nil
	}
	if norm > maxNorm*(1+clipTolerance) {
		b.Scale(maxNorm / norm)
	}
	return norm, nil
}

// Zero 清零
func (b *GradientBuffer) Zero() {
	clear(b.data)
}

// View returns a read-only view; valid until the next Zero.
func (b *GradientBuffer) View() GradientView {
	return GradientView{data: b.data}
}

// Values returns a copy of the buffer.
func (b *GradientBuffer) Values() []float64 {
	out := make([]float64, len(b.data))
	copy(out, b.data)
	return out
}

// GradientView 归约后梯度的只读视图，交给 Model.ApplyGradients
type GradientView struct {
	data []float64
}

// NewGradientView wraps data; intended for tests and model implementations.
func NewGradientView(data []float64) GradientView { return GradientView{data: data} }

func (v GradientView) Len() int                 { return len(v.data) }
func (v GradientView) At(i int) float64         { return v.data[i] }
func (v GradientView) CopyTo(dst []float64) int { return copy(dst, v.data) }
func (v GradientView) Norm() float64            { return l2Norm(v.data) }

func l2Norm(data []float64) float64 {
	var sum float64
	for _, x := range data {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// atomicAddFloat64 以 CAS 循环对 float64 做原子加
func atomicAddFloat64(addr *float64, delta float64) {
	p := (*uint64)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint64(p)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(p, old, next) {
			return
		}
	}
}
