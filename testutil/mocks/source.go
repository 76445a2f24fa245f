package mocks

import (
	"sync"

	"github.com/BaSui01/hivetrain/scheduler"
)

// SliceSource 每个 epoch 顺序产出同一组批次的 BatchSource
type SliceSource struct {
	mu      sync.Mutex
	batches []scheduler.Batch
	pulls   int
	calls   map[int]int
}

// NewSliceSource 创建包含 n 个批次（ID 0..n-1）的来源
func NewSliceSource(n int) *SliceSource {
	batches := make([]scheduler.Batch, n)
	for i := range batches {
		batches[i] = scheduler.Batch{ID: uint64(i), Lo: i * 4, Hi: (i + 1) * 4}
	}
	return NewSliceSourceFrom(batches)
}

// NewSliceSourceFrom 使用给定批次（顺序即产出顺序）
func NewSliceSourceFrom(batches []scheduler.Batch) *SliceSource {
	return &SliceSource{batches: batches, calls: make(map[int]int)}
}

// NextBatch implements scheduler.BatchSource.
func (s *SliceSource) NextBatch(cursor scheduler.EpochCursor) (scheduler.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[cursor.Epoch]++
	if cursor.Index < 0 || cursor.Index >= len(s.batches) {
		return scheduler.Batch{}, false
	}
	s.pulls++
	return s.batches[cursor.Index], true
}

// TotalBatches implements scheduler.BatchSource.
func (s *SliceSource) TotalBatches(int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Pulls 成功产出的批次总数
func (s *SliceSource) Pulls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls
}

// IDs 返回全部批次 ID
func (s *SliceSource) IDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, len(s.batches))
	for i, b := range s.batches {
		ids[i] = b.ID
	}
	return ids
}
