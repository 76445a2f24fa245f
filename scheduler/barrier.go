package scheduler

import (
	"context"
	"sync"
)

// =============================================================================
// 🚧 Barrier: 按代计数、可中止的可复用屏障
// =============================================================================

// barrierRound 一代屏障。release 被关闭即释放本代全部等待者。
type barrierRound struct {
	release chan struct{}
	aborted bool
}

// Barrier 组内同步点，参与方为 “组内 worker 数 + 1 个控制协程”。
//
// 每一代有独立的 release 通道，避免上一代的唤醒被下一代误用；
// Abort 以取消结果唤醒当前所有等待者，之后的 Await 立即返回 ErrBarrierAborted。
type Barrier struct {
	mu      sync.Mutex
	parties int
	arrived int
	gen     uint64
	round   *barrierRound
	broken  bool
}

// NewBarrier creates a barrier for exactly parties participants.
// The size is fixed for the barrier's lifetime.
func NewBarrier(parties int) *Barrier {
	if parties < 1 {
		structuralf("barrier needs at least one party, got %d", parties)
	}
	return &Barrier{
		parties: parties,
		round:   &barrierRound{release: make(chan struct{})},
	}
}

// Parties returns the fixed group size.
func (b *Barrier) Parties() int { return b.parties }

// Generation returns how many times the barrier has released.
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// Waiting returns the number of participants parked in the current generation.
func (b *Barrier) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// Broken reports whether Abort has been called.
func (b *Barrier) Broken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}

// Await 到达屏障并阻塞，直到本代所有参与方到达或屏障被中止。
// 返回到达时所在的代号。ctx 取消会中止整个屏障，因为少一个参与方的
// 屏障永远无法再正常释放。
func (b *Barrier) Await(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	if b.broken {
		gen := b.gen
		b.mu.Unlock()
		return gen, ErrBarrierAborted
	}
	gen := b.gen
	r := b.round
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.gen++
		b.round = &barrierRound{release: make(chan struct{})}
		b.mu.Unlock()
		close(r.release)
		return gen, nil
	}
	b.mu.Unlock()

	select {
	case <-r.release:
		if r.aborted {
			return gen, ErrBarrierAborted
		}
		return gen, nil
	case <-ctx.Done():
		b.Abort()
		return gen, ctx.Err()
	}
}

// Abort 中止屏障：唤醒所有等待者并返回 ErrBarrierAborted。幂等。
func (b *Barrier) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken {
		return
	}
	b.broken = true
	b.round.aborted = true
	close(b.round.release)
}
