package scheduler

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// =============================================================================
// 📥 WorkQueue: 有界无锁环形队列
// =============================================================================

const cacheLinePad = 64

// queueSlot 每个槽位带一个序号，生产者写入后以 release 语义发布，
// 消费者以 acquire 语义读取，因此不会观察到写入与提交之间的中间态。
//
// 序号编码：位置 p 空闲时为 2p，已写入时为 2p+1。
// 偶/奇区分保证容量为 1 时"已写入"与"下一圈空闲"不会撞号。
type queueSlot struct {
	seq   atomic.Uint64
	batch Batch
}

// WorkQueue 一个 epoch 内唯一的批次分发来源。
//
// Push 在 tail 上 CAS，Pop 在 head 上 CAS；两个游标单调递增，按容量取模。
// Pop 从不阻塞，调用方通过 PopWait 选择自旋/让出/休眠策略。
type WorkQueue struct {
	_    [cacheLinePad]byte
	head atomic.Uint64
	_    [cacheLinePad - 8]byte
	tail atomic.Uint64
	_    [cacheLinePad - 8]byte
	done atomic.Bool

	capacity uint64
	slots    []queueSlot
}

// NewWorkQueue creates a queue holding at most capacity unconsumed batches.
func NewWorkQueue(capacity int) *WorkQueue {
	if capacity < 1 {
		structuralf("work queue capacity must be >= 1, got %d", capacity)
	}
	q := &WorkQueue{
		capacity: uint64(capacity),
		slots:    make([]queueSlot, capacity),
	}
	q.initSlots()
	return q
}

func (q *WorkQueue) initSlots() {
	for i := range q.slots {
		q.slots[i].seq.Store(freeStamp(uint64(i)))
		q.slots[i].batch = Batch{}
	}
}

func freeStamp(pos uint64) uint64 { return pos << 1 }

func fullStamp(pos uint64) uint64 { return pos<<1 | 1 }

// Cap returns the fixed capacity.
func (q *WorkQueue) Cap() int { return int(q.capacity) }

// Len returns the number of reserved-but-unconsumed slots (approximate under contention).
func (q *WorkQueue) Len() int {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Push 入队；队列已满或已 MarkDone 时返回 false
func (q *WorkQueue) Push(b Batch) bool {
	if q.done.Load() {
		return false
	}
	for {
		tail := q.tail.Load()
		slot := &q.slots[tail%q.capacity]
		seq := slot.seq.Load()
		switch diff := int64(seq) - int64(freeStamp(tail)); {
		case diff == 0:
			if q.tail.CompareAndSwap(tail, tail+1) {
				slot.batch = b
				slot.seq.Store(fullStamp(tail))
				return true
			}
		case diff < 0:
			// 消费者尚未回收该槽位
			return false
		}
	}
}

// Pop 出队；队列为空时立即返回 false
func (q *WorkQueue) Pop() (Batch, bool) {
	for {
		head := q.head.Load()
		slot := &q.slots[head%q.capacity]
		seq := slot.seq.Load()
		switch diff := int64(seq) - int64(fullStamp(head)); {
		case diff == 0:
			if q.head.CompareAndSwap(head, head+1) {
				b := slot.batch
				slot.batch = Batch{}
				slot.seq.Store(freeStamp(head + q.capacity))
				return b, true
			}
		case diff < 0:
			return Batch{}, false
		}
	}
}

// MarkDone 生产者声明本 epoch 不再入队
func (q *WorkQueue) MarkDone() { q.done.Store(true) }

// IsDone reports whether MarkDone has been called.
func (q *WorkQueue) IsDone() bool { return q.done.Load() }

// IsDrained 已 MarkDone 且全部批次都已被取走
func (q *WorkQueue) IsDrained() bool {
	if !q.done.Load() {
		return false
	}
	return q.head.Load() >= q.tail.Load()
}

// Reset 清空队列以开始下一个 epoch。
// 只能在所有消费者都停在屏障上时由控制节点调用。
func (q *WorkQueue) Reset() {
	q.head.Store(0)
	q.tail.Store(0)
	q.initSlots()
	q.done.Store(false)
}

// =============================================================================
// ⏳ 等待策略
// =============================================================================

// ParkPolicy 空队列时的有界自旋-让出-休眠策略
type ParkPolicy struct {
	Spins   int           `json:"spins"`
	Yields  int           `json:"yields"`
	Park    time.Duration `json:"park"`
	MaxPark time.Duration `json:"max_park"`
}

// DefaultParkPolicy returns the policy used when none is configured.
func DefaultParkPolicy() ParkPolicy {
	return ParkPolicy{
		Spins:   64,
		Yields:  16,
		Park:    50 * time.Microsecond,
		MaxPark: time.Millisecond,
	}
}

// PopWait 取下一个批次。
// 返回 false 表示队列已排空且已完成，或 stop() 为真，或 ctx 已取消。
func (q *WorkQueue) PopWait(ctx context.Context, policy ParkPolicy, stop func() bool) (Batch, bool) {
	park := policy.Park
	for attempt := 0; ; attempt++ {
		if b, ok := q.Pop(); ok {
			return b, true
		}
		if q.IsDrained() {
			return Batch{}, false
		}
		if stop != nil && stop() {
			return Batch{}, false
		}
		switch {
		case attempt < policy.Spins:
		case attempt < policy.Spins+policy.Yields:
			runtime.Gosched()
		default:
			if !sleepCtx(ctx, park) {
				return Batch{}, false
			}
			if park *= 2; park > policy.MaxPark {
				park = policy.MaxPark
			}
		}
	}
}

// newPushBackOff 队列满时的有界指数退避
func newPushBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Microsecond
	bo.MaxInterval = 2 * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	return bo
}

// PushWait 入队，满时按退避重试。返回重试次数。
// 队列满属于瞬时错误，只有 ctx 取消、stop() 为真或队列已完成才会失败。
func (q *WorkQueue) PushWait(ctx context.Context, b Batch, bo backoff.BackOff, stop func() bool) (int, error) {
	if bo == nil {
		bo = newPushBackOff()
	}
	bo.Reset()
	for retries := 0; ; retries++ {
		if q.Push(b) {
			return retries, nil
		}
		if q.done.Load() {
			return retries, ErrQueueDone
		}
		if stop != nil && stop() {
			return retries, errStepStopped
		}
		d := bo.NextBackOff()
		if d == backoff.Stop {
			d = 2 * time.Millisecond
		}
		if !sleepCtx(ctx, d) {
			return retries, ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
