package scheduler

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// =============================================================================
// 🎛️ ControlNode: 组编排
// =============================================================================

// memberResult 子节点在本轮的局部结果，只由该子节点写入自己的下标
type memberResult struct {
	lossSum float64
	batches int
}

// roundResult 一轮组协议的汇总
type roundResult struct {
	lossSum float64
	batches int
	seeded  int
	retries int
}

// group 一个 Branch 节点与其子节点组成的同步组。
//
// group 不持有 Model：控制协程在结构上无法进入 Computing。
type group struct {
	owner    *Node
	members  []*Node
	queue    *WorkQueue
	barrier  *Barrier
	buffer   *GradientBuffer
	partials [][]float64
	results  []memberResult
	// ctx 与 epoch 在起始屏障前写入，成员在屏障后读取
	ctx   context.Context
	epoch int

	failure  atomic.Pointer[errorBox]
	shutdown *atomic.Bool
	policy   ParkPolicy
	logger   *zap.Logger
	recorder Recorder
}

func newGroup(owner *Node, paramCount, queueCapacity int, shutdown *atomic.Bool, policy ParkPolicy, logger *zap.Logger, recorder Recorder) *group {
	members := owner.Children()
	if len(members) == 0 {
		structuralf("branch %s has no children", owner.Path)
	}
	g := &group{
		owner:    owner,
		members:  members,
		queue:    NewWorkQueue(queueCapacity),
		barrier:  NewBarrier(len(members) + 1),
		buffer:   NewGradientBuffer(paramCount, len(members)),
		partials: make([][]float64, len(members)),
		results:  make([]memberResult, len(members)),
		shutdown: shutdown,
		policy:   policy,
		logger:   logger.With(zap.String("group", owner.Path)),
		recorder: recorder,
	}
	for i, m := range members {
		if m.Index != i {
			structuralf("member %s has index %d, want %d", m.Path, m.Index, i)
		}
		g.partials[i] = make([]float64, paramCount)
	}
	if g.barrier.Parties() != len(g.members)+1 {
		structuralf("barrier for %s sized %d, want %d", owner.Path, g.barrier.Parties(), len(g.members)+1)
	}
	return g
}

// fail 记录本轮第一个失败，之后所有成员停止拉取
func (g *group) fail(err error) {
	g.failure.CompareAndSwap(nil, &errorBox{err: err})
}

func (g *group) failed() error {
	if box := g.failure.Load(); box != nil {
		return box.err
	}
	return nil
}

// stopped 成员与控制在每次状态转换时检查
func (g *group) stopped() bool {
	return g.shutdown.Load() || g.failure.Load() != nil
}

// batchFeed 控制节点的批次来源：根为 BatchSource，分支为父组队列
type batchFeed interface {
	next(ctx context.Context) (Batch, bool)
}

// sourceFeed 从外部 BatchSource 顺序拉取
type sourceFeed struct {
	src    BatchSource
	cursor EpochCursor
}

func (f *sourceFeed) next(ctx context.Context) (Batch, bool) {
	if ctx.Err() != nil {
		return Batch{}, false
	}
	b, ok := f.src.NextBatch(f.cursor)
	if ok {
		f.cursor.Index++
	}
	return b, ok
}

// queueFeed 从父组队列拉取一段连续批次，最多 limit 个
type queueFeed struct {
	first  *Batch
	queue  *WorkQueue
	limit  int
	taken  int
	policy ParkPolicy
	stop   func() bool
}

func (f *queueFeed) next(ctx context.Context) (Batch, bool) {
	if f.first != nil {
		b := *f.first
		f.first = nil
		f.taken++
		return b, true
	}
	if f.limit > 0 && f.taken >= f.limit {
		return Batch{}, false
	}
	b, ok := f.queue.PopWait(ctx, f.policy, f.stop)
	if ok {
		f.taken++
	}
	return b, ok
}

// runRound 执行一轮组协议：
// SeedingQueue → WaitingForWorkers（排空屏障、完成屏障）→ Reducing 前的汇总。
// 归约与应用由调用方（根或分支）完成。屏障中止时返回 ErrShutdown。
func (g *group) runRound(ctx, lifetime context.Context, epoch int, feed batchFeed) (roundResult, error) {
	st := &g.owner.state
	g.queue.Reset()
	g.failure.Store(nil)
	g.ctx = ctx
	g.epoch = epoch

	st.setControl(ControlSeedingQueue)
	if _, err := g.barrier.Await(lifetime); err != nil {
		return roundResult{}, ErrShutdown
	}

	var res roundResult
	bo := newPushBackOff()
	for !g.stopped() {
		b, ok := feed.next(ctx)
		if !ok {
			break
		}
		retries, err := g.queue.PushWait(ctx, b, bo, g.stopped)
		res.retries += retries
		if err != nil {
			if ctx.Err() != nil {
				g.fail(ctx.Err())
			}
			break
		}
		res.seeded++
	}
	if ctx.Err() != nil {
		g.fail(ctx.Err())
	}
	g.queue.MarkDone()
	if res.retries > 0 {
		g.recorder.RecordPushRetries(g.owner.Level, res.retries)
	}

	st.setControl(ControlWaitingForWorkers)
	// 排空屏障：所有成员停止拉取
	if _, err := g.barrier.Await(lifetime); err != nil {
		return res, ErrShutdown
	}
	// 完成屏障：所有成员刷写完自己的段
	if _, err := g.barrier.Await(lifetime); err != nil {
		return res, ErrShutdown
	}

	st.setControl(ControlReducing)
	if err := g.failed(); err != nil {
		g.buffer.Zero()
		return res, err
	}
	for _, r := range g.results {
		res.lossSum += r.lossSum
		res.batches += r.batches
	}
	g.logger.Debug("round complete",
		zap.Int("seeded", res.seeded),
		zap.Int("batches", res.batches),
		zap.Int("push_retries", res.retries),
	)
	return res, nil
}

// abortBarriers 自顶向下中止屏障
func (g *group) abortBarriers() {
	g.barrier.Abort()
}
