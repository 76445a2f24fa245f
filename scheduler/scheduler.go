package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/hivetrain/internal/ctxkeys"
	"github.com/BaSui01/hivetrain/types"
)

const tracerName = "github.com/BaSui01/hivetrain/scheduler"

// =============================================================================
// 🧭 Scheduler
// =============================================================================

// Config 调度器的结构与超参数。worker 数量必须已解析为正数。
type Config struct {
	Workers       int
	Fanout        int
	MaxDepth      int
	QueueCapacity int
	MaxGradNorm   float64
	LearningRate  float64
	// ChunkSize 分支每轮子组最多处理的批次数，0 表示直到父队列排空
	ChunkSize     int
	LockOSThreads bool
}

// EpochResult 一次 RunEpoch 的结果
type EpochResult struct {
	Epoch        int           `json:"epoch"`
	Batches      int           `json:"batches"`
	EpochLoss    float64       `json:"epoch_loss"`
	GradientNorm float64       `json:"gradient_norm"`
	Clipped      bool          `json:"clipped"`
	Applied      bool          `json:"applied"`
	LearningRate float64       `json:"learning_rate"`
	Duration     time.Duration `json:"duration"`
}

type epochReply struct {
	result *EpochResult
	err    error
}

type epochRequest struct {
	ctx   context.Context
	reply chan epochReply
}

// Scheduler 拥有整棵层级树、权重与全部协程。没有包级可变状态。
type Scheduler struct {
	cfg     Config
	model   Model
	source  BatchSource
	weights *WeightStore

	root      *Node
	nodes     []*Node
	groups    map[int]*group
	rootGroup *group
	chunkSize int

	policy   ParkPolicy
	logger   *zap.Logger
	recorder Recorder
	tracer   trace.Tracer

	lrBits   atomic.Uint64
	normBits atomic.Uint64
	epoch    atomic.Int64
	last     atomic.Pointer[EpochResult]

	started  atomic.Bool
	shutdown atomic.Bool
	lifetime context.Context
	cancel   context.CancelFunc
	requests chan epochRequest
	done     chan struct{}
	waitErr  error

	// stepMu 在 epoch 执行期间持有，RestoreWeights 需要它
	stepMu sync.Mutex
}

// New 构建层级、队列、屏障与梯度缓冲。
//
// 构造期的结构错误（扇出、深度、屏障大小、分段重叠）以
// panic(*StructuralError) 报告；调用方如需 error 可使用 Build。
func New(cfg Config, model Model, source BatchSource, initialWeights []float64, opts ...Option) *Scheduler {
	if model == nil || source == nil {
		structuralf("model and batch source are required")
	}
	if len(initialWeights) == 0 {
		structuralf("initial weights must not be empty")
	}
	if cfg.QueueCapacity < 1 {
		structuralf("queue capacity must be >= 1, got %d", cfg.QueueCapacity)
	}
	if cfg.ChunkSize < 0 {
		structuralf("chunk size must be >= 0, got %d", cfg.ChunkSize)
	}
	if err := validateHyperParams(cfg.LearningRate, cfg.MaxGradNorm); err != nil {
		structuralf("%v", err)
	}
	if idx, v, bad := firstNonFinite(initialWeights); bad {
		structuralf("initial weight %d is %v", idx, v)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := &Scheduler{
		cfg:       cfg,
		model:     model,
		source:    source,
		weights:   NewWeightStore(initialWeights),
		groups:    make(map[int]*group),
		chunkSize: cfg.ChunkSize,
		policy:    o.policy,
		logger:    o.logger.With(zap.String("component", "scheduler")),
		recorder:  o.recorder,
		tracer:    o.tracer,
		requests:  make(chan epochRequest),
		done:      make(chan struct{}),
	}
	s.lifetime, s.cancel = context.WithCancel(context.Background())
	s.lrBits.Store(math.Float64bits(cfg.LearningRate))
	s.normBits.Store(math.Float64bits(cfg.MaxGradNorm))

	s.root = BuildHierarchy(cfg.Workers, cfg.Fanout, cfg.MaxDepth)
	s.root.Walk(func(n *Node) {
		s.nodes = append(s.nodes, n)
		if _, ok := n.Role.(Branch); ok {
			s.groups[n.ID] = newGroup(n, len(initialWeights), cfg.QueueCapacity, &s.shutdown, s.policy, s.logger, s.recorder)
		}
	})
	s.rootGroup = s.groups[s.root.ID]
	for _, n := range s.nodes {
		if n.IsRoot() {
			continue
		}
		g, ok := s.groups[n.ParentID]
		if !ok || n.Index >= len(g.members) || g.members[n.Index] != n {
			structuralf("node %s is not a member of its parent group", n.Path)
		}
	}

	s.logger.Info("scheduler built",
		zap.Int("workers", cfg.Workers),
		zap.Int("fanout", cfg.Fanout),
		zap.Int("depth", s.root.Depth()),
		zap.Int("nodes", len(s.nodes)),
		zap.Int("params", len(initialWeights)),
	)
	return s
}

// Build 与 New 相同，但把结构错误作为 error 返回
func Build(cfg Config, model Model, source BatchSource, initialWeights []float64, opts ...Option) (s *Scheduler, err error) {
	defer func() {
		if r := recover(); r != nil {
			var serr *StructuralError
			if e, ok := r.(error); ok && errors.As(e, &serr) {
				err = serr
				return
			}
			panic(r)
		}
	}()
	return New(cfg, model, source, initialWeights, opts...), nil
}

// Start 启动每个节点的协程。只能调用一次。
func (s *Scheduler) Start() error {
	if s.shutdown.Load() {
		return ErrShutdown
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}

	var eg errgroup.Group
	for _, n := range s.nodes {
		if n.IsRoot() {
			continue
		}
		g := s.groups[n.ParentID]
		eg.Go(func() error {
			if s.cfg.LockOSThreads {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
			}
			return s.memberLoop(n, g)
		})
	}
	eg.Go(func() error {
		if s.cfg.LockOSThreads {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
		}
		return s.rootLoop()
	})

	go func() {
		s.waitErr = eg.Wait()
		close(s.done)
	}()
	s.logger.Info("scheduler started", zap.Int("goroutines", len(s.nodes)))
	return nil
}

// RunEpoch 执行一个完整的训练步：播种、计算、归约、裁剪、应用。
// 并发调用按到达顺序串行执行。
func (s *Scheduler) RunEpoch(ctx context.Context) (*EpochResult, error) {
	if s.shutdown.Load() {
		return nil, ErrShutdown
	}
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	req := epochRequest{ctx: ctx, reply: make(chan epochReply, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrShutdown
	}
	r := <-req.reply
	return r.result, r.err
}

func (s *Scheduler) rootLoop() error {
	st := &s.root.state
	defer func() {
		st.setState(StateTerminating)
		st.setControl(ControlTerminated)
	}()
	for {
		select {
		case <-s.lifetime.Done():
			return nil
		case req := <-s.requests:
			res, err := s.runEpoch(req.ctx)
			req.reply <- epochReply{result: res, err: err}
			if errors.Is(err, ErrShutdown) {
				return nil
			}
		}
	}
}

func (s *Scheduler) runEpoch(ctx context.Context) (*EpochResult, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	start := time.Now()
	epoch := int(s.epoch.Add(1))
	lr, maxNorm := s.HyperParams()
	res := &EpochResult{Epoch: epoch, LearningRate: lr}

	attrs := []attribute.KeyValue{attribute.Int("epoch", epoch)}
	if runID, ok := ctxkeys.RunID(ctx); ok {
		attrs = append(attrs, attribute.String("run_id", runID))
	}
	ctx, span := s.tracer.Start(ctx, "scheduler.epoch", trace.WithAttributes(attrs...))
	defer span.End()
	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(s.lifetime, cancel)
	defer stopAfter()

	st := &s.root.state
	// 所有成员此时都停在起始屏障上；整棵树统一清零，未分到批次的分支也不会残留上个 epoch 的数据
	for _, n := range s.nodes {
		n.state.beginEpoch()
	}
	defer st.setControl(ControlIdle)

	err := s.step(stepCtx, res, maxNorm)
	if s.shutdown.Load() {
		err = ErrShutdown
	}
	res.Duration = time.Since(start)
	if err != nil {
		s.rootGroup.buffer.Zero()
		st.setError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recorder.RecordStepAbort(codeOf(err))
		s.logger.Warn("epoch aborted",
			zap.Int("epoch", epoch),
			zap.String("reason", codeOf(err)),
			zap.Error(err),
		)
	} else {
		s.last.Store(res)
		s.logger.Debug("epoch complete",
			zap.Int("epoch", epoch),
			zap.Int("batches", res.Batches),
			zap.Float64("loss", res.EpochLoss),
			zap.Float64("grad_norm", res.GradientNorm),
			zap.Bool("clipped", res.Clipped),
			zap.Duration("duration", res.Duration),
		)
	}
	s.recorder.RecordEpoch(*res, err)
	s.recorder.RecordNodeStates(s.stateCounts())
	if err != nil {
		return nil, err
	}
	return res, nil
}

// step 根控制节点的一轮：组协议 → Reducing → ApplyingUpdate
func (s *Scheduler) step(ctx context.Context, res *EpochResult, maxNorm float64) error {
	g := s.rootGroup
	st := &s.root.state
	feed := &sourceFeed{src: s.source, cursor: EpochCursor{Epoch: res.Epoch}}
	round, err := g.runRound(ctx, s.lifetime, res.Epoch, feed)
	if err != nil {
		return err
	}
	if round.batches != round.seeded {
		return types.NewError(types.ErrInternalError,
			fmt.Sprintf("seeded %d batches but %d were processed", round.seeded, round.batches))
	}
	res.Batches = round.batches
	st.publish(round.batches, round.lossSum)
	if round.batches == 0 {
		return nil
	}
	res.EpochLoss = round.lossSum / float64(round.batches)

	// Reducing
	_, rspan := s.tracer.Start(ctx, "scheduler.reduce")
	g.buffer.Scale(1 / float64(round.batches))
	norm, err := g.buffer.ReduceAndClip(maxNorm)
	rspan.End()
	if err != nil {
		var nerr *NumericError
		if errors.As(err, &nerr) {
			nerr.NodePath = s.root.Path
		}
		return err
	}
	res.GradientNorm = norm
	res.Clipped = maxNorm > 0 && norm > maxNorm*(1+clipTolerance)

	// ApplyingUpdate
	st.setControl(ControlApplyingUpdate)
	actx, aspan := s.tracer.Start(ctx, "scheduler.apply")
	defer aspan.End()
	view := s.weights.beginUpdate()
	if err := s.apply(actx, view, g.buffer.View(), res.LearningRate); err != nil {
		return &ApplyError{Epoch: res.Epoch, Cause: err}
	}
	if idx, v, bad := firstNonFinite(view.Values()); bad {
		return &NumericError{Where: "weights", Index: idx, Value: v, NodePath: s.root.Path}
	}
	s.weights.commit()
	g.buffer.Zero()
	res.Applied = true
	return nil
}

func (s *Scheduler) apply(ctx context.Context, view MutableView, reduced GradientView, lr float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errModelPanicked, r)
		}
	}()
	return s.model.ApplyGradients(ctx, view, reduced, lr)
}

// Shutdown 设置关闭标志，自顶向下中止屏障并等待所有协程退出
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.shutdown.CompareAndSwap(false, true) {
		s.cancel()
		for _, n := range s.nodes {
			if g, ok := s.groups[n.ID]; ok {
				g.abortBarriers()
			}
		}
		s.logger.Info("scheduler shutting down")
	}
	if !s.started.Load() {
		return nil
	}
	select {
	case <-s.done:
		return s.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once every node goroutine has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// SetHyperParams 原子更新学习率与裁剪阈值，下一个 epoch 生效
func (s *Scheduler) SetHyperParams(lr, maxGradNorm float64) error {
	if err := validateHyperParams(lr, maxGradNorm); err != nil {
		return types.NewError(types.ErrConfigInvalid, err.Error())
	}
	s.lrBits.Store(math.Float64bits(lr))
	s.normBits.Store(math.Float64bits(maxGradNorm))
	return nil
}

// HyperParams returns the learning rate and max gradient norm for the next epoch.
func (s *Scheduler) HyperParams() (lr, maxGradNorm float64) {
	return math.Float64frombits(s.lrBits.Load()), math.Float64frombits(s.normBits.Load())
}

func validateHyperParams(lr, maxNorm float64) error {
	if math.IsNaN(lr) || math.IsInf(lr, 0) || lr <= 0 {
		return fmt.Errorf("learning rate must be a positive finite number, got %v", lr)
	}
	if math.IsNaN(maxNorm) || math.IsInf(maxNorm, 0) || maxNorm < 0 {
		return fmt.Errorf("max grad norm must be a non-negative finite number, got %v", maxNorm)
	}
	return nil
}

// Weights 返回当前权重副本
func (s *Scheduler) Weights() []float64 { return s.weights.Snapshot() }

// RestoreWeights 在两个 epoch 之间覆盖权重（加载检查点）
func (s *Scheduler) RestoreWeights(w []float64) error {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	return s.weights.Restore(w)
}

// Root returns the hierarchy root.
func (s *Scheduler) Root() *Node { return s.root }

// Nodes returns every node in pre-order.
func (s *Scheduler) Nodes() []*Node {
	out := make([]*Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// Epoch returns the number of RunEpoch attempts so far.
func (s *Scheduler) Epoch() int { return int(s.epoch.Load()) }

// Config returns the construction config.
func (s *Scheduler) Config() Config { return s.cfg }

func (s *Scheduler) stateCounts() map[NodeState]int {
	counts := make(map[NodeState]int, len(nodeStateNames))
	for _, n := range s.nodes {
		counts[n.state.State()]++
	}
	return counts
}
