package trainer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/hivetrain/checkpoint"
	"github.com/BaSui01/hivetrain/config"
	"github.com/BaSui01/hivetrain/internal/database"
	"github.com/BaSui01/hivetrain/internal/migration"
	"github.com/BaSui01/hivetrain/models/linreg"
	"github.com/BaSui01/hivetrain/scheduler"
	"github.com/BaSui01/hivetrain/testutil"
)

// =============================================================================
// 🧪 测试替身
// =============================================================================

// outcome 脚本化的一次 RunEpoch 结果
type outcome struct {
	loss  float64
	err   error
	empty bool
	block bool
}

type fakeStepper struct {
	mu      sync.Mutex
	script  []outcome
	calls   int
	lrs     []float64
	norms   []float64
	weights []float64
	lr      float64
	norm    float64
}

func newFakeStepper(script ...outcome) *fakeStepper {
	return &fakeStepper{script: script, weights: []float64{0, 0, 0}}
}

func (f *fakeStepper) RunEpoch(ctx context.Context) (*scheduler.EpochResult, error) {
	f.mu.Lock()
	o := outcome{loss: 1}
	if f.calls < len(f.script) {
		o = f.script[f.calls]
	}
	f.calls++
	epoch := f.calls
	lr := f.lr
	f.lrs = append(f.lrs, lr)
	f.norms = append(f.norms, f.norm)
	f.mu.Unlock()

	if o.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if o.err != nil {
		return nil, o.err
	}
	if o.empty {
		return &scheduler.EpochResult{Epoch: epoch, LearningRate: lr}, nil
	}
	f.mu.Lock()
	for i := range f.weights {
		f.weights[i] += 1
	}
	f.mu.Unlock()
	return &scheduler.EpochResult{Epoch: epoch, Batches: 4, EpochLoss: o.loss, Applied: true, LearningRate: lr}, nil
}

func (f *fakeStepper) SetHyperParams(lr, norm float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lr, f.norm = lr, norm
	return nil
}

func (f *fakeStepper) HyperParams() (float64, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lr, f.norm
}

func (f *fakeStepper) Weights() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return testutil.CopyFloats(f.weights)
}

func (f *fakeStepper) RestoreWeights(w []float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weights = testutil.CopyFloats(w)
	return nil
}

func (f *fakeStepper) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{Depth: 1, Workers: 2, Buffer: scheduler.BufferSnapshot{ParamCount: 3}}
}

func (f *fakeStepper) Config() scheduler.Config {
	return scheduler.Config{Workers: 2, Fanout: 2}
}

func (f *fakeStepper) learningRates() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.lrs...)
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []Update
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, u Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return p.err
}

func (p *recordingPublisher) all() []Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Update(nil), p.updates...)
}

type checkpointCounter struct {
	mu       sync.Mutex
	ok, fail int
}

func (c *checkpointCounter) RecordCheckpoint(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.fail++
		return
	}
	c.ok++
}

func newSQLiteStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", Name: filepath.Join(t.TempDir(), "trainer.db")}

	m, err := migration.NewMigratorFromDatabaseConfig(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, m.Close())

	pool, err := database.Open(cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return checkpoint.NewStore(pool, zap.NewNop())
}

func baseConfig() Config {
	return Config{
		Schedule:               ConstantSchedule(0.1),
		MaxGradNorm:            1,
		MaxConsecutiveFailures: 3,
	}
}

func newTrainer(t *testing.T, stepper Stepper, cfg Config, opts ...Option) *Trainer {
	t.Helper()
	tr, err := New(stepper, cfg, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	return tr
}

// =============================================================================
// 🧪 Trainer 测试
// =============================================================================

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, baseConfig())
	assert.Error(t, err)

	cfg := baseConfig()
	cfg.Schedule.BaseLR = 0
	_, err = New(newFakeStepper(), cfg)
	assert.Error(t, err)

	cfg = baseConfig()
	cfg.MaxGradNorm = -1
	_, err = New(newFakeStepper(), cfg)
	assert.Error(t, err)

	_, err = New(newFakeStepper(), baseConfig(), WithResume("abc"))
	assert.Error(t, err, "resume without a store")
}

func TestTrainer_RunCompletes(t *testing.T) {
	stepper := newFakeStepper(outcome{loss: 3}, outcome{loss: 2}, outcome{loss: 2.5}, outcome{loss: 1})
	cfg := baseConfig()
	cfg.Schedule = LRSchedule{BaseLR: 0.1, MinLR: 0.01, WarmupEpochs: 1, DecayEpochs: 4}
	tr := newTrainer(t, stepper, cfg)

	status, err := tr.Run(testutil.TestContext(t), 4)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, ReasonCompleted, status.StopReason)
	assert.Equal(t, 4, status.EpochsDone)
	assert.NotEmpty(t, status.RunID)
	require.NotNil(t, status.BestLoss)
	assert.Equal(t, 1.0, *status.BestLoss)
	assert.Equal(t, 1.0, *status.LastLoss)
	assert.NotNil(t, status.FinishedAt)
	assert.False(t, tr.Running())

	lrs := stepper.learningRates()
	require.Len(t, lrs, 4)
	for i, lr := range lrs {
		assert.InDelta(t, cfg.Schedule.At(i), lr, 1e-12, "epoch %d", i)
	}

	hist := tr.History(0)
	require.Len(t, hist, 4)
	assert.Equal(t, 1, hist[0].Epoch)
	assert.Equal(t, 3.0, hist[0].Loss)
	assert.Len(t, tr.History(2), 2)
	assert.Equal(t, 4, tr.History(2)[1].Epoch)
}

func TestTrainer_RecoverableFailuresSkipStep(t *testing.T) {
	numeric := &scheduler.NumericError{Where: "gradients", Index: 1}
	apply := &scheduler.ApplyError{Epoch: 3, Cause: errors.New("optimizer state")}
	stepper := newFakeStepper(
		outcome{loss: 2},
		outcome{err: numeric},
		outcome{err: apply},
		outcome{loss: 1},
		outcome{err: numeric},
		outcome{loss: 0.5},
	)
	tr := newTrainer(t, stepper, baseConfig())

	status, err := tr.Run(testutil.TestContext(t), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, status.EpochsDone)
	assert.Equal(t, 6, status.Attempts)
	assert.Equal(t, 0, status.ConsecutiveFailures)

	hist := tr.History(0)
	require.Len(t, hist, 6)
	assert.Equal(t, "NUMERIC_INVALID", hist[1].ErrorCode)
	assert.Equal(t, "APPLY_FAILED", hist[2].ErrorCode)
	// 失败的尝试不推进 epoch 编号
	assert.Equal(t, 2, hist[1].Epoch)
	assert.Equal(t, 2, hist[3].Epoch)
}

func TestTrainer_TooManyFailures(t *testing.T) {
	numeric := &scheduler.NumericError{Where: "weights"}
	stepper := newFakeStepper(outcome{loss: 1}, outcome{err: numeric}, outcome{err: numeric}, outcome{err: numeric})
	tr := newTrainer(t, stepper, baseConfig())

	status, err := tr.Run(testutil.TestContext(t), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyFailures)
	var numErr *scheduler.NumericError
	assert.ErrorAs(t, err, &numErr)
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, ReasonTooManyFailures, status.StopReason)
	assert.Equal(t, 1, status.EpochsDone)
	assert.Equal(t, 3, status.ConsecutiveFailures)
}

func TestTrainer_FatalErrorStops(t *testing.T) {
	batchErr := &scheduler.BatchError{BatchID: 7, NodePath: "0.1", Cause: errors.New("bad shard")}
	stepper := newFakeStepper(outcome{loss: 1}, outcome{err: batchErr})
	tr := newTrainer(t, stepper, baseConfig())

	status, err := tr.Run(testutil.TestContext(t), 10)
	var be *scheduler.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, ReasonFatal, status.StopReason)
	assert.Contains(t, status.Error, "bad shard")
	assert.Equal(t, 2, stepper.calls)
}

func TestTrainer_ShutdownIsFatal(t *testing.T) {
	tr := newTrainer(t, newFakeStepper(outcome{err: scheduler.ErrShutdown}), baseConfig())
	_, err := tr.Run(testutil.TestContext(t), 3)
	assert.ErrorIs(t, err, scheduler.ErrShutdown)
}

func TestTrainer_EpochTimeoutIsRecoverable(t *testing.T) {
	stepper := newFakeStepper(outcome{block: true}, outcome{loss: 1})
	cfg := baseConfig()
	cfg.EpochTimeout = 20 * time.Millisecond
	tr := newTrainer(t, stepper, cfg)

	status, err := tr.Run(testutil.TestContext(t), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, status.EpochsDone)
	assert.Equal(t, "TIMEOUT", tr.History(0)[0].ErrorCode)
}

func TestTrainer_EmptySourceCompletes(t *testing.T) {
	tr := newTrainer(t, newFakeStepper(outcome{empty: true}), baseConfig())
	status, err := tr.Run(testutil.TestContext(t), 5)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 0, status.EpochsDone)
}

func TestTrainer_EarlyStop(t *testing.T) {
	stepper := newFakeStepper(outcome{loss: 1}, outcome{loss: 1}, outcome{loss: 1}, outcome{loss: 0.1})
	cfg := baseConfig()
	cfg.EarlyStopPatience = 2
	tr := newTrainer(t, stepper, cfg)

	status, err := tr.Run(testutil.TestContext(t), 10)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, ReasonEarlyStop, status.StopReason)
	assert.Equal(t, 3, status.EpochsDone)
}

func TestTrainer_StopWhileRunning(t *testing.T) {
	stepper := newFakeStepper(outcome{loss: 1}, outcome{block: true})
	tr := newTrainer(t, stepper, baseConfig())
	assert.False(t, tr.Stop("idle"), "nothing to stop")

	type runResult struct {
		status Status
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		s, err := tr.Run(context.Background(), 10)
		done <- runResult{s, err}
	}()

	require.True(t, testutil.WaitFor(func() bool {
		stepper.mu.Lock()
		defer stepper.mu.Unlock()
		return stepper.calls == 2
	}, 2*time.Second))
	assert.True(t, tr.Stop("operator"))

	res, ok := testutil.WaitForChannel(done, 2*time.Second)
	require.True(t, ok)
	require.NoError(t, res.err)
	assert.Equal(t, StateStopped, res.status.State)
	assert.Equal(t, "operator", res.status.StopReason)
	assert.Equal(t, 1, res.status.EpochsDone)
}

func TestTrainer_ContextCancelled(t *testing.T) {
	stepper := newFakeStepper(outcome{block: true})
	tr := newTrainer(t, stepper, baseConfig())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	status, err := tr.Run(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, status.StopReason)
}

func TestTrainer_RejectsConcurrentRun(t *testing.T) {
	stepper := newFakeStepper(outcome{block: true})
	tr := newTrainer(t, stepper, baseConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = tr.Run(ctx, 1) }()
	require.True(t, testutil.WaitFor(tr.Running, time.Second))

	_, err := tr.Run(ctx, 1)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestTrainer_RunRejectsZeroEpochs(t *testing.T) {
	tr := newTrainer(t, newFakeStepper(), baseConfig())
	_, err := tr.Run(context.Background(), 0)
	assert.Error(t, err)
}

func TestTrainer_UpdateHyperParams(t *testing.T) {
	stepper := newFakeStepper()
	cfg := baseConfig()
	cfg.Schedule = LRSchedule{BaseLR: 0.1, MinLR: 0.05}
	tr := newTrainer(t, stepper, cfg)

	lr := 0.02
	norm := 5.0
	require.NoError(t, tr.UpdateHyperParams(&lr, &norm))
	assert.Equal(t, 0.02, tr.Schedule().BaseLR)
	assert.Equal(t, 0.02, tr.Schedule().MinLR, "min lr clamped to base")

	bad := -1.0
	assert.Error(t, tr.UpdateHyperParams(&bad, nil))
	assert.Error(t, tr.UpdateHyperParams(nil, &bad))
	assert.Equal(t, 0.02, tr.Schedule().BaseLR, "rejected update leaves state unchanged")

	_, err := tr.Run(testutil.TestContext(t), 1)
	require.NoError(t, err)
	lrNow, normNow := stepper.HyperParams()
	assert.Equal(t, 0.02, lrNow)
	assert.Equal(t, 5.0, normNow)
}

type publishFunc func(ctx context.Context, u Update) error

func (f publishFunc) Publish(ctx context.Context, u Update) error { return f(ctx, u) }

func TestTrainer_UpdatePolicy(t *testing.T) {
	cfg := baseConfig()
	cfg.Schedule = LRSchedule{BaseLR: 0.1, MinLR: 0.01, DecayEpochs: 10}
	stepper := newFakeStepper()

	var tr *Trainer
	// 第一个 epoch 之后把计划从 10 缩短到 3
	shrink := publishFunc(func(_ context.Context, u Update) error {
		if u.Status.EpochsDone == 1 {
			three := 3
			return tr.UpdatePolicy(PolicyUpdate{Epochs: &three})
		}
		return nil
	})
	tr = newTrainer(t, stepper, cfg, WithPublisher(shrink))

	neg := -1
	assert.Error(t, tr.UpdatePolicy(PolicyUpdate{CheckpointEvery: &neg}))
	zero := 0
	assert.Error(t, tr.UpdatePolicy(PolicyUpdate{Epochs: &zero}))
	tooHigh := 0.5
	assert.Error(t, tr.UpdatePolicy(PolicyUpdate{MinLearningRate: &tooHigh}))

	minLR, every, keep, patience := 0.02, 4, 2, 7
	require.NoError(t, tr.UpdatePolicy(PolicyUpdate{
		MinLearningRate:   &minLR,
		CheckpointEvery:   &every,
		KeepCheckpoints:   &keep,
		EarlyStopPatience: &patience,
	}))
	assert.Equal(t, 0.02, tr.Schedule().MinLR)

	status, err := tr.Run(testutil.TestContext(t), 10)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 3, status.EpochsDone)
	assert.Equal(t, 3, status.EpochsPlanned)
	assert.Equal(t, 3, tr.Schedule().DecayEpochs)
}

func TestTrainer_PublishesUpdates(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("sink down")}
	stepper := newFakeStepper(outcome{loss: 2}, outcome{err: &scheduler.NumericError{}}, outcome{loss: 1})
	tr := newTrainer(t, stepper, baseConfig(), WithPublisher(pub))

	_, err := tr.Run(testutil.TestContext(t), 2)
	require.NoError(t, err, "publish failures never stop training")

	updates := pub.all()
	require.Len(t, updates, 3)
	assert.Equal(t, 2.0, updates[0].Result.EpochLoss)
	assert.NotEmpty(t, updates[1].Error)
	assert.Nil(t, updates[1].Result)
	assert.Equal(t, 2, updates[2].Snapshot.Workers)
	assert.Equal(t, updates[0].RunID, updates[2].RunID)
}

func TestTrainer_OtelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	stepper := newFakeStepper(outcome{loss: 2}, outcome{err: &scheduler.NumericError{}}, outcome{loss: 1})
	tr := newTrainer(t, stepper, baseConfig(), WithMeter(provider.Meter("test")))
	_, err := tr.Run(testutil.TestContext(t), 2)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				assert.Equal(t, int64(3), total)
			case metricdata.Histogram[float64]:
				require.Len(t, data.DataPoints, 1)
				assert.Equal(t, uint64(2), data.DataPoints[0].Count)
			}
		}
	}
	assert.True(t, found["hivetrain.trainer.epochs"])
	assert.True(t, found["hivetrain.trainer.epoch_loss"])
}

func TestTrainer_CheckpointsAndResume(t *testing.T) {
	store := newSQLiteStore(t)
	counter := &checkpointCounter{}
	cfg := baseConfig()
	cfg.CheckpointEvery = 2
	cfg.KeepCheckpoints = 1

	stepper := newFakeStepper(outcome{loss: 4}, outcome{loss: 3}, outcome{loss: 2}, outcome{loss: 1}, outcome{loss: 0.5})
	tr := newTrainer(t, stepper, cfg, WithStore(store), WithCheckpointRecorder(counter))

	status, err := tr.Run(testutil.TestContext(t), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, counter.ok)
	assert.Equal(t, 0, counter.fail)

	ctx := context.Background()
	run, err := store.GetRun(ctx, status.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(StateCompleted), run.State)
	assert.Equal(t, 5, run.EpochsDone)
	require.NotNil(t, run.BestLoss)
	assert.Equal(t, 0.5, *run.BestLoss)

	records, err := store.History(ctx, status.RunID, 0)
	require.NoError(t, err)
	assert.Len(t, records, 5)

	// 只保留最新的一个检查点（epoch 4，权重各加了 4）
	ckpt, err := store.LatestCheckpoint(ctx, status.RunID)
	require.NoError(t, err)
	assert.Equal(t, 4, ckpt.Epoch)
	n, err := store.PruneCheckpoints(ctx, status.RunID, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	// 从检查点恢复：新 stepper 拿到 epoch 4 的权重，再训练 2 个 epoch
	resumed := newFakeStepper(outcome{loss: 0.4}, outcome{loss: 0.3})
	tr2 := newTrainer(t, resumed, cfg, WithStore(store), WithResume(status.RunID))
	status2, err := tr2.Run(testutil.TestContext(t), 6)
	require.NoError(t, err)
	assert.Equal(t, status.RunID, status2.RunID)
	assert.Equal(t, 6, status2.EpochsDone)
	assert.Equal(t, 2, resumed.calls)
	assert.Equal(t, []float64{6, 6, 6}, resumed.Weights())

	run, err = store.GetRun(ctx, status.RunID)
	require.NoError(t, err)
	assert.Equal(t, 6, run.EpochsDone)
	assert.Equal(t, 0.3, *run.BestLoss)
}

func TestTrainer_ResumeUnknownRun(t *testing.T) {
	store := newSQLiteStore(t)
	tr := newTrainer(t, newFakeStepper(), baseConfig(), WithStore(store), WithResume("missing"))
	status, err := tr.Run(testutil.TestContext(t), 1)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	assert.Equal(t, StateFailed, status.State)
}

func TestTrainer_WithSchedulerAndLinearModel(t *testing.T) {
	ds, err := linreg.NewDataset(linreg.DatasetConfig{Features: 4, Examples: 256, Noise: 0.01, Seed: 3})
	require.NoError(t, err)
	src, err := linreg.NewSyntheticSource(ds, 16, 5)
	require.NoError(t, err)
	model := linreg.NewModel(ds)

	s := scheduler.New(scheduler.Config{
		Workers: 4, Fanout: 2, MaxDepth: 4, QueueCapacity: 8, LearningRate: 0.1, MaxGradNorm: 5,
	}, model, src, make([]float64, ds.ParamCount()), scheduler.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
	})

	cfg := Config{
		Schedule:               LRSchedule{BaseLR: 0.4, MinLR: 0.05, WarmupEpochs: 2, DecayEpochs: 40},
		MaxGradNorm:            5,
		MaxConsecutiveFailures: 2,
		EpochTimeout:           10 * time.Second,
	}
	tr := newTrainer(t, s, cfg)
	initial := model.Loss(s.Weights())

	status, err := tr.Run(testutil.TestContext(t), 60)
	require.NoError(t, err)
	assert.Equal(t, 60, status.EpochsDone)
	assert.Less(t, *status.LastLoss, initial*0.01)
	testutil.AssertFloatsNear(t, ds.TrueParams(), s.Weights(), 0.05)
}
