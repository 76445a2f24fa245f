package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hivetrain/config"
	"github.com/BaSui01/hivetrain/scheduler"
	"github.com/BaSui01/hivetrain/testutil"
	"github.com/BaSui01/hivetrain/trainer"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type publishLog struct {
	mu      sync.Mutex
	ok, bad int
}

func (l *publishLog) RecordSnapshotPublish(sink string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.bad++
		return
	}
	l.ok++
}

func setupTestRedis(t *testing.T, mutate func(*config.RedisConfig)) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.DefaultRedisConfig()
	cfg.Enabled = true
	cfg.Addr = mr.Addr()
	cfg.PublishRate = 0
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := NewClient(cfg, zap.NewNop(), WithHealthCheckInterval(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func runningUpdate(epoch int, loss float64) trainer.Update {
	return trainer.Update{
		RunID:    "run-1",
		Status:   trainer.Status{RunID: "run-1", State: trainer.StateRunning, EpochsDone: epoch},
		Result:   &scheduler.EpochResult{Epoch: epoch, Batches: 8, EpochLoss: loss, Applied: true},
		Snapshot: scheduler.Snapshot{Workers: 4, Depth: 2},
	}
}

// =============================================================================
// 🧪 Client 测试
// =============================================================================

func TestNewClient(t *testing.T) {
	_, client := setupTestRedis(t, nil)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := config.DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	_, err := NewClient(cfg, nil, WithDialTimeout(200*time.Millisecond))
	assert.Error(t, err)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	client, err := NewClient(cfg, zap.NewNop(), WithHealthCheckInterval(10*time.Millisecond))
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.ErrorIs(t, client.Ping(context.Background()), ErrClientClosed)
}

// =============================================================================
// 🧪 RedisPublisher 测试
// =============================================================================

func TestRedisPublisher_PublishAndLatest(t *testing.T) {
	mr, client := setupTestRedis(t, func(c *config.RedisConfig) { c.SnapshotTTL = time.Minute })
	rec := &publishLog{}
	p := NewRedisPublisher(client, WithPublishRecorder(rec))
	ctx := context.Background()

	_, err := p.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, p.Publish(ctx, runningUpdate(1, 0.5)))
	require.NoError(t, p.Publish(ctx, runningUpdate(2, 0.25)))

	latest, err := p.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest.RunID)
	assert.Equal(t, 2, latest.Result.Epoch)
	assert.Equal(t, 0.25, latest.Result.EpochLoss)
	assert.Equal(t, 4, latest.Snapshot.Workers)

	assert.True(t, mr.Exists(client.config.SnapshotKey))
	assert.Equal(t, time.Minute, mr.TTL(client.config.SnapshotKey))
	assert.Equal(t, 2, rec.ok)
}

func TestRedisPublisher_Subscribe(t *testing.T) {
	_, client := setupTestRedis(t, nil)
	p := NewRedisPublisher(client)

	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()
	updates, err := p.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, runningUpdate(3, 0.1)))

	u, ok := testutil.WaitForChannel(updates, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, 3, u.Result.Epoch)

	cancel()
	assert.True(t, testutil.WaitFor(func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, 2*time.Second), "channel closes when ctx ends")
}

func TestRedisPublisher_RateLimitKeepsTerminalUpdates(t *testing.T) {
	_, client := setupTestRedis(t, func(c *config.RedisConfig) { c.PublishRate = 0.001 })
	rec := &publishLog{}
	p := NewRedisPublisher(client, WithPublishRecorder(rec))
	ctx := context.Background()

	// 令牌桶容量为 1：第一个更新发布，后续运行中更新被丢弃
	for i := 1; i <= 5; i++ {
		require.NoError(t, p.Publish(ctx, runningUpdate(i, 1)))
	}
	assert.Equal(t, 1, rec.ok)

	failed := runningUpdate(6, 0)
	failed.Result = nil
	failed.Error = "non-finite gradients"
	require.NoError(t, p.Publish(ctx, failed))

	done := runningUpdate(7, 0.01)
	done.Status.State = trainer.StateCompleted
	require.NoError(t, p.Publish(ctx, done))
	assert.Equal(t, 3, rec.ok)

	latest, err := p.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, trainer.StateCompleted, latest.Status.State)
}

func TestRedisPublisher_SetRate(t *testing.T) {
	_, client := setupTestRedis(t, func(c *config.RedisConfig) { c.PublishRate = 0.001 })
	rec := &publishLog{}
	p := NewRedisPublisher(client, WithPublishRecorder(rec))
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, runningUpdate(1, 1)))
	require.NoError(t, p.Publish(ctx, runningUpdate(2, 1)))
	assert.Equal(t, 1, rec.ok)

	p.SetRate(0)
	for i := 3; i <= 5; i++ {
		require.NoError(t, p.Publish(ctx, runningUpdate(i, 1)))
	}
	assert.Equal(t, 4, rec.ok, "unlimited after SetRate(0)")
}

func TestRedisPublisher_ErrorsAreRecorded(t *testing.T) {
	mr, client := setupTestRedis(t, nil)
	rec := &publishLog{}
	p := NewRedisPublisher(client, WithPublishRecorder(rec))

	mr.SetError("READONLY replica")
	err := p.Publish(context.Background(), runningUpdate(1, 1))
	require.Error(t, err)
	assert.Equal(t, 1, rec.bad)

	mr.SetError("")
	require.NoError(t, client.Close())
	err = p.Publish(context.Background(), runningUpdate(2, 1))
	assert.True(t, errors.Is(err, ErrClientClosed))
	assert.Equal(t, 2, rec.bad)
}

func TestRedisPublisher_LatestMalformed(t *testing.T) {
	mr, client := setupTestRedis(t, nil)
	p := NewRedisPublisher(client)
	require.NoError(t, mr.Set(client.config.SnapshotKey, "{not json"))

	_, err := p.Latest(context.Background())
	assert.Error(t, err)
}

func TestRedisPublisher_WithTrainer(t *testing.T) {
	_, client := setupTestRedis(t, nil)
	p := NewRedisPublisher(client)
	ctx := testutil.TestContext(t)

	sub, err := p.Subscribe(ctx)
	require.NoError(t, err)

	tr, err := trainer.New(stubStepper{}, trainer.Config{
		Schedule:               trainer.ConstantSchedule(0.1),
		MaxConsecutiveFailures: 1,
	}, trainer.WithPublisher(p))
	require.NoError(t, err)

	_, err = tr.Run(ctx, 2)
	require.NoError(t, err)

	// 更新在 epoch 计数前发布，所以第 i 个更新看到 i-1 个已完成 epoch
	for i := 1; i <= 2; i++ {
		u, ok := testutil.WaitForChannel(sub, 2*time.Second)
		require.True(t, ok)
		require.NotNil(t, u.Result)
		assert.Equal(t, i-1, u.Status.EpochsDone)
		assert.Equal(t, 1, u.Snapshot.Workers)
	}
}

// stubStepper 每个 epoch 都成功的最小 Stepper
type stubStepper struct{}

func (stubStepper) RunEpoch(context.Context) (*scheduler.EpochResult, error) {
	return &scheduler.EpochResult{Batches: 1, EpochLoss: 1, Applied: true}, nil
}
func (stubStepper) SetHyperParams(float64, float64) error { return nil }
func (stubStepper) HyperParams() (float64, float64)       { return 0.1, 0 }
func (stubStepper) Weights() []float64                    { return []float64{0} }
func (stubStepper) RestoreWeights([]float64) error        { return nil }
func (stubStepper) Snapshot() scheduler.Snapshot          { return scheduler.Snapshot{Workers: 1} }
func (stubStepper) Config() scheduler.Config              { return scheduler.Config{Workers: 1, Fanout: 1} }
