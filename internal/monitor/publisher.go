package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/hivetrain/internal/pool"
	"github.com/BaSui01/hivetrain/trainer"
)

// sinkName 指标标签
const sinkName = "redis"

// PublishRecorder 记录发布结果，由 metrics.Collector 实现
type PublishRecorder interface {
	RecordSnapshotPublish(sink string, err error)
}

// =============================================================================
// 📡 RedisPublisher
// =============================================================================

// RedisPublisher 实现 trainer.Publisher：
// 把最新 Update 写入 SnapshotKey，并 PUBLISH 到 Channel。
//
// 发布频率受令牌桶限制；超出速率的中间更新被丢弃，
// 但失败与终态更新总是发布，保证订阅方能看到最终状态。
type RedisPublisher struct {
	client   *Client
	key      string
	channel  string
	ttl      time.Duration
	limiter  *rate.Limiter
	recorder PublishRecorder
	logger   *zap.Logger
}

// PublisherOption RedisPublisher 选项
type PublisherOption func(*RedisPublisher)

// WithPublishRecorder 设置发布指标
func WithPublishRecorder(r PublishRecorder) PublisherOption {
	return func(p *RedisPublisher) { p.recorder = r }
}

// NewRedisPublisher 按 client 的配置创建发布器。PublishRate<=0 表示不限速。
func NewRedisPublisher(client *Client, opts ...PublisherOption) *RedisPublisher {
	cfg := client.config
	limit := rate.Inf
	burst := 1
	if cfg.PublishRate > 0 {
		limit = rate.Limit(cfg.PublishRate)
		burst = max(1, int(cfg.PublishRate))
	}
	p := &RedisPublisher{
		client:  client,
		key:     cfg.SnapshotKey,
		channel: cfg.Channel,
		ttl:     cfg.SnapshotTTL,
		limiter: rate.NewLimiter(limit, burst),
		logger:  client.logger.With(zap.String("sink", sinkName)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ trainer.Publisher = (*RedisPublisher)(nil)

// Publish implements trainer.Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, update trainer.Update) error {
	if !mustDeliver(update) && !p.limiter.Allow() {
		return nil
	}

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(update); err != nil {
		p.record(err)
		return fmt.Errorf("encode update: %w", err)
	}

	err := p.client.setAndPublish(ctx, p.key, p.channel, buf.Bytes(), p.ttl)
	p.record(err)
	if err != nil {
		p.logger.Warn("snapshot publish failed", zap.String("run_id", update.RunID), zap.Error(err))
		return err
	}
	return nil
}

// SetRate 调整每秒发布上限，<=0 表示不限速
func (p *RedisPublisher) SetRate(perSecond float64) {
	if perSecond <= 0 {
		p.limiter.SetLimit(rate.Inf)
		return
	}
	p.limiter.SetBurst(max(1, int(perSecond)))
	p.limiter.SetLimit(rate.Limit(perSecond))
}

func (p *RedisPublisher) record(err error) {
	if p.recorder != nil {
		p.recorder.RecordSnapshotPublish(sinkName, err)
	}
}

// mustDeliver 失败的 epoch 与非运行态的更新不受限速影响
func mustDeliver(u trainer.Update) bool {
	return u.Error != "" || u.Status.State != trainer.StateRunning
}

// Latest 读取最近一次发布的 Update
func (p *RedisPublisher) Latest(ctx context.Context) (*trainer.Update, error) {
	data, err := p.client.get(ctx, p.key)
	if err != nil {
		return nil, err
	}
	var u trainer.Update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &u, nil
}

// Subscribe 订阅后续发布的 Update，ctx 结束时关闭返回的通道。
// 无法解析的消息被跳过。
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan trainer.Update, error) {
	ps, err := p.client.subscribe(ctx, p.channel)
	if err != nil {
		return nil, err
	}
	out := make(chan trainer.Update, 16)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var u trainer.Update
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					p.logger.Debug("skipping malformed snapshot message", zap.Error(err))
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
