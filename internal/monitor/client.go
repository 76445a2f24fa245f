// Package monitor publishes training snapshots to Redis.
// This package is internal and should not be imported by external projects.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/hivetrain/config"
	"github.com/BaSui01/hivetrain/internal/tlsutil"
)

var (
	// ErrClientClosed 客户端已关闭
	ErrClientClosed = errors.New("monitor client is closed")
	// ErrNoSnapshot 尚未发布任何快照
	ErrNoSnapshot = errors.New("no snapshot published yet")
)

// =============================================================================
// 🔗 Redis 客户端
// =============================================================================

// Client 持有 Redis 连接，负责健康检查与优雅关闭
type Client struct {
	redis  *redis.Client
	config config.RedisConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// ClientOption Client 选项
type ClientOption func(*clientOptions)

type clientOptions struct {
	healthInterval time.Duration
	dialTimeout    time.Duration
}

// WithHealthCheckInterval 后台 Ping 间隔，0 关闭
func WithHealthCheckInterval(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.healthInterval = d }
}

// WithDialTimeout 初次连接的超时
func WithDialTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.dialTimeout = d }
}

// NewClient 连接 Redis 并确认可用
func NewClient(cfg config.RedisConfig, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := clientOptions{healthInterval: 30 * time.Second, dialTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	redisOpts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  o.dialTimeout,
	}
	if cfg.TLS {
		redisOpts.TLSConfig = tlsutil.RedisTLSConfig(cfg.Addr)
	}
	client := redis.NewClient(redisOpts)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), o.dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := &Client{
		redis:  client,
		config: cfg,
		logger: logger.With(zap.String("component", "monitor")),
		stop:   make(chan struct{}),
	}
	if o.healthInterval > 0 {
		c.wg.Add(1)
		go c.healthCheckLoop(o.healthInterval)
	}

	c.logger.Info("redis monitor client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize),
		zap.Bool("tls", cfg.TLS),
	)
	return c, nil
}

// Ping 检查 Redis 连接
func (c *Client) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.redis.Ping(ctx).Err()
}

// setAndPublish 原子地写入最新快照并广播
func (c *Client) setAndPublish(ctx context.Context, key, channel string, payload []byte, ttl time.Duration) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}

	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, key, payload, ttl)
	pipe.Publish(ctx, channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// get 读取键，不存在时返回 ErrNoSnapshot
func (c *Client) get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClientClosed
	}

	val, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return val, nil
}

// subscribe 订阅频道；返回的 PubSub 由调用方关闭
func (c *Client) subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	ps := c.redis.Subscribe(ctx, channel)
	// 等待订阅确认，确保之后的 PUBLISH 不会丢失
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return ps, nil
}

// Close 停止健康检查并关闭连接。幂等。
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("closing redis monitor client")
	return c.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (c *Client) healthCheckLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Ping(ctx); err != nil && !errors.Is(err, ErrClientClosed) {
			c.logger.Error("redis health check failed", zap.Error(err))
		} else {
			c.logger.Debug("redis health check passed")
		}
		cancel()
	}
}
