package scheduler

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Recorder 接收调度器的运行指标。internal/metrics.Collector 实现此接口。
type Recorder interface {
	RecordEpoch(result EpochResult, err error)
	RecordPushRetries(level, retries int)
	RecordStepAbort(reason string)
	RecordNodeStates(states map[NodeState]int)
}

type nopRecorder struct{}

func (nopRecorder) RecordEpoch(EpochResult, error)     {}
func (nopRecorder) RecordPushRetries(int, int)         {}
func (nopRecorder) RecordStepAbort(string)             {}
func (nopRecorder) RecordNodeStates(map[NodeState]int) {}

// Option 调度器构造选项
type Option func(*options)

type options struct {
	logger   *zap.Logger
	recorder Recorder
	tracer   trace.Tracer
	policy   ParkPolicy
}

func defaultOptions() options {
	return options{
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
		policy:   DefaultParkPolicy(),
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder 设置指标接收器
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTracer 设置 epoch/reduce/apply span 的 tracer
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithParkPolicy 覆盖空队列时的自旋/让出/休眠策略
func WithParkPolicy(p ParkPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithSpinPark 只调整自旋次数与初始休眠间隔，其余沿用默认值
func WithSpinPark(spins int, park time.Duration) Option {
	return func(o *options) {
		if spins >= 0 {
			o.policy.Spins = spins
		}
		if park > 0 {
			o.policy.Park = park
			if o.policy.MaxPark < park {
				o.policy.MaxPark = park
			}
		}
	}
}
