package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/hivetrain/config"
	"github.com/BaSui01/hivetrain/scheduler"
	"github.com/BaSui01/hivetrain/testutil/fixtures"
	"github.com/BaSui01/hivetrain/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// saveAndRestoreGlobalProviders Init 会改写全局 provider，测试结束后还原
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	tp, mp, eh := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetErrorHandler()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetErrorHandler(eh)
	})
}

func enabledConfig(name string) config.TelemetryConfig {
	return config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  name,
		SampleRate:   1.0,
	}
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer("x"))
	assert.NotNil(t, p.Meter("x"))
	assert.NoError(t, p.ForceFlush(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(enabledConfig("hivetrain-test"), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Enabled())

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)

	// 没有 collector，Shutdown 可能返回连接错误，只要求在期限内结束
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}

func TestInit_SchedulerSpansExported(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	exporter := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	p, err := Init(enabledConfig("hivetrain-spans"), zaptest.NewLogger(t),
		WithSpanExporter(exporter),
		WithMetricReader(reader),
		WithTopology(2, 2, 1),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	s := scheduler.New(fixtures.FlatConfig(2, 4), mocks.NewMockModel(), mocks.NewSliceSource(4), fixtures.ZeroWeights(8),
		scheduler.WithTracer(p.Tracer("hivetrain-test")))
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	_, err = s.RunEpoch(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.ForceFlush(context.Background()))

	names := make(map[string]bool)
	for _, span := range exporter.GetSpans() {
		names[span.Name] = true
		if span.Name == "scheduler.epoch" {
			v, ok := span.Resource.Set().Value("hivetrain.workers")
			require.True(t, ok)
			assert.Equal(t, int64(2), v.AsInt64())
		}
	}
	assert.True(t, names["scheduler.epoch"])
	assert.True(t, names["scheduler.reduce"])
	assert.True(t, names["scheduler.apply"])

	counter, err := p.Meter("hivetrain-test").Int64Counter("probe")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := sampler(tt.rate).Description()
		assert.True(t, strings.HasPrefix(desc, "ParentBased{root:"+tt.want), "rate %v: %s", tt.rate, desc)
	}
}

func TestInit_ExportErrorsLogged(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	core, logs := observer.New(zap.WarnLevel)
	p, err := Init(enabledConfig("hivetrain-errors"), zap.New(core),
		WithSpanExporter(tracetest.NewInMemoryExporter()),
		WithMetricReader(sdkmetric.NewManualReader()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	otel.Handle(errors.New("collector unavailable"))
	require.Equal(t, 1, logs.FilterMessage("otel export error").Len())
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
}

func TestProviders_Shutdown_Noop(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制中 ReadBuildInfo 通常返回 "(devel)"
	assert.Equal(t, "dev", buildVersion())
}
