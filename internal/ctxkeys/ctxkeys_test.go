package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	for _, get := range []func(context.Context) (string, bool){TraceID, RunID, RequestID, Principal} {
		_, ok := get(ctx)
		assert.False(t, ok)
	}

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithPrincipal(ctx, "ops")

	v, ok := TraceID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "trace-1", v)
	v, _ = RunID(ctx)
	assert.Equal(t, "run-1", v)
	v, _ = RequestID(ctx)
	assert.Equal(t, "req-1", v)
	v, _ = Principal(ctx)
	assert.Equal(t, "ops", v)

	_, ok = RunID(WithRunID(context.Background(), ""))
	assert.False(t, ok, "empty values are treated as absent")
}
