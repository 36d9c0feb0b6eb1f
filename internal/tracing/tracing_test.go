package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_EmptyEndpointIsNoOp(t *testing.T) {
	shutdown, err := Init(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartEndSpan_DoesNotPanicOnNoOpProvider(t *testing.T) {
	_, err := Init(context.Background(), "")
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "req-1", 0, 1)
	assert.NotNil(t, ctx)
	EndSpan(span, 200, 0, 5*time.Millisecond)
}
