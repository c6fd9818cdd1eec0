package traces

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "test", slog.Default())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_WithAttributes(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "risk.recompute", Job("risk"), Workers(4), UserID("u1"))
	defer span.End()
	assert.NotNil(t, ctx)
	assert.Equal(t, "user.id", string(UserID("u1").Key))
	assert.Equal(t, int64(7), UsersProcessed(7).Value.AsInt64())
}
