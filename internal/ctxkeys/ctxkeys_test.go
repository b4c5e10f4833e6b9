package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	_, ok := RequestID(context.Background())
	assert.False(t, ok)

	ctx := WithRequestID(context.Background(), "req-1")
	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	_, ok = RequestID(WithRequestID(context.Background(), ""))
	assert.False(t, ok)
}

func TestProvider(t *testing.T) {
	ctx := WithProvider(context.Background(), "kling")
	p, ok := Provider(ctx)
	assert.True(t, ok)
	assert.Equal(t, "kling", p)

	_, ok = Provider(WithRequestID(context.Background(), "x"))
	assert.False(t, ok)
}
