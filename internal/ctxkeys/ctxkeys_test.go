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
	assert.False(t, ok, "empty id counts as absent")
}

func TestTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "abc")
	id, ok := TraceID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}

func TestLogFields(t *testing.T) {
	assert.Empty(t, LogFields(context.Background()))

	ctx := WithTraceID(WithRequestID(context.Background(), "req-1"), "abc")
	fields := LogFields(ctx)
	if assert.Len(t, fields, 2) {
		assert.Equal(t, "request_id", fields[0].Key)
		assert.Equal(t, "req-1", fields[0].String)
		assert.Equal(t, "trace_id", fields[1].Key)
	}
}
