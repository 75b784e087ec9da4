package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestContextFields(t *testing.T) {
	ctx := context.WithValue(context.Background(), ServiceKey, "warehouse")
	ctx = context.WithValue(ctx, ProtocolKey, "postgres")
	ctx = context.WithValue(ctx, RemoteKey, "gateway")

	fields := ContextFields(ctx)
	assert.Equal(t, []zap.Field{
		zap.String("service", "warehouse"),
		zap.String("protocol", "postgres"),
		zap.String("remote", "gateway"),
	}, fields)
}

func TestContextFieldsEmptyContext(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestWithContextPartialValues(t *testing.T) {
	ctx := context.WithValue(context.Background(), RemoteKey, "gateway")

	assert.Equal(t, []zap.Field{zap.String("remote", "gateway")}, ContextFields(ctx))
	assert.NotNil(t, WithContext(ctx))
}
