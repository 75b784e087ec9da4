package base_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/conflux/pkg/service/base"
)

func TestShutdownAllDisconnectsEveryConnector(t *testing.T) {
	a, driverA := newTestConnector(t)
	b, driverB := newTestConnector(t)

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, b.Connect(context.Background()))

	base.ShutdownAll()

	assert.False(t, a.IsConnected())
	assert.False(t, b.IsConnected())
	assert.Equal(t, 1, driverA.DisconnectCalls)
	assert.Equal(t, 1, driverB.DisconnectCalls)

	// Draining again is harmless
	base.ShutdownAll()
	assert.Equal(t, 1, driverA.DisconnectCalls, "already-disconnected connectors are skipped")
}
