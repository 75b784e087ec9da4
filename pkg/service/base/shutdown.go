package base

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/conflux/pkg/logger"
)

// shutdownList holds every connector that has connected at least once, so
// the process can disconnect them all on exit. Go has no atexit; the CLI
// drains this list from its signal handler.
var (
	shutdownMu   sync.Mutex
	shutdownList []*Connector
)

// registerShutdown adds a connector to the process shutdown list, once per
// instance regardless of how many times it reconnects.
func registerShutdown(c *Connector) {
	if !atomic.CompareAndSwapInt32(&c.registered, 0, 1) {
		return
	}
	shutdownMu.Lock()
	shutdownList = append(shutdownList, c)
	shutdownMu.Unlock()
}

// ShutdownAll disconnects every connector that ever connected. Best-effort:
// failures are logged, panics are swallowed, and teardown always proceeds
// to the next connector.
func ShutdownAll() {
	shutdownMu.Lock()
	conns := make([]*Connector, len(shutdownList))
	copy(conns, shutdownList)
	shutdownMu.Unlock()

	for _, c := range conns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warn("panic during shutdown disconnect",
						zap.String("service", c.name), zap.Any("panic", r))
				}
			}()
			if err := c.Disconnect(); err != nil {
				logger.Warn("shutdown disconnect failed",
					zap.String("service", c.name), zap.Error(err))
			}
		}()
	}
}
