package ssh

import (
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// tunnel relays connections from a local listener to a remote address
// through the SSH client. Closing the tunnel stops the accept loop and
// releases the local port.
type tunnel struct {
	c        *Client
	listener net.Listener
	remote   string

	closeOnce sync.Once
	done      chan struct{}
}

func newTunnel(c *Client, listener net.Listener, remoteAddr string) *tunnel {
	return &tunnel{
		c:        c,
		listener: listener,
		remote:   remoteAddr,
		done:     make(chan struct{}),
	}
}

func (t *tunnel) serve() {
	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				t.c.Logger().Warn("tunnel accept failed", zap.Error(err))
				return
			}
		}
		go t.relay(local)
	}
}

func (t *tunnel) relay(local net.Conn) {
	defer local.Close()

	if t.c.client == nil {
		return
	}
	remote, err := t.c.client.Dial("tcp", t.remote)
	if err != nil {
		t.c.Logger().Warn("tunnel dial failed",
			zap.String("remote", t.remote), zap.Error(err))
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		done <- struct{}{}
	}()

	select {
	case <-done:
	case <-t.done:
	}
}

func (t *tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.listener.Close()
	})
	return err
}
