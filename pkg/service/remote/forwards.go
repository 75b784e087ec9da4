// Package remote provides the remote-transport base: command execution and
// port-forward management on behalf of dependent connectors. The
// ForwardRegister keeps the per-transport table of active tunnels; the
// Transport embeds the lifecycle core and adds forwarding, URI
// localization, and the smartcard authentication retry.
package remote

import (
	"fmt"
	"io"
	"sync"

	"github.com/ajitpratap0/conflux/pkg/errors"
)

// Forward is one active tunnel: a local port relaying to (host, port) on
// the remote side. The handle is opaque to the register and owned by the
// transport that established the tunnel.
type Forward struct {
	RemoteHost string
	RemotePort int
	LocalPort  int
	Handle     io.Closer
}

// ForwardRegister maps (remote host, remote port) to an active forward,
// one table per remote transport. At most one local port forwards a given
// remote endpoint; re-registering an existing key is an error and callers
// must deregister first.
type ForwardRegister struct {
	mu       sync.Mutex
	forwards map[string]*Forward
	byLocal  map[int]*Forward
}

// NewForwardRegister creates an empty register
func NewForwardRegister() *ForwardRegister {
	return &ForwardRegister{
		forwards: make(map[string]*Forward),
		byLocal:  make(map[int]*Forward),
	}
}

func key(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Register records a new forward. A key that is already present is an
// error; the caller tears the old forward down explicitly first.
func (r *ForwardRegister) Register(f *Forward) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(f.RemoteHost, f.RemotePort)
	if _, ok := r.forwards[k]; ok {
		return errors.Newf(errors.ErrorTypeValidation,
			"a forward for %s is already registered; deregister it first", k)
	}
	if _, ok := r.byLocal[f.LocalPort]; ok {
		return errors.Newf(errors.ErrorTypeValidation,
			"local port %d is already forwarding another endpoint", f.LocalPort)
	}
	r.forwards[k] = f
	r.byLocal[f.LocalPort] = f
	return nil
}

// Lookup returns the forward for a remote endpoint
func (r *ForwardRegister) Lookup(host string, port int) (*Forward, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.forwards[key(host, port)]
	return f, ok
}

// LookupLocal returns the forward bound to a local port
func (r *ForwardRegister) LookupLocal(localPort int) (*Forward, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.byLocal[localPort]
	return f, ok
}

// Deregister removes the forward for a remote endpoint and returns it so
// the owner can close the handle
func (r *ForwardRegister) Deregister(host string, port int) (*Forward, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.forwards[key(host, port)]
	if !ok {
		return nil, false
	}
	delete(r.forwards, key(host, port))
	delete(r.byLocal, f.LocalPort)
	return f, true
}

// List returns a snapshot of all active forwards
func (r *ForwardRegister) List() []*Forward {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Forward, 0, len(r.forwards))
	for _, f := range r.forwards {
		out = append(out, f)
	}
	return out
}

// Len returns the number of active forwards
func (r *ForwardRegister) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forwards)
}
