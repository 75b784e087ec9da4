// Package core defines the contracts shared by every Conflux service:
// the Connector lifecycle interface, the mandatory Driver hooks each
// backend adapter implements, and the RemoteTransport specialization that
// executes commands and forwards ports on intermediary hosts.
package core

import (
	"context"

	"github.com/ajitpratap0/conflux/pkg/config"
)

// Kind classifies a registered service
type Kind string

const (
	KindRemote     Kind = "remote"
	KindFilesystem Kind = "filesystem"
	KindCache      Kind = "cache"
	KindRESTful    Kind = "restful"
	KindDatabase   Kind = "database"
	KindOther      Kind = "other"

	// KindAny disables kind filtering on registry lookups
	KindAny Kind = ""
)

// Connector represents one configured, possibly-not-yet-connected service
// endpoint. A connector is either unprepared (no field side effects have
// run) or prepared (fields materialized and cross-references resolved);
// reading any connection field prepares it lazily, and mutating one while
// connected forces a disconnect.
type Connector interface {
	// Name returns the primary registered name
	Name() string
	// Protocol returns the protocol string the connector was instantiated for
	Protocol() string
	// Kind returns the service kind
	Kind() Kind

	// Prepare materializes connection fields. Idempotent; called implicitly
	// by every field accessor.
	Prepare() error
	// IsPrepared reports whether preparation has run
	IsPrepared() bool

	// Connect establishes the live connection, asserting reachability first
	Connect(ctx context.Context) error
	// Disconnect tears the connection down; safe on never-prepared or broken connectors
	Disconnect() error
	// Reconnect is Disconnect followed by Connect
	Reconnect(ctx context.Context) error
	// Reset reverts all prepared fields to their pre-preparation values
	Reset() error
	// IsConnected reports whether the connector (and any tunnel it depends on) is live
	IsConnected() bool

	// Host returns the loopback address when a remote transport is attached,
	// otherwise the configured host
	Host() (string, error)
	// Port returns the local tunnel port when a remote transport is attached,
	// otherwise the configured port
	Port() (int, error)
	// Username resolves the configured username (prompting at most once)
	Username() (string, error)
	// Password resolves the configured password (prompting at most once)
	Password() (string, error)

	// AttachRegistry hands the connector a weak back-reference used only for
	// resolving remote/cache names; the registry is never owned
	AttachRegistry(Registry)
}

// Registry is the name-resolution surface connectors need from the service
// registry. Lookup with KindAny matches any kind.
type Registry interface {
	Lookup(name string, kind Kind) (Connector, error)
}

// Driver holds the three mandatory backend hooks. The lifecycle core invokes
// them only after its own gates (preparation, reachability) have passed.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
}

// ExecResult is the outcome of one remote command execution
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited zero
func (r *ExecResult) Success() bool {
	return r.ExitCode == 0
}

// RemoteTransport is a connector that can execute commands and forward
// ports on a separate host. A single transport may be shared by many
// dependent connectors; dependents must only use this interface and never
// reach into forwarding internals.
type RemoteTransport interface {
	Connector

	// Execute runs a command on the remote host, connecting first if needed
	Execute(ctx context.Context, command string) (*ExecResult, error)

	// PortForward ensures a tunnel to hostSpec ("host" or "host:port";
	// remotePort used when the spec has no port) and returns the local
	// port. localPort 0 lets the transport allocate a free one; a non-zero
	// localPort that differs from an existing forward replaces it.
	PortForward(hostSpec string, remotePort, localPort int) (int, error)

	// PortForwardStop tears down a forward identified by either the remote
	// endpoint or the local port (pass zero values for the unknown side)
	PortForwardStop(remoteHost string, remotePort, localPort int) error

	// HasPortForward reports whether a live forward exists for either key
	HasPortForward(remoteHost string, remotePort, localPort int) bool

	// LocalURI rewrites the URI's network location to the local end of a
	// tunnel, establishing the tunnel as a side effect if needed
	LocalURI(uri string) (string, error)

	// Reachable reports whether host:port accepts connections from the
	// remote host's side of the transport
	Reachable(host string, port int) bool
}

// Factory constructs a connector for one configured service. The registry
// resolves the factory through the protocol registry and attaches itself
// afterwards.
type Factory func(name string, cfg *config.ServiceConfig) (Connector, error)
