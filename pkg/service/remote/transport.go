package remote

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/metrics"
	"github.com/ajitpratap0/conflux/pkg/ports"
	"github.com/ajitpratap0/conflux/pkg/service/base"
	"github.com/ajitpratap0/conflux/pkg/service/core"
)

// TunnelDriver holds the transport-specific hooks a remote adapter must
// implement on top of the base driver hooks.
type TunnelDriver interface {
	// ExecuteCommand runs a command on the remote host
	ExecuteCommand(ctx context.Context, command string, timeout time.Duration) (*core.ExecResult, error)
	// OpenTunnel establishes a forward from localPort to host:port on the
	// remote side and returns a handle that tears it down when closed
	OpenTunnel(ctx context.Context, host string, port, localPort int) (io.Closer, error)
	// CheckReachable reports whether host:port accepts connections from
	// the remote host's side
	CheckReachable(ctx context.Context, host string, port int) bool
}

// Transport is the remote-transport base every remote adapter embeds. It
// adds command execution, port-forward management with deduplication and
// URI localization, and a one-shot smartcard reactivation retry after an
// authentication failure.
type Transport struct {
	*base.Connector

	driver   TunnelDriver
	forwards *ForwardRegister
	runner   CommandRunner
}

// NewTransport creates an unconnected remote transport
func NewTransport(name, protocol string, cfg *config.ServiceConfig) *Transport {
	t := &Transport{
		Connector: base.New(name, protocol, core.KindRemote, cfg),
		forwards:  NewForwardRegister(),
		runner:    runCommand,
	}
	t.SetOnDisconnect(t.stopAllForwards)
	return t
}

// SetCommandRunner replaces the local command runner used for smartcard
// activation (tests inject fakes here)
func (t *Transport) SetCommandRunner(r CommandRunner) { t.runner = r }

// stopAllForwards tears down every forward; it runs before the transport's
// own disconnect hook so tunnels never outlive the connection.
func (t *Transport) stopAllForwards() {
	for _, f := range t.forwards.List() {
		if err := t.PortForwardStop(f.RemoteHost, f.RemotePort, 0); err != nil {
			t.Logger().Warn("failed to stop forward during disconnect",
				zap.String("remote", key(f.RemoteHost, f.RemotePort)), zap.Error(err))
		}
	}
}

// BindTunnel attaches the adapter's tunnel hooks (in addition to the base
// driver hooks bound via Bind)
func (t *Transport) BindTunnel(driver TunnelDriver) { t.driver = driver }

// Forwards exposes the forward register (read-only uses: CLI listing, tests)
func (t *Transport) Forwards() *ForwardRegister { return t.forwards }

// Connect establishes the transport connection. When smartcards are
// configured, a first authentication failure triggers one reactivation
// attempt followed by exactly one retry; a second failure is surfaced
// unmodified.
func (t *Transport) Connect(ctx context.Context) error {
	err := t.Connector.Connect(ctx)
	if err == nil || !errors.IsType(err, errors.ErrorTypeAuthentication) {
		return err
	}
	cards := t.Config().Smartcards
	if len(cards) == 0 {
		return err
	}
	t.Logger().Info("authentication failed, reactivating smartcards",
		zap.Int("cards", len(cards)))
	if !t.activateSmartcards(ctx, cards) {
		return err
	}
	return t.Connector.Connect(ctx)
}

// Execute runs a command on the remote host, connecting first if needed
func (t *Transport) Execute(ctx context.Context, command string) (*core.ExecResult, error) {
	if t.driver == nil {
		return nil, errors.Newf(errors.ErrorTypeCapability,
			"remote transport %q has no tunnel driver bound", t.Name())
	}
	if !t.IsConnected() {
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
	}
	res, err := t.driver.ExecuteCommand(ctx, command, t.Config().ExecTimeout)
	metrics.ObserveCommand(t.Name(), err)
	return res, err
}

// PortForward ensures a tunnel to hostSpec and returns its local port.
// hostSpec is "host" or "host:port"; remotePort fills a missing port.
// An existing forward for the endpoint is reused unless a different
// explicit localPort is requested, in which case the old forward is torn
// down and replaced.
func (t *Transport) PortForward(hostSpec string, remotePort, localPort int) (int, error) {
	host, port, err := ports.Split(hostSpec)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeValidation, "invalid forward spec")
	}
	if port == 0 {
		port = remotePort
	}
	if port <= 0 {
		return 0, errors.Newf(errors.ErrorTypeValidation,
			"no remote port given for forward to %q", host)
	}

	if existing, ok := t.forwards.Lookup(host, port); ok {
		if localPort == 0 || localPort == existing.LocalPort {
			return existing.LocalPort, nil
		}
		// A different explicit local port replaces the forward
		if err := t.PortForwardStop(host, port, 0); err != nil {
			return 0, err
		}
	}

	ctx := context.Background()
	if t.driver == nil {
		return 0, errors.Newf(errors.ErrorTypeCapability,
			"remote transport %q has no tunnel driver bound", t.Name())
	}
	if !t.IsConnected() {
		if err := t.Connect(ctx); err != nil {
			return 0, err
		}
	}

	if localPort == 0 {
		localPort, err = ports.Free()
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeConnection, "no free local port")
		}
	} else if !ports.Available(localPort) {
		return 0, errors.Newf(errors.ErrorTypeConnection,
			"local port %d is already in use", localPort)
	}

	if !t.driver.CheckReachable(ctx, host, port) {
		return 0, errors.Newf(errors.ErrorTypeUnreachable,
			"%s:%d is not reachable from remote transport %q", host, port, t.Name())
	}

	handle, err := t.driver.OpenTunnel(ctx, host, port, localPort)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open tunnel")
	}

	f := &Forward{RemoteHost: host, RemotePort: port, LocalPort: localPort, Handle: handle}
	if err := t.forwards.Register(f); err != nil {
		_ = handle.Close()
		return 0, err
	}

	metrics.ActiveForwards.WithLabelValues(t.Name()).Inc()
	t.Logger().Info("port forward established",
		zap.String("remote", key(host, port)), zap.Int("local_port", localPort))
	return localPort, nil
}

// PortForwardStop tears down a forward identified by either the remote
// endpoint or the local port; callers may know only one side.
func (t *Transport) PortForwardStop(remoteHost string, remotePort, localPort int) error {
	if remoteHost == "" {
		f, ok := t.forwards.LookupLocal(localPort)
		if !ok {
			return errors.Newf(errors.ErrorTypeNotFound,
				"no forward bound to local port %d", localPort)
		}
		remoteHost, remotePort = f.RemoteHost, f.RemotePort
	}

	f, ok := t.forwards.Deregister(remoteHost, remotePort)
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound,
			"no forward for %s", key(remoteHost, remotePort))
	}

	metrics.ActiveForwards.WithLabelValues(t.Name()).Dec()
	t.Logger().Info("port forward stopped",
		zap.String("remote", key(remoteHost, remotePort)),
		zap.Int("local_port", f.LocalPort))
	if f.Handle != nil {
		return f.Handle.Close()
	}
	return nil
}

// HasPortForward reports whether a live forward exists for either key. The
// forward must not just be registered — its local port must actually be
// held by the tunnel listener.
func (t *Transport) HasPortForward(remoteHost string, remotePort, localPort int) bool {
	var f *Forward
	var ok bool
	if remoteHost != "" {
		f, ok = t.forwards.Lookup(remoteHost, remotePort)
	} else {
		f, ok = t.forwards.LookupLocal(localPort)
	}
	if !ok {
		return false
	}
	// The listener holds the local port while the tunnel is alive
	return !ports.Available(f.LocalPort)
}

// LocalURI rewrites a URI's network location to the local end of a tunnel,
// establishing the tunnel as a side effect if needed. Dependent adapters
// use this to localize server-issued absolute URLs.
func (t *Transport) LocalURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, "invalid URI")
	}

	host := u.Hostname()
	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeValidation, "invalid URI port")
		}
	} else {
		switch u.Scheme {
		case "http":
			port = 80
		case "https":
			port = 443
		default:
			return "", errors.Newf(errors.ErrorTypeValidation,
				"cannot localize URI %q without a port", uri)
		}
	}

	local, err := t.PortForward(host, port, 0)
	if err != nil {
		return "", err
	}
	u.Host = "localhost:" + strconv.Itoa(local)
	return u.String(), nil
}

// Reachable reports whether host:port accepts connections from the remote
// host's side of the transport
func (t *Transport) Reachable(host string, port int) bool {
	if t.driver == nil {
		return false
	}
	if !t.IsConnected() {
		if err := t.Connect(context.Background()); err != nil {
			return false
		}
	}
	return t.driver.CheckReachable(context.Background(), host, port)
}

var _ core.RemoteTransport = (*Transport)(nil)
