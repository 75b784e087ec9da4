// Package testutil provides fakes and helpers shared by connector tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/service/base"
	"github.com/ajitpratap0/conflux/pkg/service/core"
	"github.com/ajitpratap0/conflux/pkg/service/remote"
)

// FakeDriver is an in-memory connection hook with failure injection
type FakeDriver struct {
	mu sync.Mutex

	connected bool

	// ConnectErr, when set, is returned by Connect. FailConnects makes
	// the next N connects fail with ConnectErr before succeeding.
	ConnectErr   error
	FailConnects int

	ConnectCalls    int
	DisconnectCalls int
}

var _ core.Driver = (*FakeDriver)(nil)

func (d *FakeDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ConnectCalls++
	if d.ConnectErr != nil && (d.FailConnects == 0 || d.ConnectCalls <= d.FailConnects) {
		return d.ConnectErr
	}
	d.connected = true
	return nil
}

func (d *FakeDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DisconnectCalls++
	d.connected = false
	return nil
}

func (d *FakeDriver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// FakeTunnelDriver is an in-memory tunnel hook. Every host is reachable
// unless listed in Unreachable, and opened tunnels are recorded.
type FakeTunnelDriver struct {
	FakeDriver

	mu sync.Mutex

	Unreachable map[string]bool

	// Commands maps command strings to canned results; unknown commands
	// succeed with empty output
	Commands map[string]*core.ExecResult

	Opened []string
	Closed []string
}

var _ remote.TunnelDriver = (*FakeTunnelDriver)(nil)

func (d *FakeTunnelDriver) ExecuteCommand(ctx context.Context, command string, timeout time.Duration) (*core.ExecResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if res, ok := d.Commands[command]; ok {
		return res, nil
	}
	return &core.ExecResult{}, nil
}

func (d *FakeTunnelDriver) OpenTunnel(ctx context.Context, host string, port, localPort int) (io.Closer, error) {
	// A real listener holds the local port so liveness checks behave as
	// they would against an actual tunnel
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", localPort))
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	addr := fmt.Sprintf("%s:%d", host, port)
	d.Opened = append(d.Opened, addr)
	return &fakeHandle{d: d, addr: addr, listener: listener}, nil
}

func (d *FakeTunnelDriver) CheckReachable(ctx context.Context, host string, port int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.Unreachable[fmt.Sprintf("%s:%d", host, port)]
}

type fakeHandle struct {
	d        *FakeTunnelDriver
	addr     string
	listener net.Listener
	once     sync.Once
}

func (h *fakeHandle) Close() error {
	var err error
	h.once.Do(func() {
		err = h.listener.Close()
		h.d.mu.Lock()
		defer h.d.mu.Unlock()
		h.d.Closed = append(h.d.Closed, h.addr)
	})
	return err
}

// NewFakeRemote builds a connected-on-demand remote transport backed by a
// fake tunnel driver.
func NewFakeRemote(name string, cfg *config.ServiceConfig) (*remote.Transport, *FakeTunnelDriver) {
	if cfg == nil {
		cfg = config.NewServiceConfig("fake_remote")
		cfg.Host = "gateway.test"
		cfg.Port = 22
	}
	cfg.ApplyDefaults()
	t := remote.NewTransport(name, cfg.Protocol, cfg)
	d := &FakeTunnelDriver{}
	t.Bind(d)
	t.BindTunnel(d)
	t.SetReachabilityProbe(AlwaysReachable)
	return t, d
}

// NewFakeConnector builds a base connector of the given kind backed by a
// fake driver, with reachability probing stubbed out.
func NewFakeConnector(name string, kind core.Kind, cfg *config.ServiceConfig) (*base.Connector, *FakeDriver) {
	if cfg == nil {
		cfg = config.NewServiceConfig("fake")
		cfg.Host = "db.test"
		cfg.Port = 5432
	}
	cfg.ApplyDefaults()
	c := base.New(name, cfg.Protocol, kind, cfg)
	d := &FakeDriver{}
	c.Bind(d)
	c.SetReachabilityProbe(AlwaysReachable)
	return c, d
}

// AlwaysReachable is a reachability probe that accepts every host
func AlwaysReachable(host string, port int, timeout time.Duration) bool { return true }

// NeverReachable is a reachability probe that rejects every host
func NeverReachable(host string, port int, timeout time.Duration) bool { return false }

// CountingPrompter records prompts and answers from a fixed map keyed by
// label. Missing labels produce an error.
type CountingPrompter struct {
	mu      sync.Mutex
	Answers map[string]string
	Calls   []string
}

// Prompt satisfies base.Prompter
func (p *CountingPrompter) Prompt(label string, secret bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, label)
	answer, ok := p.Answers[label]
	if !ok {
		return "", errors.Newf(errors.ErrorTypeInternal, "unexpected prompt %q", label)
	}
	return answer, nil
}
