// Package ssh provides the SSH remote transport: remote command execution
// and port forwarding over an SSH connection, with agent, key-file,
// password and keyboard-interactive authentication.
package ssh

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/service/core"
	"github.com/ajitpratap0/conflux/pkg/service/remote"
)

const defaultPort = 22

// Client is an SSH remote transport
type Client struct {
	*remote.Transport

	client *gossh.Client
}

// New constructs an unconnected SSH transport
func New(name string, cfg *config.ServiceConfig) (core.Connector, error) {
	if cfg == nil {
		cfg = config.NewServiceConfig("ssh")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	c := &Client{}
	c.Transport = remote.NewTransport(name, cfg.Protocol, cfg)
	d := &driver{c: c}
	c.Bind(d)
	c.BindTunnel(d)
	return c, nil
}

// driver implements the base and tunnel hooks against the SSH client
type driver struct {
	c *Client
}

var (
	_ core.Driver         = (*driver)(nil)
	_ remote.TunnelDriver = (*driver)(nil)
)

func (d *driver) Connect(ctx context.Context) error {
	c := d.c
	host, err := c.Host()
	if err != nil {
		return err
	}
	port, err := c.Port()
	if err != nil {
		return err
	}
	username, err := c.Username()
	if err != nil {
		return err
	}

	cfg := &gossh.ClientConfig{
		User:            username,
		Auth:            d.authMethods(),
		HostKeyCallback: d.hostKeyCallback(),
		Timeout:         c.Config().ConnectTimeout,
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	client, err := gossh.Dial("tcp", addr, cfg)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") ||
			strings.Contains(err.Error(), "permission denied") {
			return errors.Wrap(err, errors.ErrorTypeAuthentication,
				"ssh authentication rejected for "+addr)
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, "ssh dial failed")
	}
	c.client = client
	return nil
}

func (d *driver) Disconnect() error {
	if d.c.client == nil {
		return nil
	}
	err := d.c.client.Close()
	d.c.client = nil
	return err
}

func (d *driver) IsConnected() bool {
	if d.c.client == nil {
		return false
	}
	// A keepalive round-trip detects dead connections that still hold a socket
	_, _, err := d.c.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// authMethods assembles agent, key-file and password authentication in
// that order of preference
func (d *driver) authMethods() []gossh.AuthMethod {
	var methods []gossh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, gossh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if keyPath, ok := d.c.Config().GetString("identity_file"); ok {
		if key, err := os.ReadFile(keyPath); err == nil { //nolint:gosec // G304: path comes from the services document
			if signer, err := gossh.ParsePrivateKey(key); err == nil {
				methods = append(methods, gossh.PublicKeys(signer))
			}
		}
	}

	methods = append(methods, gossh.PasswordCallback(func() (string, error) {
		return d.c.Password()
	}))
	// Servers configured for keyboard-interactive only still get the
	// resolved password as the answer to every challenge
	methods = append(methods, gossh.KeyboardInteractive(
		func(name, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				password, err := d.c.Password()
				if err != nil {
					return nil, err
				}
				answers[i] = password
			}
			return answers, nil
		}))
	return methods
}

func (d *driver) hostKeyCallback() gossh.HostKeyCallback {
	if path, ok := d.c.Config().GetString("known_hosts"); ok {
		if cb, err := knownhosts.New(path); err == nil {
			return cb
		}
		d.c.Logger().Warn("failed to load known_hosts, skipping host key checks")
	}
	return gossh.InsecureIgnoreHostKey() //nolint:gosec // G106: opt-in via known_hosts
}

func (d *driver) ExecuteCommand(ctx context.Context, command string, timeout time.Duration) (*core.ExecResult, error) {
	session, err := d.c.client.NewSession()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open ssh session")
	}
	defer session.Close()

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(gossh.SIGKILL)
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "remote command cancelled")
	case <-timer:
		_ = session.Signal(gossh.SIGKILL)
		return nil, errors.Newf(errors.ErrorTypeTimeout,
			"remote command did not finish within %s", timeout)
	}

	result := &core.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *gossh.ExitError
		if stderrors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "remote command failed")
	}
	return result, nil
}

func (d *driver) OpenTunnel(ctx context.Context, host string, port, localPort int) (io.Closer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", localPort))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection,
			fmt.Sprintf("cannot bind local port %d", localPort))
	}

	t := newTunnel(d.c, listener, net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	go t.serve()
	return t, nil
}

func (d *driver) CheckReachable(ctx context.Context, host string, port int) bool {
	if d.c.client == nil {
		return false
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := d.c.client.Dial("tcp", addr)
		ch <- result{conn, err}
	}()

	timeout := d.c.Config().ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case r := <-ch:
		if r.err != nil {
			return false
		}
		_ = r.conn.Close()
		return true
	case <-ctx.Done():
		return false
	case <-time.After(timeout):
		return false
	}
}
