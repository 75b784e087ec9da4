package remote_test

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/ports"
	"github.com/ajitpratap0/conflux/pkg/service/core"
	"github.com/ajitpratap0/conflux/pkg/service/remote"
	"github.com/ajitpratap0/conflux/pkg/testutil"
)

func TestPortForwardAllocatesLocalPort(t *testing.T) {
	transport, driver := testutil.NewFakeRemote("gateway", nil)

	local, err := transport.PortForward("db.internal", 5432, 0)
	require.NoError(t, err)
	assert.Greater(t, local, 0)
	assert.Equal(t, 1, transport.Forwards().Len())
	assert.True(t, transport.HasPortForward("db.internal", 5432, 0))
	assert.True(t, transport.HasPortForward("", 0, local))
	assert.Equal(t, []string{"db.internal:5432"}, driver.Opened)

	require.NoError(t, transport.PortForwardStop("db.internal", 5432, 0))
	assert.False(t, transport.HasPortForward("db.internal", 5432, 0))
}

func TestPortForwardReusesExistingTunnel(t *testing.T) {
	transport, driver := testutil.NewFakeRemote("gateway", nil)

	first, err := transport.PortForward("db.internal", 5432, 0)
	require.NoError(t, err)

	// Same endpoint again, no local port preference: same tunnel
	second, err := transport.PortForward("db.internal", 5432, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Same endpoint with the established local port: still the same tunnel
	third, err := transport.PortForward("db.internal:5432", 0, first)
	require.NoError(t, err)
	assert.Equal(t, first, third)

	assert.Len(t, driver.Opened, 1, "a deduplicated forward must not reopen the tunnel")
	assert.Equal(t, 1, transport.Forwards().Len())
}

func TestPortForwardReplacesOnDifferentLocalPort(t *testing.T) {
	transport, driver := testutil.NewFakeRemote("gateway", nil)

	first, err := transport.PortForward("db.internal", 5432, 0)
	require.NoError(t, err)

	want, err := ports.Free()
	require.NoError(t, err)
	require.NotEqual(t, first, want)

	second, err := transport.PortForward("db.internal", 5432, want)
	require.NoError(t, err)
	assert.Equal(t, want, second)

	assert.Equal(t, 1, transport.Forwards().Len(), "the replaced forward must be gone")
	assert.Len(t, driver.Closed, 1, "the old tunnel must be torn down")
	assert.Len(t, driver.Opened, 2)
	assert.False(t, transport.HasPortForward("", 0, first))
	assert.True(t, transport.HasPortForward("", 0, want))
}

func TestPortForwardRejectsOccupiedLocalPort(t *testing.T) {
	transport, _ := testutil.NewFakeRemote("gateway", nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	occupied := listener.Addr().(*net.TCPAddr).Port

	_, err = transport.PortForward("db.internal", 5432, occupied)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Contains(t, err.Error(), "already in use")
}

func TestPortForwardUnreachableEndpoint(t *testing.T) {
	transport, driver := testutil.NewFakeRemote("gateway", nil)
	driver.Unreachable = map[string]bool{"db.internal:5432": true}

	_, err := transport.PortForward("db.internal", 5432, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnreachable))
	assert.Zero(t, transport.Forwards().Len())
}

func TestPortForwardRequiresRemotePort(t *testing.T) {
	transport, _ := testutil.NewFakeRemote("gateway", nil)

	_, err := transport.PortForward("db.internal", 0, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestPortForwardStopByLocalPortOnly(t *testing.T) {
	transport, _ := testutil.NewFakeRemote("gateway", nil)

	local, err := transport.PortForward("db.internal", 5432, 0)
	require.NoError(t, err)

	require.NoError(t, transport.PortForwardStop("", 0, local))
	assert.Zero(t, transport.Forwards().Len())
}

func TestPortForwardStopUnknown(t *testing.T) {
	transport, _ := testutil.NewFakeRemote("gateway", nil)

	err := transport.PortForwardStop("db.internal", 5432, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	err = transport.PortForwardStop("", 0, 19999)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestDisconnectStopsAllForwards(t *testing.T) {
	transport, driver := testutil.NewFakeRemote("gateway", nil)

	localA, err := transport.PortForward("db.internal", 5432, 0)
	require.NoError(t, err)
	localB, err := transport.PortForward("cache.internal", 6379, 0)
	require.NoError(t, err)
	require.Equal(t, 2, transport.Forwards().Len())

	require.NoError(t, transport.Disconnect())

	assert.Zero(t, transport.Forwards().Len())
	assert.Len(t, driver.Closed, 2)
	assert.False(t, transport.HasPortForward("", 0, localA))
	assert.False(t, transport.HasPortForward("", 0, localB))
	assert.True(t, ports.Available(localA), "local ports must be released")
}

func TestExecuteConnectsOnDemand(t *testing.T) {
	transport, driver := testutil.NewFakeRemote("gateway", nil)
	driver.Commands = map[string]*core.ExecResult{
		"hostname": {Stdout: "bastion\n"},
		"false":    {ExitCode: 1},
	}

	res, err := transport.Execute(context.Background(), "hostname")
	require.NoError(t, err)
	assert.Equal(t, "bastion\n", res.Stdout)
	assert.True(t, res.Success())
	assert.Equal(t, 1, driver.ConnectCalls, "execute must connect lazily")

	res, err = transport.Execute(context.Background(), "false")
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, 1, driver.ConnectCalls)
}

func TestLocalURIExplicitPort(t *testing.T) {
	transport, _ := testutil.NewFakeRemote("gateway", nil)

	localized, err := transport.LocalURI("http://dashboard.internal:8080/jobs?state=running")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(localized, "http://localhost:"), localized)
	assert.Contains(t, localized, "/jobs?state=running")

	f, ok := transport.Forwards().Lookup("dashboard.internal", 8080)
	require.True(t, ok)
	assert.Contains(t, localized, fmt.Sprintf("localhost:%d", f.LocalPort))
}

func TestLocalURISchemeDefaultPort(t *testing.T) {
	transport, _ := testutil.NewFakeRemote("gateway", nil)

	_, err := transport.LocalURI("https://api.internal/v1/status")
	require.NoError(t, err)

	_, ok := transport.Forwards().Lookup("api.internal", 443)
	assert.True(t, ok, "https URIs default to port 443")
}

func TestLocalURIReusesForward(t *testing.T) {
	transport, driver := testutil.NewFakeRemote("gateway", nil)

	a, err := transport.LocalURI("http://dashboard.internal:8080/a")
	require.NoError(t, err)
	b, err := transport.LocalURI("http://dashboard.internal:8080/b")
	require.NoError(t, err)

	assert.Len(t, driver.Opened, 1)
	assert.Equal(t, strings.TrimSuffix(a, "/a"), strings.TrimSuffix(b, "/b"))
}

func TestLocalURIUnportedUnknownScheme(t *testing.T) {
	transport, _ := testutil.NewFakeRemote("gateway", nil)

	_, err := transport.LocalURI("postgres://db.internal/analytics")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestAuthFailureWithoutSmartcardsSurfaces(t *testing.T) {
	transport, driver := testutil.NewFakeRemote("gateway", nil)
	driver.ConnectErr = errors.New(errors.ErrorTypeAuthentication, "auth rejected")

	err := transport.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, 1, driver.ConnectCalls, "no smartcards configured means no retry")
}

func newSmartcardTransport(t *testing.T, cards map[string]string) (*remote.Transport, *testutil.FakeTunnelDriver) {
	t.Helper()
	cfg := config.NewServiceConfig("fake_remote")
	cfg.Host = "gateway.test"
	cfg.Port = 22
	cfg.Smartcards = cards
	return testutil.NewFakeRemote("gateway", cfg)
}

func TestAuthFailureReactivatesSmartcardsOnce(t *testing.T) {
	transport, driver := newSmartcardTransport(t, map[string]string{
		"piv": "/usr/lib/opensc-pkcs11.so",
		"cac": "/usr/lib/cac-pkcs11.so",
	})
	driver.ConnectErr = errors.New(errors.ErrorTypeAuthentication, "auth rejected")
	driver.FailConnects = 1

	var calls [][]string
	transport.SetCommandRunner(func(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
		calls = append(calls, append([]string{name}, args...))
		return "", nil
	})

	require.NoError(t, transport.Connect(context.Background()))
	assert.True(t, transport.IsConnected())
	assert.Equal(t, 2, driver.ConnectCalls, "a successful activation earns exactly one retry")

	// Each card is removed then re-added, in name order
	require.Len(t, calls, 4)
	assert.Equal(t, []string{"ssh-add", "-e", "/usr/lib/cac-pkcs11.so"}, calls[0])
	assert.Equal(t, []string{"ssh-add", "-s", "/usr/lib/cac-pkcs11.so"}, calls[1])
	assert.Equal(t, []string{"ssh-add", "-e", "/usr/lib/opensc-pkcs11.so"}, calls[2])
	assert.Equal(t, []string{"ssh-add", "-s", "/usr/lib/opensc-pkcs11.so"}, calls[3])
}

func TestSecondAuthFailureSurfacesUnmodified(t *testing.T) {
	transport, driver := newSmartcardTransport(t, map[string]string{
		"piv": "/usr/lib/opensc-pkcs11.so",
	})
	authErr := errors.New(errors.ErrorTypeAuthentication, "auth rejected")
	driver.ConnectErr = authErr

	transport.SetCommandRunner(func(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
		return "", nil
	})

	err := transport.Connect(context.Background())
	require.Error(t, err)
	assert.Same(t, authErr, err, "the retry's failure must come back untouched")
	assert.Equal(t, 2, driver.ConnectCalls, "one retry, never two")
}

func TestFailedActivationSkipsRetry(t *testing.T) {
	transport, driver := newSmartcardTransport(t, map[string]string{
		"piv": "/usr/lib/opensc-pkcs11.so",
	})
	driver.ConnectErr = errors.New(errors.ErrorTypeAuthentication, "auth rejected")

	transport.SetCommandRunner(func(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
		if len(args) > 0 && args[0] == "-s" {
			return "", errors.New(errors.ErrorTypeInternal, "card unavailable")
		}
		return "", nil
	})

	err := transport.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, 1, driver.ConnectCalls, "no card activated means no retry")
}
