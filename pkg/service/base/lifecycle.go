package base

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/metrics"
	"github.com/ajitpratap0/conflux/pkg/ports"
	"github.com/ajitpratap0/conflux/pkg/service/core"
)

// IsPrepared reports whether preparation has run
func (c *Connector) IsPrepared() bool {
	return c.st != stateUnprepared
}

// ensurePrepared is the guard at the top of every field accessor
func (c *Connector) ensurePrepared() error {
	if c.st != stateUnprepared || c.preparing {
		return nil
	}
	return c.Prepare()
}

// Prepare materializes the connection fields: registry references are
// resolved, deferred field functions run, candidate hosts collapse to one,
// "host:port" forms are split and ports coerced. Preparation is idempotent
// and all-or-nothing: any failure fully unwinds before the error is
// returned, so no partially-mutated state is visible afterwards.
func (c *Connector) Prepare() error {
	if c.st != stateUnprepared || c.preparing {
		return nil
	}
	c.preparing = true
	defer func() { c.preparing = false }()

	if err := c.prepare(); err != nil {
		c.unwind()
		return err
	}

	c.st = statePrepared
	metrics.Preparations.WithLabelValues(c.protocol).Inc()
	c.log.Debug("connector prepared",
		zap.String("host", c.host), zap.Int("port", c.port))
	return nil
}

func (c *Connector) prepare() error {
	if err := c.cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid service configuration")
	}

	if err := c.resolveRemote(); err != nil {
		return err
	}
	if err := c.resolveCache(); err != nil {
		return err
	}

	// Deferred field functions run before host normalization so a
	// discovery function may still return a candidate list.
	for name, fn := range c.preparedFuncs {
		v, err := fn(c)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig,
				fmt.Sprintf("prepared field %q failed", name))
		}
		if err := c.assignField(name, v); err != nil {
			return err
		}
	}

	if c.host == "" {
		candidates, err := c.cfg.HostCandidates()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid host")
		}
		if len(candidates) > 0 {
			c.host = c.pickHost(candidates)
		}
	}
	if c.port == 0 {
		c.port = c.cfg.Port
	}

	// A "host:port" form overrides the configured port
	if c.host != "" {
		h, p, err := ports.Split(c.host)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid host")
		}
		c.host = h
		if p > 0 {
			c.port = p
		}
	}

	if c.username.Mode() == core.CredentialUnset {
		cred, err := core.ParseCredential(c.cfg.Username)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid username")
		}
		c.username = cred
	}
	if c.password.Mode() == core.CredentialUnset {
		cred, err := core.ParseCredential(c.cfg.Password)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid password")
		}
		c.password = cred
	}

	return nil
}

// resolveRemote turns a string remote reference into a live transport,
// exactly once. Programmatic live objects pass through after a type check.
func (c *Connector) resolveRemote() error {
	switch spec := c.remoteSpec.(type) {
	case nil:
		return nil
	case string:
		if c.registry == nil {
			return errors.Newf(errors.ErrorTypeConfig,
				"remote %q configured but no registry attached", spec)
		}
		svc, err := c.registry.Lookup(spec, core.KindRemote)
		if err != nil {
			return err
		}
		rt, ok := svc.(core.RemoteTransport)
		if !ok {
			return errors.Newf(errors.ErrorTypeKindMismatch,
				"service %q is not a remote transport", spec)
		}
		c.remoteResolved = rt
		return nil
	case core.RemoteTransport:
		c.remoteResolved = spec
		return nil
	default:
		return errors.Newf(errors.ErrorTypeConfig,
			"remote must be a name or a remote transport, got %T", c.remoteSpec)
	}
}

func (c *Connector) resolveCache() error {
	switch spec := c.cacheSpec.(type) {
	case nil:
		return nil
	case string:
		if c.registry == nil {
			return errors.Newf(errors.ErrorTypeConfig,
				"cache %q configured but no registry attached", spec)
		}
		svc, err := c.registry.Lookup(spec, core.KindCache)
		if err != nil {
			return err
		}
		c.cacheResolved = svc
		return nil
	case core.Connector:
		c.cacheResolved = spec
		return nil
	default:
		return errors.Newf(errors.ErrorTypeConfig,
			"cache must be a name or a connector, got %T", c.cacheSpec)
	}
}

// assignField routes a prepared-field result into the right slot
func (c *Connector) assignField(name string, v interface{}) error {
	switch name {
	case "host":
		switch h := v.(type) {
		case string:
			c.host = h
		case []string:
			if len(h) > 0 {
				c.host = c.pickHost(h)
			}
		default:
			return errors.Newf(errors.ErrorTypeConfig,
				"prepared host must be a string or list, got %T", v)
		}
	case "port":
		switch p := v.(type) {
		case int:
			c.port = p
		case string:
			n, err := strconv.Atoi(p)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, "prepared port is not an integer")
			}
			c.port = n
		case nil:
			c.port = 0
		default:
			return errors.Newf(errors.ErrorTypeConfig,
				"prepared port must be an integer, got %T", v)
		}
	case "username":
		cred, err := core.ParseCredential(v)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid prepared username")
		}
		c.username = cred
	case "password":
		cred, err := core.ParseCredential(v)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid prepared password")
		}
		c.password = cred
	default:
		c.preparedExtras[name] = v
	}
	return nil
}

// unwind reverts every materialized field after a failed preparation
func (c *Connector) unwind() {
	c.host = ""
	c.port = 0
	c.username = core.Credential{}
	c.password = core.Credential{}
	c.remoteResolved = nil
	c.cacheResolved = nil
	c.preparedExtras = make(map[string]interface{})
	c.tunneled = false
	c.st = stateUnprepared
}

// Connect establishes the live connection. The target must be reachable —
// through the attached remote transport when one is configured, directly
// otherwise — before the adapter's connect hook runs. A failed hook fully
// resets the connector so no stale prepared state survives, then the
// original error is returned unchanged.
func (c *Connector) Connect(ctx context.Context) error {
	if err := c.ensurePrepared(); err != nil {
		return err
	}
	if c.IsConnected() {
		return nil
	}
	if c.driver == nil {
		return errors.Newf(errors.ErrorTypeCapability,
			"connector %q has no driver bound: adapters must implement the connect hook", c.name)
	}

	if c.host != "" && c.port > 0 {
		if c.remoteResolved != nil {
			if !c.remoteResolved.Reachable(c.host, c.port) {
				return errors.Newf(errors.ErrorTypeUnreachable,
					"%s:%d is not reachable via remote transport %q",
					c.host, c.port, c.remoteResolved.Name())
			}
		} else if !c.probe(c.host, c.port, c.cfg.ConnectTimeout) {
			return errors.Newf(errors.ErrorTypeUnreachable,
				"%s:%d is not reachable and no remote transport is attached",
				c.host, c.port)
		}
	}

	timer := metrics.NewTimer()
	err := c.driver.Connect(ctx)
	metrics.ObserveConnect(c.protocol, timer.Stop(), err)
	if err != nil {
		if rerr := c.Reset(); rerr != nil {
			c.log.Warn("reset after failed connect", zap.Error(rerr))
		}
		return err
	}

	c.st = stateConnected
	metrics.ActiveConnections.WithLabelValues(c.protocol).Inc()
	registerShutdown(c)
	c.log.Info("connected", zap.String("host", c.host), zap.Int("port", c.port))
	return nil
}

// Disconnect tears down the live connection. It is safe on never-prepared,
// already-disconnected, or partially-broken connectors: it is invoked
// unconditionally at process shutdown.
func (c *Connector) Disconnect() error {
	if c.closing {
		return nil
	}
	c.closing = true
	defer func() { c.closing = false }()

	if c.st != stateConnected {
		return nil
	}
	c.markDisconnected()

	if c.onDisconnect != nil {
		c.onDisconnect()
	}
	if c.driver == nil {
		return nil
	}
	if err := c.driver.Disconnect(); err != nil {
		c.log.Warn("disconnect hook failed", zap.Error(err))
		return err
	}
	c.log.Info("disconnected")
	return nil
}

func (c *Connector) markDisconnected() {
	if c.st == stateConnected {
		metrics.ActiveConnections.WithLabelValues(c.protocol).Dec()
	}
	c.st = statePrepared
}

// Reconnect is disconnect followed by connect, with no special-casing
func (c *Connector) Reconnect(ctx context.Context) error {
	if err := c.Disconnect(); err != nil {
		return err
	}
	return c.Connect(ctx)
}

// Reset disconnects and reverts every prepared field to its pre-preparation
// value: string references become names again, deferred field functions
// will re-run on the next preparation. Prompted credentials survive a reset;
// only mutating the credential config drops them.
func (c *Connector) Reset() error {
	err := c.Disconnect()
	c.unwind()
	return err
}

// IsConnected reports whether the connection is live. The adapter hook is
// consulted, and when the connector depends on a tunnel the forward must
// still exist; a dead hook or tunnel demotes the connector to disconnected.
func (c *Connector) IsConnected() bool {
	if c.st != stateConnected || c.driver == nil {
		return false
	}
	live := c.driver.IsConnected()
	if live && c.tunneled && c.remoteResolved != nil {
		live = c.remoteResolved.HasPortForward(c.host, c.port, 0)
	}
	if !live {
		c.markDisconnected()
	}
	return live
}
