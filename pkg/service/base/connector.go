// Package base provides the foundational Connector that all Conflux service
// adapters embed. It owns the connection lifecycle: lazy preparation of
// connection fields, reachability-gated connects, field-mutation
// invalidation, credential prompting, and delegation to an attached remote
// transport for host/port resolution.
//
// # Lifecycle
//
// A connector moves between three states:
//
//	unprepared -> prepared (disconnected) -> connected
//
// Construction is cheap and performs no I/O. The first read of any
// connection field (host, port, remote, username, password, plus adapter
// additions) triggers preparation: string references to other registered
// services are resolved, deferred field functions run, host candidate lists
// collapse to one reachable host, and "host:port" forms are split. Connect
// then gates on reachability before invoking the adapter's connect hook.
// Mutating a connection field while connected logs a warning, disconnects,
// and forces re-preparation on the next access.
//
// # Usage
//
// Adapters embed *base.Connector and bind themselves as the driver:
//
//	type MyClient struct {
//	    *base.Connector
//	}
//
//	func New(name string, cfg *config.ServiceConfig) (core.Connector, error) {
//	    c := &MyClient{}
//	    c.Connector = base.New(name, cfg.Protocol, core.KindDatabase, cfg)
//	    c.Bind(c)
//	    return c, nil
//	}
package base

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/logger"
	"github.com/ajitpratap0/conflux/pkg/ports"
	"github.com/ajitpratap0/conflux/pkg/service/core"
)

type state int

const (
	stateUnprepared state = iota
	statePrepared
	stateConnected
)

// FieldFunc is a deferred field value, invoked with the connector at
// preparation time. It supports host-discovery style logic that cannot run
// at construction.
type FieldFunc func(c *Connector) (interface{}, error)

// ProbeFunc checks whether host:port accepts TCP connections
type ProbeFunc func(host string, port int, timeout time.Duration) bool

// roundRobin rotates the starting index for host candidate selection
var roundRobin uint64

// Connector implements the connection lifecycle shared by every service
// adapter. The lifecycle itself assumes cooperative single-threaded use per
// instance; only the process-wide shutdown list is synchronized.
type Connector struct {
	name     string
	protocol string
	kind     core.Kind
	cfg      *config.ServiceConfig
	log      *zap.Logger

	driver   core.Driver
	registry core.Registry

	// materialized connection fields, valid only while prepared
	host     string
	port     int
	username core.Credential
	password core.Credential

	// remote/cache are string-or-object: the spec (string name or live
	// object) is kept as configured, the resolved form is dropped on reset
	remoteSpec     interface{}
	remoteResolved core.RemoteTransport
	cacheSpec      interface{}
	cacheResolved  core.Connector

	// prompt cache: once per connector lifetime, invalidated by mutation
	promptedUser string
	promptedPass string
	userPrompted bool
	passPrompted bool
	prompter     Prompter

	preparedFuncs    map[string]FieldFunc
	preparedExtras   map[string]interface{}
	connectionFields []string

	st         state
	preparing  bool
	closing    bool
	tunneled   bool
	registered int32 // shutdown list registration, once per instance

	onDisconnect func() // runs before the driver hook on every disconnect

	probe ProbeFunc
}

// New creates an unprepared connector. No I/O happens until a connection
// field is read.
func New(name, protocol string, kind core.Kind, cfg *config.ServiceConfig) *Connector {
	if cfg == nil {
		cfg = config.NewServiceConfig(protocol)
	}
	c := &Connector{
		name:     name,
		protocol: protocol,
		kind:     kind,
		cfg:      cfg,
		log: logger.Get().With(
			zap.String("service", name),
			zap.String("protocol", protocol)),
		preparedFuncs:    make(map[string]FieldFunc),
		preparedExtras:   make(map[string]interface{}),
		connectionFields: []string{"host", "port", "remote", "username", "password"},
		prompter:         TerminalPrompter,
		probe:            ports.Open,
	}
	if cfg.Remote != "" {
		c.remoteSpec = cfg.Remote
	}
	if cfg.Cache != "" {
		c.cacheSpec = cfg.Cache
	}
	return c
}

// Name returns the primary registered name
func (c *Connector) Name() string { return c.name }

// Protocol returns the protocol string
func (c *Connector) Protocol() string { return c.protocol }

// Kind returns the service kind
func (c *Connector) Kind() core.Kind { return c.kind }

// Config returns the underlying service configuration
func (c *Connector) Config() *config.ServiceConfig { return c.cfg }

// Logger returns the connector logger
func (c *Connector) Logger() *zap.Logger { return c.log }

// Bind attaches the adapter's driver hooks. Every adapter must bind; a
// connector without a driver fails loudly on connect.
func (c *Connector) Bind(driver core.Driver) { c.driver = driver }

// AttachRegistry hands the connector its registry back-reference. The
// registry is used only to resolve remote/cache names, never owned.
func (c *Connector) AttachRegistry(r core.Registry) { c.registry = r }

// SetReachabilityProbe replaces the TCP probe (tests inject fakes here)
func (c *Connector) SetReachabilityProbe(p ProbeFunc) { c.probe = p }

// SetOnDisconnect installs a callback that runs before the driver hook on
// every disconnect (remote transports stop their forwards here)
func (c *Connector) SetOnDisconnect(fn func()) { c.onDisconnect = fn }

// SetPrompter replaces the interactive credential prompter
func (c *Connector) SetPrompter(p Prompter) { c.prompter = p }

// SetPreparedField registers a deferred field value resolved at preparation
// time. Recognized names (host, port, username, password) assign the
// corresponding connection field; any other name becomes an adapter option.
func (c *Connector) SetPreparedField(name string, fn FieldFunc) {
	c.preparedFuncs[name] = fn
}

// RegisterConnectionFields appends adapter-specific field names whose
// mutation invalidates the connection, mirroring the defaults (host, port,
// remote, username, password).
func (c *Connector) RegisterConnectionFields(names ...string) {
	for _, n := range names {
		if !c.isConnectionField(n) {
			c.connectionFields = append(c.connectionFields, n)
		}
	}
}

// ConnectionFields returns the ordered set of invalidating field names
func (c *Connector) ConnectionFields() []string {
	out := make([]string, len(c.connectionFields))
	copy(out, c.connectionFields)
	return out
}

func (c *Connector) isConnectionField(name string) bool {
	for _, f := range c.connectionFields {
		if f == name {
			return true
		}
	}
	return false
}

// Host returns the address dependent code should dial. With a remote
// transport attached this is always the loopback address; the real host is
// only reachable through the tunnel.
func (c *Connector) Host() (string, error) {
	if err := c.ensurePrepared(); err != nil {
		return "", err
	}
	if c.remoteResolved != nil {
		return "127.0.0.1", nil
	}
	return c.host, nil
}

// Port returns the port dependent code should dial. With a remote transport
// attached this establishes (or reuses) a tunnel and returns its local port.
func (c *Connector) Port() (int, error) {
	if err := c.ensurePrepared(); err != nil {
		return 0, err
	}
	if c.remoteResolved != nil && c.port > 0 {
		local, err := c.remoteResolved.PortForward(c.host, c.port, 0)
		if err != nil {
			return 0, err
		}
		c.tunneled = true
		return local, nil
	}
	return c.port, nil
}

// Remote returns the resolved remote transport, or nil when none is attached
func (c *Connector) Remote() (core.RemoteTransport, error) {
	if err := c.ensurePrepared(); err != nil {
		return nil, err
	}
	return c.remoteResolved, nil
}

// RemoteSpec returns the remote field as currently held: the resolved
// transport while prepared, otherwise the configured spec (a name string or
// a live object).
func (c *Connector) RemoteSpec() interface{} {
	if c.remoteResolved != nil {
		return c.remoteResolved
	}
	return c.remoteSpec
}

// Cache returns the resolved cache collaborator, or nil when none is attached
func (c *Connector) Cache() (core.Connector, error) {
	if err := c.ensurePrepared(); err != nil {
		return nil, err
	}
	return c.cacheResolved, nil
}

// CacheSpec returns the cache field as currently held (see RemoteSpec)
func (c *Connector) CacheSpec() interface{} {
	if c.cacheResolved != nil {
		return c.cacheResolved
	}
	return c.cacheSpec
}

// Option returns an adapter option, preferring values materialized by
// prepared-field functions over the raw configured value.
func (c *Connector) Option(name string) (interface{}, error) {
	if err := c.ensurePrepared(); err != nil {
		return nil, err
	}
	if v, ok := c.preparedExtras[name]; ok {
		return v, nil
	}
	return c.cfg.Options[name], nil
}

// SetHost mutates the configured host (string or candidate list)
func (c *Connector) SetHost(v interface{}) {
	c.invalidate("host")
	c.cfg.Host = v
}

// SetPort mutates the configured port
func (c *Connector) SetPort(port int) {
	c.invalidate("port")
	c.cfg.Port = port
}

// SetUsername mutates the configured username and drops any prompted value
func (c *Connector) SetUsername(v interface{}) {
	c.invalidate("username")
	c.cfg.Username = v
	c.userPrompted = false
	c.promptedUser = ""
}

// SetPassword mutates the configured password and drops any prompted value
func (c *Connector) SetPassword(v interface{}) {
	c.invalidate("password")
	c.cfg.Password = v
	c.passPrompted = false
	c.promptedPass = ""
}

// SetRemote mutates the remote transport reference (a registered name or a
// live transport)
func (c *Connector) SetRemote(v interface{}) {
	c.invalidate("remote")
	c.remoteSpec = v
	c.remoteResolved = nil
	if s, ok := v.(string); ok {
		c.cfg.Remote = s
	}
}

// SetCache mutates the cache reference (a registered name or a live connector)
func (c *Connector) SetCache(v interface{}) {
	c.invalidate("cache")
	c.cacheSpec = v
	c.cacheResolved = nil
	if s, ok := v.(string); ok {
		c.cfg.Cache = s
	}
}

// Set mutates an adapter option; registered connection fields invalidate
// the connection like the built-in fields do.
func (c *Connector) Set(name string, value interface{}) {
	switch name {
	case "host":
		c.SetHost(value)
		return
	case "port":
		switch p := value.(type) {
		case int:
			c.SetPort(p)
		case string:
			n, err := strconv.Atoi(p)
			if err != nil {
				c.log.Warn("ignoring non-integer port value", zap.String("value", p))
				return
			}
			c.SetPort(n)
		default:
			c.log.Warn("ignoring port value of unsupported type",
				zap.String("type", fmt.Sprintf("%T", value)))
		}
		return
	case "username":
		c.SetUsername(value)
		return
	case "password":
		c.SetPassword(value)
		return
	case "remote":
		c.SetRemote(value)
		return
	case "cache":
		c.SetCache(value)
		return
	}
	if c.isConnectionField(name) {
		c.invalidate(name)
	}
	if c.cfg.Options == nil {
		c.cfg.Options = make(map[string]interface{})
	}
	c.cfg.Options[name] = value
}

// invalidate implements the field-mutation contract: warn, disconnect,
// revert the materialized fields so the next access re-prepares from the
// mutated configuration. Prompted credentials survive; the credential
// setters drop them separately.
func (c *Connector) invalidate(field string) {
	if c.st == stateConnected {
		c.log.Warn("connection field changed while connected, disconnecting",
			zap.String("field", field))
		if err := c.Disconnect(); err != nil {
			c.log.Warn("disconnect after field change failed", zap.Error(err))
		}
	}
	c.unwind()
}

// pickHost collapses a candidate list to one host. Selection starts at a
// rotating index and takes the first candidate that answers a TCP probe;
// when none answer (or probing is impossible because a remote transport is
// attached) the rotation pick stands and Connect reports unreachability.
func (c *Connector) pickHost(candidates []string) string {
	if len(candidates) == 1 {
		return candidates[0]
	}
	start := int(atomic.AddUint64(&roundRobin, 1)) % len(candidates)
	if c.remoteSpec != nil {
		return candidates[start]
	}
	for i := 0; i < len(candidates); i++ {
		cand := candidates[(start+i)%len(candidates)]
		h, p, err := ports.Split(cand)
		if err != nil {
			continue
		}
		if p == 0 {
			p = c.cfg.Port
		}
		if p > 0 && c.probe(h, p, c.cfg.ConnectTimeout) {
			return cand
		}
	}
	return candidates[start]
}

var _ core.Connector = (*Connector)(nil)
