package registry

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/logger"
	"github.com/ajitpratap0/conflux/pkg/service/core"
)

// ServiceRegistry is a named collection of connector instances. One
// connector may be registered under several names (aliases); lookups can
// filter by kind, and "no such name" is reported distinctly from "name
// exists but wrong kind".
type ServiceRegistry struct {
	mu        sync.RWMutex
	services  map[string]core.Connector
	protocols *ProtocolRegistry
	logger    *zap.Logger
}

// New creates a service registry backed by the global protocol registry
func New() *ServiceRegistry {
	return NewWithProtocols(globalProtocols)
}

// NewWithProtocols creates a service registry with an explicit protocol
// registry (tests use isolated ones)
func NewWithProtocols(p *ProtocolRegistry) *ServiceRegistry {
	return &ServiceRegistry{
		services:  make(map[string]core.Connector),
		protocols: p,
		logger:    logger.Get().With(zap.String("component", "service_registry")),
	}
}

// Register stores a connector under the given names, or under its own name
// when none are given. A connector with no resolvable name is an error.
func (r *ServiceRegistry) Register(conn core.Connector, names ...string) error {
	if conn == nil {
		return errors.New(errors.ErrorTypeValidation, "cannot register a nil connector")
	}
	if len(names) == 0 {
		if conn.Name() == "" {
			return errors.New(errors.ErrorTypeValidation,
				"connector has no name and none was given")
		}
		names = []string{conn.Name()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if name == "" {
			return errors.New(errors.ErrorTypeValidation, "service name cannot be empty")
		}
		r.services[name] = conn
		r.logger.Info("service registered",
			zap.String("name", name),
			zap.String("protocol", conn.Protocol()),
			zap.String("kind", string(conn.Kind())))
	}
	return nil
}

// Lookup returns the connector registered under name. With a kind other
// than KindAny, a connector of the wrong kind fails with a kind-mismatch
// error, distinct from not-found.
func (r *ServiceRegistry) Lookup(name string, kind core.Kind) (core.Connector, error) {
	r.mu.RLock()
	conn, ok := r.services[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "no service named %q", name)
	}
	if kind != core.KindAny && conn.Kind() != kind {
		return nil, errors.Newf(errors.ErrorTypeKindMismatch,
			"service %q is a %s, not a %s", name, conn.Kind(), kind)
	}
	return conn, nil
}

// Has reports whether a name is registered
func (r *ServiceRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[name]
	return ok
}

// Names returns all registered names
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// Deregister removes a name. The connector stays registered under any
// remaining aliases.
func (r *ServiceRegistry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, name)
}

// Instantiate resolves protocol through the protocol registry, constructs
// the connector with this registry attached, and registers it under every
// name in names. Multiple names make one instance answer to several
// aliases (legacy plus current, typically).
func (r *ServiceRegistry) Instantiate(names []string, protocol string, cfg *config.ServiceConfig) (core.Connector, error) {
	if len(names) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "at least one service name is required")
	}

	reg, err := r.protocols.Resolve(protocol)
	if err != nil {
		return nil, err
	}

	conn, err := reg.Factory(names[0], cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig,
			"failed to construct connector for protocol "+protocol)
	}
	conn.AttachRegistry(r)

	if err := r.Register(conn, names...); err != nil {
		return nil, err
	}
	return conn, nil
}

// loadOrder fixes the dependency order for declarative instantiation: a
// database's cache may reference a filesystem, and a filesystem's cache may
// reference a remote, so remotes and filesystems come before caches, and
// caches before everything else.
var loadOrder = []core.Kind{
	core.KindRemote,
	core.KindFilesystem,
	core.KindCache,
	core.KindRESTful,
	core.KindDatabase,
	core.KindOther,
}

// LoadFromConfig instantiates every service in the document, honoring the
// kind dependency order. Comma-separated keys register one connector under
// several aliases.
func (r *ServiceRegistry) LoadFromConfig(doc *config.Document) error {
	sections := map[core.Kind]map[string]*config.ServiceConfig{
		core.KindRemote:     doc.Remotes,
		core.KindFilesystem: doc.Filesystems,
		core.KindCache:      doc.Caches,
		core.KindRESTful:    doc.RESTClients,
		core.KindDatabase:   doc.Databases,
		core.KindOther:      doc.Other,
	}

	for _, kind := range loadOrder {
		for key, sc := range sections[kind] {
			names := splitAliases(key)
			conn, err := r.Instantiate(names, sc.Protocol, sc)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig,
					"failed to instantiate service "+key)
			}
			if conn.Kind() != kind {
				return errors.Newf(errors.ErrorTypeConfig,
					"protocol %q builds a %s connector but %q is configured under %s",
					sc.Protocol, conn.Kind(), key, kind)
			}
		}
	}
	return nil
}

// splitAliases splits a comma-separated alias list into clean names
func splitAliases(key string) []string {
	parts := strings.Split(key, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			names = append(names, name)
		}
	}
	return names
}

var _ core.Registry = (*ServiceRegistry)(nil)
