// Package registry manages protocol dispatch and named service instances.
// The protocol registry maps protocol strings to connector factories,
// process-wide; the service registry holds configured connector instances
// under one or more names and builds them declaratively from a services
// document.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/logger"
	"github.com/ajitpratap0/conflux/pkg/service/core"
)

// Registration declares one connector implementation and the protocol
// names it serves.
type Registration struct {
	// Impl is the implementation identifier, used to tell duplicate
	// registrations of the same implementation from genuine conflicts
	Impl string
	// Kind of every connector the factory produces
	Kind core.Kind
	// Protocols are the protocol names this implementation claims
	Protocols []string
	// Factory constructs connector instances
	Factory core.Factory
}

// ProtocolRegistry resolves protocol names to connector factories.
// Registration is first-wins: a protocol already claimed by a different
// implementation is left untouched and the duplicate is logged, which keeps
// repeated registration passes harmless.
type ProtocolRegistry struct {
	mu        sync.RWMutex
	protocols map[string]Registration
	logger    *zap.Logger
}

// Global protocol registry instance
var globalProtocols = NewProtocolRegistry()

// NewProtocolRegistry creates an empty protocol registry
func NewProtocolRegistry() *ProtocolRegistry {
	return &ProtocolRegistry{
		protocols: make(map[string]Registration),
		logger:    logger.Get().With(zap.String("component", "protocol_registry")),
	}
}

// Register claims every protocol name in the registration. Names already
// claimed by a different implementation keep their first registration and
// produce a warning, never an error.
func (r *ProtocolRegistry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, proto := range reg.Protocols {
		if existing, ok := r.protocols[proto]; ok {
			if existing.Impl != reg.Impl {
				r.logger.Warn("protocol already registered, keeping first implementation",
					zap.String("protocol", proto),
					zap.String("registered", existing.Impl),
					zap.String("ignored", reg.Impl))
			}
			continue
		}
		r.protocols[proto] = reg
		r.logger.Debug("protocol registered",
			zap.String("protocol", proto), zap.String("impl", reg.Impl))
	}
}

// Resolve returns the registration for a protocol name
func (r *ProtocolRegistry) Resolve(protocol string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.protocols[protocol]
	if !ok {
		return Registration{}, errors.Newf(errors.ErrorTypeProtocol,
			"no connector implementation registered for protocol %q", protocol)
	}
	return reg, nil
}

// Has reports whether a protocol is registered
func (r *ProtocolRegistry) Has(protocol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.protocols[protocol]
	return ok
}

// List returns registered protocol names, sorted
func (r *ProtocolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.protocols))
	for proto := range r.protocols {
		names = append(names, proto)
	}
	sort.Strings(names)
	return names
}

// Clear removes all registrations (mainly for testing)
func (r *ProtocolRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protocols = make(map[string]Registration)
}

// Global protocol registry functions

// RegisterProtocols registers an implementation in the global registry
func RegisterProtocols(reg Registration) {
	globalProtocols.Register(reg)
}

// ResolveProtocol resolves a protocol from the global registry
func ResolveProtocol(protocol string) (Registration, error) {
	return globalProtocols.Resolve(protocol)
}

// ListProtocols returns protocols registered globally
func ListProtocols() []string {
	return globalProtocols.List()
}

// Protocols returns the global protocol registry instance
func Protocols() *ProtocolRegistry {
	return globalProtocols
}
