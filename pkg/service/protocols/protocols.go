// Package protocols registers the built-in connector implementations.
// Importing it (or calling RegisterBuiltins) makes every bundled protocol
// resolvable through the global protocol registry.
package protocols

import (
	"sync"

	"github.com/ajitpratap0/conflux/pkg/service/caches/fscache"
	"github.com/ajitpratap0/conflux/pkg/service/core"
	"github.com/ajitpratap0/conflux/pkg/service/databases/mongodb"
	"github.com/ajitpratap0/conflux/pkg/service/databases/sqlclient"
	"github.com/ajitpratap0/conflux/pkg/service/filesystems/s3"
	"github.com/ajitpratap0/conflux/pkg/service/registry"
	"github.com/ajitpratap0/conflux/pkg/service/remotes/ssh"
	"github.com/ajitpratap0/conflux/pkg/service/rest"
)

var once sync.Once

// Builtins returns the registrations for every bundled implementation
func Builtins() []registry.Registration {
	return []registry.Registration{
		{
			Impl:      "ssh",
			Kind:      core.KindRemote,
			Protocols: []string{"ssh", "ssh_cli"},
			Factory:   ssh.New,
		},
		{
			Impl:      "sqlclient",
			Kind:      core.KindDatabase,
			Protocols: []string{"postgres", "postgresql", "mysql"},
			Factory:   sqlclient.New,
		},
		{
			Impl:      "mongodb",
			Kind:      core.KindDatabase,
			Protocols: []string{"mongodb"},
			Factory:   mongodb.New,
		},
		{
			Impl:      "s3",
			Kind:      core.KindFilesystem,
			Protocols: []string{"s3"},
			Factory:   s3.New,
		},
		{
			Impl:      "filesystem_cache",
			Kind:      core.KindCache,
			Protocols: []string{"filesystem_cache"},
			Factory:   fscache.New,
		},
		{
			Impl:      "rest",
			Kind:      core.KindRESTful,
			Protocols: []string{"rest", "http_rest"},
			Factory:   rest.New,
		},
	}
}

// RegisterBuiltins registers every bundled implementation in the global
// protocol registry. Safe to call more than once.
func RegisterBuiltins() {
	once.Do(func() {
		for _, reg := range Builtins() {
			registry.RegisterProtocols(reg)
		}
	})
}
