package protocols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/conflux/pkg/service/core"
	"github.com/ajitpratap0/conflux/pkg/service/registry"
)

func TestBuiltinsCoverEveryKind(t *testing.T) {
	kinds := map[core.Kind]bool{}
	for _, reg := range Builtins() {
		require.NotEmpty(t, reg.Impl)
		require.NotEmpty(t, reg.Protocols)
		require.NotNil(t, reg.Factory)
		kinds[reg.Kind] = true
	}
	for _, kind := range []core.Kind{
		core.KindRemote, core.KindDatabase, core.KindFilesystem,
		core.KindCache, core.KindRESTful,
	} {
		assert.True(t, kinds[kind], "no builtin for kind %s", kind)
	}
}

func TestBuiltinsClaimDistinctProtocols(t *testing.T) {
	seen := map[string]string{}
	for _, reg := range Builtins() {
		for _, proto := range reg.Protocols {
			prev, dup := seen[proto]
			assert.False(t, dup, "protocol %q claimed by both %s and %s", proto, prev, reg.Impl)
			seen[proto] = reg.Impl
		}
	}
}

func TestRegisterBuiltins(t *testing.T) {
	RegisterBuiltins()
	RegisterBuiltins() // idempotent

	for _, proto := range []string{"ssh", "postgres", "mysql", "mongodb", "s3", "filesystem_cache", "rest"} {
		reg, err := registry.ResolveProtocol(proto)
		require.NoError(t, err, "protocol %q must be registered", proto)
		assert.NotNil(t, reg.Factory)
	}
}
