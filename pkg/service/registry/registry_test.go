package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/service/base"
	"github.com/ajitpratap0/conflux/pkg/service/core"
	"github.com/ajitpratap0/conflux/pkg/service/registry"
	"github.com/ajitpratap0/conflux/pkg/testutil"
)

// fakeFactory builds a connector factory of the given kind, optionally
// recording instantiation order into seen
func fakeFactory(kind core.Kind, seen *[]string) core.Factory {
	return func(name string, cfg *config.ServiceConfig) (core.Connector, error) {
		if seen != nil {
			*seen = append(*seen, name)
		}
		if kind == core.KindRemote {
			conn, _ := testutil.NewFakeRemote(name, cfg)
			return conn, nil
		}
		conn, _ := testutil.NewFakeConnector(name, kind, cfg)
		return conn, nil
	}
}

func newProtocols(seen *[]string) *registry.ProtocolRegistry {
	p := registry.NewProtocolRegistry()
	p.Register(registry.Registration{
		Impl: "fake_remote", Kind: core.KindRemote,
		Protocols: []string{"fake_ssh"},
		Factory:   fakeFactory(core.KindRemote, seen),
	})
	p.Register(registry.Registration{
		Impl: "fake_db", Kind: core.KindDatabase,
		Protocols: []string{"fake_sql"},
		Factory:   fakeFactory(core.KindDatabase, seen),
	})
	p.Register(registry.Registration{
		Impl: "fake_cache", Kind: core.KindCache,
		Protocols: []string{"fake_cache"},
		Factory:   fakeFactory(core.KindCache, seen),
	})
	return p
}

func TestProtocolRegistrationFirstWins(t *testing.T) {
	p := registry.NewProtocolRegistry()

	p.Register(registry.Registration{
		Impl: "first", Kind: core.KindDatabase,
		Protocols: []string{"sql"},
		Factory:   fakeFactory(core.KindDatabase, nil),
	})
	// A competing implementation must not displace the first claim,
	// and must not error either
	p.Register(registry.Registration{
		Impl: "second", Kind: core.KindDatabase,
		Protocols: []string{"sql", "sqlx"},
		Factory:   fakeFactory(core.KindDatabase, nil),
	})

	reg, err := p.Resolve("sql")
	require.NoError(t, err)
	assert.Equal(t, "first", reg.Impl)

	// Unclaimed names from the duplicate registration still land
	reg, err = p.Resolve("sqlx")
	require.NoError(t, err)
	assert.Equal(t, "second", reg.Impl)
}

func TestProtocolReRegistrationIsHarmless(t *testing.T) {
	p := registry.NewProtocolRegistry()
	r := registry.Registration{
		Impl: "fake_db", Kind: core.KindDatabase,
		Protocols: []string{"sql"},
		Factory:   fakeFactory(core.KindDatabase, nil),
	}
	p.Register(r)
	p.Register(r)

	assert.Equal(t, []string{"sql"}, p.List())
}

func TestResolveUnknownProtocol(t *testing.T) {
	p := registry.NewProtocolRegistry()
	_, err := p.Resolve("carrier_pigeon")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProtocol))
}

func TestLookupDistinguishesMissingFromWrongKind(t *testing.T) {
	reg := registry.NewWithProtocols(newProtocols(nil))
	conn, _ := testutil.NewFakeConnector("warehouse", core.KindDatabase, nil)
	require.NoError(t, reg.Register(conn))

	_, err := reg.Lookup("nonexistent", core.KindDatabase)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = reg.Lookup("warehouse", core.KindFilesystem)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeKindMismatch))

	got, err := reg.Lookup("warehouse", core.KindAny)
	require.NoError(t, err)
	assert.Same(t, conn, got)
}

func TestAliasesShareOneInstance(t *testing.T) {
	reg := registry.NewWithProtocols(newProtocols(nil))

	cfg := config.NewServiceConfig("fake_sql")
	cfg.Host = "db.test"
	cfg.Port = 5432
	conn, err := reg.Instantiate([]string{"primary_db", "db"}, "fake_sql", cfg)
	require.NoError(t, err)

	a, err := reg.Lookup("primary_db", core.KindDatabase)
	require.NoError(t, err)
	b, err := reg.Lookup("db", core.KindDatabase)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Same(t, conn, a)
}

// A field mutation through one alias is visible through every other alias,
// since aliases name one shared instance
func TestMutationVisibleThroughAllAliases(t *testing.T) {
	reg := registry.NewWithProtocols(newProtocols(nil))

	cfg := config.NewServiceConfig("fake_sql")
	cfg.Host = "db.test"
	cfg.Port = 5432
	_, err := reg.Instantiate([]string{"primary_db", "db"}, "fake_sql", cfg)
	require.NoError(t, err)

	a, err := reg.Lookup("primary_db", core.KindDatabase)
	require.NoError(t, err)
	a.(*base.Connector).SetHost("replica.test")

	b, err := reg.Lookup("db", core.KindDatabase)
	require.NoError(t, err)
	host, err := b.Host()
	require.NoError(t, err)
	assert.Equal(t, "replica.test", host)
}

func TestDeregisterLeavesOtherAliases(t *testing.T) {
	reg := registry.NewWithProtocols(newProtocols(nil))
	_, err := reg.Instantiate([]string{"primary_db", "db"}, "fake_sql", nil)
	require.NoError(t, err)

	reg.Deregister("db")

	assert.False(t, reg.Has("db"))
	assert.True(t, reg.Has("primary_db"))
}

func TestInstantiateUnknownProtocol(t *testing.T) {
	reg := registry.NewWithProtocols(newProtocols(nil))
	_, err := reg.Instantiate([]string{"svc"}, "carrier_pigeon", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProtocol))
}

func TestLoadFromConfigHonorsKindOrder(t *testing.T) {
	var seen []string
	reg := registry.NewWithProtocols(newProtocols(&seen))

	doc := &config.Document{
		Databases: map[string]*config.ServiceConfig{
			"warehouse": {Protocol: "fake_sql", Host: "db.internal", Port: 5432, Remote: "gateway"},
		},
		Caches: map[string]*config.ServiceConfig{
			"local_cache": {Protocol: "fake_cache"},
		},
		Remotes: map[string]*config.ServiceConfig{
			"gateway": {Protocol: "fake_ssh", Host: "bastion.test", Port: 22},
		},
	}

	require.NoError(t, reg.LoadFromConfig(doc))
	require.Equal(t, []string{"gateway", "local_cache", "warehouse"}, seen,
		"remotes come before caches, caches before databases")

	// The database's string reference resolves against the loaded gateway
	conn, err := reg.Lookup("warehouse", core.KindDatabase)
	require.NoError(t, err)
	require.NoError(t, conn.Prepare())
	host, err := conn.Host()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host, "a remote-routed service dials loopback")
}

func TestLoadFromConfigAliases(t *testing.T) {
	reg := registry.NewWithProtocols(newProtocols(nil))

	doc := &config.Document{
		Databases: map[string]*config.ServiceConfig{
			"warehouse, dw": {Protocol: "fake_sql", Host: "db.test", Port: 5432},
		},
	}
	require.NoError(t, reg.LoadFromConfig(doc))

	a, err := reg.Lookup("warehouse", core.KindDatabase)
	require.NoError(t, err)
	b, err := reg.Lookup("dw", core.KindDatabase)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestLoadFromConfigRejectsKindMismatch(t *testing.T) {
	reg := registry.NewWithProtocols(newProtocols(nil))

	// A database protocol configured under the remotes section
	doc := &config.Document{
		Remotes: map[string]*config.ServiceConfig{
			"gateway": {Protocol: "fake_sql", Host: "db.test", Port: 5432},
		},
	}
	err := reg.LoadFromConfig(doc)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRegisterRejectsNameless(t *testing.T) {
	reg := registry.NewWithProtocols(newProtocols(nil))
	conn, _ := testutil.NewFakeConnector("", core.KindDatabase, nil)
	err := reg.Register(conn)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
