// Package conflux provides unified, lazy access to heterogeneous services
// (databases, filesystems, caches, REST APIs) through a single connection
// lifecycle, with transparent routing through remote gateways.
//
// Every service is a Connector: construction is free, preparation happens on
// the first field access, and connections are established only when needed.
// Services reference each other by name — a database can name an SSH gateway
// as its remote and its traffic is tunneled through a managed port forward
// without the caller noticing.
//
// # Quick Start
//
// Describe services declaratively and load them into a registry:
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/conflux/pkg/config"
//	    "github.com/ajitpratap0/conflux/pkg/service/protocols"
//	    "github.com/ajitpratap0/conflux/pkg/service/registry"
//	)
//
//	protocols.RegisterBuiltins()
//
//	doc, _ := config.Load("services.yaml")
//	reg := registry.New()
//	_ = reg.LoadFromConfig(doc)
//
//	db, _ := reg.Lookup("warehouse", core.KindDatabase)
//	_ = db.Connect(context.Background())
//
// A services.yaml might read:
//
//	remotes:
//	  gateway: {protocol: ssh, host: gw.example.com, port: 22, username: alice}
//	databases:
//	  "warehouse, dw":
//	    protocol: postgres
//	    host: db.internal
//	    port: 5432
//	    remote: gateway
//	    username: true   # prompt once, cache for the connector's lifetime
//	    password: true
//
// # Key Packages
//
//	pkg/service/core      - Connector, RemoteTransport and Driver contracts
//	pkg/service/base      - the lifecycle core every adapter embeds
//	pkg/service/registry  - protocol dispatch and named service instances
//	pkg/service/remote    - port forwarding, command execution, URI localization
//	pkg/config            - the declarative services document
//	cmd/conflux           - CLI: validate, check, exec, forward
package conflux
