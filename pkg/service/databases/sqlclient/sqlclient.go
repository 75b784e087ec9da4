// Package sqlclient provides SQL database connectors over database/sql.
// A single client serves both PostgreSQL and MySQL, selected by dialect,
// so every relational protocol shares one lifecycle and query surface.
package sqlclient

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/service/base"
	"github.com/ajitpratap0/conflux/pkg/service/core"
)

// Dialect selects the SQL flavor and wire driver
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// DialectFor maps a protocol name to its dialect
func DialectFor(protocol string) (Dialect, error) {
	switch strings.ToLower(protocol) {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	default:
		return "", errors.Newf(errors.ErrorTypeProtocol, "no SQL dialect for protocol %q", protocol)
	}
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "mysql"
}

func (d Dialect) defaultPort() int {
	if d == DialectPostgres {
		return 5432
	}
	return 3306
}

// Client is a SQL database connector
type Client struct {
	*base.Connector

	dialect Dialect
	db      *sql.DB
}

// New constructs an unconnected SQL connector for cfg.Protocol's dialect
func New(name string, cfg *config.ServiceConfig) (core.Connector, error) {
	if cfg == nil {
		cfg = config.NewServiceConfig("postgresql")
	}
	dialect, err := DialectFor(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = dialect.defaultPort()
	}
	c := &Client{dialect: dialect}
	c.Connector = base.New(name, cfg.Protocol, core.KindDatabase, cfg)
	c.Bind(&driver{c: c})
	return c, nil
}

// Dialect reports the SQL flavor the client speaks
func (c *Client) Dialect() Dialect { return c.dialect }

// DB exposes the underlying pool for callers that need database/sql
// directly. Connects on demand.
func (c *Client) DB(ctx context.Context) (*sql.DB, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c.db, nil
}

// Query runs a read query, connecting first if necessary
func (c *Client) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	db, err := c.DB(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "query failed")
	}
	return rows, nil
}

// Exec runs a statement, connecting first if necessary
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	db, err := c.DB(ctx)
	if err != nil {
		return nil, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "statement failed")
	}
	return res, nil
}

type driver struct {
	c *Client
}

var _ core.Driver = (*driver)(nil)

func (d *driver) Connect(ctx context.Context) error {
	c := d.c
	dsn, err := d.dsn()
	if err != nil {
		return err
	}

	db, err := sql.Open(c.dialect.driverName(), dsn)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid database configuration")
	}

	pingCtx := ctx
	if timeout := c.Config().ConnectTimeout; timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		if strings.Contains(err.Error(), "password authentication") ||
			strings.Contains(err.Error(), "Access denied") {
			return errors.Wrap(err, errors.ErrorTypeAuthentication, "database rejected credentials")
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, "database ping failed")
	}

	c.db = db
	return nil
}

func (d *driver) Disconnect() error {
	if d.c.db == nil {
		return nil
	}
	err := d.c.db.Close()
	d.c.db = nil
	return err
}

func (d *driver) IsConnected() bool {
	if d.c.db == nil {
		return false
	}
	return d.c.db.Ping() == nil
}

// dsn builds the driver connection string from the prepared connector
// fields. Host and Port route through any attached remote, so a
// tunneled database needs no special casing here.
func (d *driver) dsn() (string, error) {
	c := d.c
	host, err := c.Host()
	if err != nil {
		return "", err
	}
	port, err := c.Port()
	if err != nil {
		return "", err
	}
	username, err := c.Username()
	if err != nil {
		return "", err
	}
	password, err := c.Password()
	if err != nil {
		return "", err
	}
	database, _ := c.Config().GetString("database")

	switch c.dialect {
	case DialectPostgres:
		u := &url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(host, fmt.Sprintf("%d", port)),
			Path:   "/" + database,
		}
		if username != "" {
			u.User = url.UserPassword(username, password)
		}
		q := u.Query()
		if sslmode, ok := c.Config().GetString("sslmode"); ok {
			q.Set("sslmode", sslmode)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	default:
		cred := ""
		if username != "" {
			cred = username
			if password != "" {
				cred += ":" + password
			}
			cred += "@"
		}
		return fmt.Sprintf("%stcp(%s:%d)/%s?parseTime=true", cred, host, port, database), nil
	}
}
