// Package mongodb provides a MongoDB database connector.
package mongodb

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/service/base"
	"github.com/ajitpratap0/conflux/pkg/service/core"
)

const defaultPort = 27017

// Client is a MongoDB connector
type Client struct {
	*base.Connector

	client *mongo.Client
}

// New constructs an unconnected MongoDB connector
func New(name string, cfg *config.ServiceConfig) (core.Connector, error) {
	if cfg == nil {
		cfg = config.NewServiceConfig("mongodb")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	c := &Client{}
	c.Connector = base.New(name, cfg.Protocol, core.KindDatabase, cfg)
	c.Bind(&driver{c: c})
	return c, nil
}

// Database returns a handle on the named database, connecting on demand.
// An empty name falls back to the configured default database.
func (c *Client) Database(ctx context.Context, name string) (*mongo.Database, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	if name == "" {
		name, _ = c.Config().GetString("database")
	}
	if name == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "no database name given or configured")
	}
	return c.client.Database(name), nil
}

type driver struct {
	c *Client
}

var _ core.Driver = (*driver)(nil)

func (d *driver) Connect(ctx context.Context) error {
	c := d.c
	uri, err := d.uri()
	if err != nil {
		return err
	}

	opts := options.Client().ApplyURI(uri)
	if timeout := c.Config().ConnectTimeout; timeout > 0 {
		opts.SetConnectTimeout(timeout)
		opts.SetServerSelectionTimeout(timeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid mongodb configuration")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return errors.Wrap(err, errors.ErrorTypeConnection, "mongodb ping failed")
	}

	c.client = client
	return nil
}

func (d *driver) Disconnect() error {
	if d.c.client == nil {
		return nil
	}
	err := d.c.client.Disconnect(context.Background())
	d.c.client = nil
	return err
}

func (d *driver) IsConnected() bool {
	if d.c.client == nil {
		return false
	}
	return d.c.client.Ping(context.Background(), readpref.Primary()) == nil
}

func (d *driver) uri() (string, error) {
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

	u := &url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(host, fmt.Sprintf("%d", port)),
	}
	if username != "" {
		u.User = url.UserPassword(username, password)
	}
	if authSource, ok := c.Config().GetString("auth_source"); ok {
		q := u.Query()
		q.Set("authSource", authSource)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
