// Package rest provides a REST API client connector. The base URL is
// derived from the prepared host and port, so a client behind a remote
// transport transparently talks through a local port forward.
package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/service/base"
	"github.com/ajitpratap0/conflux/pkg/service/core"
)

// Client is a REST API connector
type Client struct {
	*base.Connector

	http *http.Client
}

// New constructs an unconnected REST client
func New(name string, cfg *config.ServiceConfig) (core.Connector, error) {
	if cfg == nil {
		cfg = config.NewServiceConfig("rest")
	}
	c := &Client{}
	c.Connector = base.New(name, cfg.Protocol, core.KindRESTful, cfg)
	c.Bind(&driver{c: c})
	return c, nil
}

// BaseURL assembles the service root URL from the prepared fields
func (c *Client) BaseURL() (string, error) {
	host, err := c.Host()
	if err != nil {
		return "", err
	}
	port, err := c.Port()
	if err != nil {
		return "", err
	}

	scheme, ok := c.Config().GetString("scheme")
	if !ok {
		scheme = "http"
	}
	basePath, _ := c.Config().GetString("base_path")

	u := &url.URL{Scheme: scheme, Host: host, Path: basePath}
	if port > 0 && !isDefaultPort(scheme, port) {
		u.Host = fmt.Sprintf("%s:%d", host, port)
	}
	return u.String(), nil
}

func isDefaultPort(scheme string, port int) bool {
	return (scheme == "http" && port == 80) || (scheme == "https" && port == 443)
}

// Do issues a request against path relative to the base URL, connecting
// first if necessary. Basic auth is attached when credentials resolve.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	baseURL, err := c.BaseURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method,
		strings.TrimRight(baseURL, "/")+"/"+strings.TrimLeft(path, "/"), body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid request")
	}
	username, err := c.Username()
	if err != nil {
		return nil, err
	}
	if username != "" {
		password, err := c.Password()
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(username, password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	return resp, nil
}

// GetJSON issues a GET and decodes the JSON response into out
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.Newf(errors.ErrorTypeAuthentication, "request to %s rejected with %s", path, resp.Status)
	}
	if resp.StatusCode >= 400 {
		return errors.Newf(errors.ErrorTypeConnection, "request to %s failed with %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot decode response body")
	}
	return nil
}

type driver struct {
	c *Client
}

var _ core.Driver = (*driver)(nil)

// Connect builds the HTTP client and, when a health path is configured,
// gates on it answering with a non-error status
func (d *driver) Connect(ctx context.Context) error {
	c := d.c
	c.http = &http.Client{Timeout: c.Config().ConnectTimeout}

	healthPath, ok := c.Config().GetString("health_path")
	if !ok {
		return nil
	}

	baseURL, err := c.BaseURL()
	if err != nil {
		c.http = nil
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(baseURL, "/")+"/"+strings.TrimLeft(healthPath, "/"), nil)
	if err != nil {
		c.http = nil
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid health path")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.http = nil
		return errors.Wrap(err, errors.ErrorTypeConnection, "health check failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		c.http = nil
		return errors.Newf(errors.ErrorTypeConnection, "health check answered %s", resp.Status)
	}
	return nil
}

func (d *driver) Disconnect() error {
	if d.c.http != nil {
		d.c.http.CloseIdleConnections()
		d.c.http = nil
	}
	return nil
}

func (d *driver) IsConnected() bool {
	return d.c.http != nil
}
