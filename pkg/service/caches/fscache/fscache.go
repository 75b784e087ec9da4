// Package fscache provides a local-filesystem cache connector. Entries
// are opaque byte blobs stored under a namespace directory, with a small
// JSON index per namespace tracking creation times.
package fscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/service/base"
	"github.com/ajitpratap0/conflux/pkg/service/core"
)

// Cache is a filesystem-backed cache connector
type Cache struct {
	*base.Connector

	dir string
}

// entry is one index record
type entry struct {
	Key     string    `json:"key"`
	File    string    `json:"file"`
	Created time.Time `json:"created"`
}

// New constructs an unconnected filesystem cache
func New(name string, cfg *config.ServiceConfig) (core.Connector, error) {
	if cfg == nil {
		cfg = config.NewServiceConfig("filesystem_cache")
	}
	dir, _ := cfg.GetString("dir")
	if dir == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "filesystem cache requires a dir option")
	}
	c := &Cache{dir: dir}
	c.Connector = base.New(name, cfg.Protocol, core.KindCache, cfg)
	c.Bind(&driver{c: c})
	return c, nil
}

// Dir reports the cache root directory
func (c *Cache) Dir() string { return c.dir }

// Set stores value under namespace/key
func (c *Cache) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	nsDir := filepath.Join(c.dir, namespace)
	if err := os.MkdirAll(nsDir, 0o750); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot create cache namespace")
	}

	file := keyFile(key)
	tmp := filepath.Join(nsDir, file+".tmp")
	if err := os.WriteFile(tmp, value, 0o640); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cache write failed")
	}
	if err := os.Rename(tmp, filepath.Join(nsDir, file)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cache write failed")
	}

	index, err := c.readIndex(namespace)
	if err != nil {
		return err
	}
	index[key] = entry{Key: key, File: file, Created: time.Now().UTC()}
	return c.writeIndex(namespace, index)
}

// Get returns the value stored under namespace/key
func (c *Cache) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	index, err := c.readIndex(namespace)
	if err != nil {
		return nil, err
	}
	ent, ok := index[key]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "no cache entry for %q in %q", key, namespace)
	}
	data, err := os.ReadFile(filepath.Join(c.dir, namespace, ent.File)) //nolint:gosec // G304: path derives from a hashed key
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "no cache entry for %q in %q", key, namespace)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "cache read failed")
	}
	return data, nil
}

// Has reports whether namespace/key holds an entry
func (c *Cache) Has(ctx context.Context, namespace, key string) (bool, error) {
	if err := c.Connect(ctx); err != nil {
		return false, err
	}
	index, err := c.readIndex(namespace)
	if err != nil {
		return false, err
	}
	_, ok := index[key]
	return ok, nil
}

// Delete removes namespace/key if present
func (c *Cache) Delete(ctx context.Context, namespace, key string) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	index, err := c.readIndex(namespace)
	if err != nil {
		return err
	}
	ent, ok := index[key]
	if !ok {
		return nil
	}
	delete(index, key)
	if err := os.Remove(filepath.Join(c.dir, namespace, ent.File)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cache delete failed")
	}
	return c.writeIndex(namespace, index)
}

func keyFile(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

func (c *Cache) indexPath(namespace string) string {
	return filepath.Join(c.dir, namespace, "index.json")
}

func (c *Cache) readIndex(namespace string) (map[string]entry, error) {
	data, err := os.ReadFile(c.indexPath(namespace)) //nolint:gosec // G304: path is cache-rooted
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]entry{}, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "cannot read cache index")
	}
	index := map[string]entry{}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt cache index")
	}
	return index, nil
}

func (c *Cache) writeIndex(namespace string, index map[string]entry) error {
	data, err := json.Marshal(index)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot encode cache index")
	}
	if err := os.WriteFile(c.indexPath(namespace), data, 0o640); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot write cache index")
	}
	return nil
}

type driver struct {
	c *Cache
}

var _ core.Driver = (*driver)(nil)

// Connect verifies the cache directory exists and is writable
func (d *driver) Connect(ctx context.Context) error {
	dir := d.c.dir
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "cannot create cache directory")
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "cache directory is not writable")
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return nil
}

func (d *driver) Disconnect() error { return nil }

func (d *driver) IsConnected() bool {
	info, err := os.Stat(d.c.dir)
	return err == nil && info.IsDir()
}
