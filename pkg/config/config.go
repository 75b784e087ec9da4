// Package config provides the declarative services document for Conflux.
// A single Document describes every remote, filesystem, cache, REST client
// and database the process may talk to, keyed by service kind. Each entry
// carries a protocol plus arbitrary adapter options; the service registry
// instantiates connectors from it in dependency order.
//
// Example document:
//
//	remotes:
//	  gateway: {protocol: ssh, host: gw.example.com, port: 22, username: alice}
//	filesystems:
//	  "hdfs,hdfs_legacy": {protocol: webhdfs, host: namenode, port: 50070, remote: gateway}
//	databases:
//	  pg1: {protocol: postgres, host: dbhost, port: 5432, username: true, password: true}
package config

import (
	"fmt"
	"time"
)

// Document is the top-level services configuration, keyed by service kind.
// Map keys may be a single service name or a comma-separated alias list;
// every alias resolves to the same connector instance.
type Document struct {
	Remotes     map[string]*ServiceConfig `yaml:"remotes" json:"remotes"`
	Filesystems map[string]*ServiceConfig `yaml:"filesystems" json:"filesystems"`
	Caches      map[string]*ServiceConfig `yaml:"caches" json:"caches"`
	RESTClients map[string]*ServiceConfig `yaml:"rest_clients" json:"rest_clients"`
	Databases   map[string]*ServiceConfig `yaml:"databases" json:"databases"`
	Other       map[string]*ServiceConfig `yaml:"other" json:"other"`
}

// ServiceConfig configures one connector instance. Host, Username and
// Password are deliberately loose-typed: host accepts a string, a
// "host:port" form, or a list of candidate hosts; credentials accept a
// literal value, true ("prompt interactively") or false ("no credential").
type ServiceConfig struct {
	// Protocol selects the connector implementation class
	Protocol string `yaml:"protocol" json:"protocol"`

	// Host may be a string, "host:port", or a list of candidate hosts
	Host interface{} `yaml:"host,omitempty" json:"host,omitempty"`
	// Port of the service endpoint; overridden by a "host:port" host form
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// Username and Password may be a string, true (prompt) or false (none)
	Username interface{} `yaml:"username,omitempty" json:"username,omitempty"`
	Password interface{} `yaml:"password,omitempty" json:"password,omitempty"`

	// Remote names a registered remote transport to tunnel through
	Remote string `yaml:"remote,omitempty" json:"remote,omitempty"`
	// Cache names a registered cache collaborator
	Cache string `yaml:"cache,omitempty" json:"cache,omitempty"`

	// Smartcards maps card names to PKCS#11 provider libraries; configured
	// cards are (re)activated once after an authentication failure
	Smartcards map[string]string `yaml:"smartcards,omitempty" json:"smartcards,omitempty"`

	// ConnectTimeout bounds reachability probes and connection establishment
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`
	// ExecTimeout bounds remote command execution (0 = no limit)
	ExecTimeout time.Duration `yaml:"exec_timeout,omitempty" json:"exec_timeout,omitempty"`

	// Options carries adapter-specific keys (schema, bucket, dir, ...)
	Options map[string]interface{} `yaml:",inline" json:"options,omitempty"`
}

// NewServiceConfig creates a ServiceConfig with defaults applied
func NewServiceConfig(protocol string) *ServiceConfig {
	return &ServiceConfig{
		Protocol:       protocol,
		ConnectTimeout: 10 * time.Second,
		Options:        make(map[string]interface{}),
	}
}

// Validate checks the entry is usable
func (sc *ServiceConfig) Validate() error {
	if sc.Protocol == "" {
		return fmt.Errorf("protocol is required")
	}
	if sc.Port < 0 || sc.Port > 65535 {
		return fmt.Errorf("port %d out of range", sc.Port)
	}
	return nil
}

// ApplyDefaults fills zero-valued timeouts
func (sc *ServiceConfig) ApplyDefaults() {
	if sc.ConnectTimeout <= 0 {
		sc.ConnectTimeout = 10 * time.Second
	}
	if sc.Options == nil {
		sc.Options = make(map[string]interface{})
	}
}

// HostCandidates normalizes the loose-typed host into a candidate list.
// A nil host yields an empty slice; a list host yields one entry per element.
func (sc *ServiceConfig) HostCandidates() ([]string, error) {
	switch h := sc.Host.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{h}, nil
	case []string:
		return h, nil
	case []interface{}:
		hosts := make([]string, 0, len(h))
		for _, v := range h {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("host candidate %v is not a string", v)
			}
			hosts = append(hosts, s)
		}
		return hosts, nil
	default:
		return nil, fmt.Errorf("host must be a string or list of strings, got %T", sc.Host)
	}
}

// GetString returns a string adapter option, with ok reporting presence
func (sc *ServiceConfig) GetString(key string) (string, bool) {
	v, ok := sc.Options[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt returns an integer adapter option, tolerating YAML's int/float decoding
func (sc *ServiceConfig) GetInt(key string) (int, bool) {
	switch v := sc.Options[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// GetBool returns a boolean adapter option
func (sc *ServiceConfig) GetBool(key string) (bool, bool) {
	v, ok := sc.Options[key].(bool)
	return v, ok
}

// Validate checks every entry in the document
func (d *Document) Validate() error {
	for kind, services := range d.byKind() {
		for name, sc := range services {
			if sc == nil {
				return fmt.Errorf("%s.%s: empty service entry", kind, name)
			}
			if err := sc.Validate(); err != nil {
				return fmt.Errorf("%s.%s: %w", kind, name, err)
			}
		}
	}
	return nil
}

// Count returns the total number of configured entries
func (d *Document) Count() int {
	n := 0
	for _, services := range d.byKind() {
		n += len(services)
	}
	return n
}

func (d *Document) byKind() map[string]map[string]*ServiceConfig {
	return map[string]map[string]*ServiceConfig{
		"remotes":      d.Remotes,
		"filesystems":  d.Filesystems,
		"caches":       d.Caches,
		"rest_clients": d.RESTClients,
		"databases":    d.Databases,
		"other":        d.Other,
	}
}
