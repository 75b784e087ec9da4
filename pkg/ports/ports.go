// Package ports provides local port allocation and TCP reachability probes.
package ports

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultProbeTimeout bounds a single reachability probe.
const DefaultProbeTimeout = 3 * time.Second

// Free asks the kernel for an unused local TCP port and returns it.
// The listener is closed before returning, so the port is only probably
// free; callers binding it immediately afterwards rarely lose the race.
func Free() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate local port: %w", err)
	}
	defer l.Close()

	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, fmt.Errorf("failed to parse listener address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("failed to parse listener port: %w", err)
	}
	return port, nil
}

// Available reports whether a local port can still be bound.
func Available(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// Open reports whether host:port accepts TCP connections within timeout.
// A zero timeout uses DefaultProbeTimeout.
func Open(host string, port int, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Split parses a "host" or "host:port" spec. When no port is present the
// returned port is 0.
func Split(spec string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(spec)
	if err != nil {
		// No port component at all
		return spec, 0, nil //nolint:nilerr
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", spec, err)
	}
	if port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("port %d in %q out of range", port, spec)
	}
	return host, port, nil
}
