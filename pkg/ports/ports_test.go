package ports

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeReturnsBindablePort(t *testing.T) {
	port, err := Free()
	require.NoError(t, err)
	require.Greater(t, port, 0)

	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	_ = l.Close()
}

func TestAvailable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port

	assert.False(t, Available(port))
	_ = l.Close()
	assert.True(t, Available(port))
}

func TestOpen(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	port := l.Addr().(*net.TCPAddr).Port

	assert.True(t, Open("127.0.0.1", port, time.Second))

	closed, err := Free()
	require.NoError(t, err)
	assert.False(t, Open("127.0.0.1", closed, 100*time.Millisecond))
}

func TestSplit(t *testing.T) {
	tests := []struct {
		spec     string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"db.internal:5432", "db.internal", 5432, false},
		{"db.internal", "db.internal", 0, false},
		{"127.0.0.1:80", "127.0.0.1", 80, false},
		{"[::1]:8080", "::1", 8080, false},
		{"db.internal:http", "", 0, true},
		{"db.internal:99999", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			host, port, err := Split(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}
