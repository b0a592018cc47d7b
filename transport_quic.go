package thingshadow

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// ErrTLSRequired is returned when a QUIC connection has no TLS configuration.
var ErrTLSRequired = errors.New("TLS configuration is required for QUIC")

const quicALPN = "mqtt"

// QUICConfig selects MQTT over a single bidirectional QUIC stream.
// The broker URI keeps its host and port, the scheme is ignored.
type QUICConfig struct {
	// Config is passed to quic-go unchanged. Nil uses quic-go defaults.
	Config *quic.Config
}

func (q *QUICConfig) dial(ctx context.Context, addr string, tlsConfig *tls.Config) (net.Conn, error) {
	if tlsConfig == nil {
		return nil, ErrTLSRequired
	}

	tlsConfig = tlsConfig.Clone()
	if tlsConfig.MinVersion < tls.VersionTLS13 {
		tlsConfig.MinVersion = tls.VersionTLS13
	}
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{quicALPN}
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, q.Config)
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", addr, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream")
		return nil, fmt.Errorf("quic open stream: %w", err)
	}

	return &QUICConn{conn: conn, stream: stream}, nil
}

// QUICConn adapts a QUIC stream to net.Conn.
type QUICConn struct {
	conn   *quic.Conn
	stream *quic.Stream
	mu     sync.Mutex
}

func (c *QUICConn) Read(b []byte) (int, error) {
	return c.stream.Read(b)
}

func (c *QUICConn) Write(b []byte) (int, error) {
	return c.stream.Write(b)
}

// Close closes the stream, then the connection.
func (c *QUICConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stream.Close(); err != nil {
		return err
	}
	return c.conn.CloseWithError(0, "")
}

func (c *QUICConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *QUICConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *QUICConn) SetDeadline(t time.Time) error {
	if err := c.stream.SetReadDeadline(t); err != nil {
		return err
	}
	return c.stream.SetWriteDeadline(t)
}

func (c *QUICConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *QUICConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}
