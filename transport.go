package thingshadow

import (
	"context"
	"crypto/tls"
	"time"
)

// ConnStatus is a connection state change reported by a Transport.
type ConnStatus int

const (
	StatusConnected ConnStatus = iota
	StatusConnectionLost
	StatusReconnecting
	StatusReconnected
)

func (s ConnStatus) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusConnectionLost:
		return "lost"
	case StatusReconnecting:
		return "reconnecting"
	case StatusReconnected:
		return "reconnected"
	default:
		return "unknown"
	}
}

// TransportHandlers receive transport callbacks. They may be invoked from any
// goroutine and must not block for long.
type TransportHandlers struct {
	OnMessage func(topic string, payload []byte)
	OnStatus  func(status ConnStatus, err error)
}

// TransportConfig is what the client hands to a TransportFactory.
type TransportConfig struct {
	Server         string // URI: tls://host:port, tcp://host:port, quic://host:port
	ClientID       string
	TLSConfig      *tls.Config
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	AutoReconnect  bool
	MaxBackoff     time.Duration
	Proxy          *ProxyConfig
	QUIC           *QUICConfig
	Handlers       TransportHandlers
}

// Transport is the MQTT session the shadow client runs on.
type Transport interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Subscribe(ctx context.Context, topic string, qos byte) error
	Unsubscribe(ctx context.Context, topics ...string) error
	Disconnect(quiesce time.Duration)
	IsConnected() bool
}

// TransportFactory creates a Transport from the client configuration.
type TransportFactory func(cfg *TransportConfig) (Transport, error)
