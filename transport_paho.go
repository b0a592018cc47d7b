package thingshadow

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var errTokenTimeout = errors.New("mqtt operation timed out")

// PahoTransport runs the shadow session on the Eclipse Paho MQTT client.
type PahoTransport struct {
	cfg    *TransportConfig
	client mqtt.Client

	everConnected atomic.Bool

	mu     sync.Mutex
	topics map[string]byte // subscriptions restored after reconnect
}

// NewPahoTransport is the default TransportFactory.
func NewPahoTransport(cfg *TransportConfig) (Transport, error) {
	if cfg.Server == "" {
		return nil, ErrNoServer
	}

	t := &PahoTransport{
		cfg:    cfg,
		topics: make(map[string]byte),
	}

	// OrderMatters keeps update/accepted and update/delta in arrival order.
	// OnMessage only queues, so handlers do not block the paho router.
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetWriteTimeout(cfg.WriteTimeout).
		SetAutoReconnect(cfg.AutoReconnect).
		SetResumeSubs(false)

	if cfg.MaxBackoff > 0 {
		opts.SetMaxReconnectInterval(cfg.MaxBackoff)
	}
	if cfg.TLSConfig != nil {
		opts.SetTLSConfig(cfg.TLSConfig)
	}

	switch {
	case cfg.QUIC != nil:
		opts.SetCustomOpenConnectionFn(t.openQUIC)
	case cfg.Proxy != nil:
		opts.SetCustomOpenConnectionFn(t.openProxy)
	}

	opts.SetDefaultPublishHandler(t.onMessage)
	opts.SetOnConnectHandler(t.onConnect)
	opts.SetConnectionLostHandler(t.onConnectionLost)
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		t.status(StatusReconnecting, nil)
	})

	t.client = mqtt.NewClient(opts)

	return t, nil
}

// Connect opens the MQTT session.
func (t *PahoTransport) Connect(ctx context.Context) error {
	if err := waitToken(ctx, t.client.Connect(), t.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", t.cfg.Server, err)
	}
	return nil
}

// Publish sends payload and waits for the broker acknowledgement when qos > 0.
func (t *PahoTransport) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if !t.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return waitToken(ctx, t.client.Publish(topic, qos, false, payload), t.cfg.WriteTimeout)
}

// Subscribe adds a subscription delivered through Handlers.OnMessage.
func (t *PahoTransport) Subscribe(ctx context.Context, topic string, qos byte) error {
	if err := waitToken(ctx, t.client.Subscribe(topic, qos, t.onMessage), t.cfg.WriteTimeout); err != nil {
		return err
	}

	t.mu.Lock()
	t.topics[topic] = qos
	t.mu.Unlock()

	return nil
}

// Unsubscribe removes subscriptions.
func (t *PahoTransport) Unsubscribe(ctx context.Context, topics ...string) error {
	t.mu.Lock()
	for _, topic := range topics {
		delete(t.topics, topic)
	}
	t.mu.Unlock()

	return waitToken(ctx, t.client.Unsubscribe(topics...), t.cfg.WriteTimeout)
}

// Disconnect waits up to quiesce for in-flight work, then closes the session.
func (t *PahoTransport) Disconnect(quiesce time.Duration) {
	t.client.Disconnect(uint(quiesce.Milliseconds()))
}

func (t *PahoTransport) IsConnected() bool {
	return t.client.IsConnectionOpen()
}

func (t *PahoTransport) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if t.cfg.Handlers.OnMessage != nil {
		t.cfg.Handlers.OnMessage(msg.Topic(), msg.Payload())
	}
}

// onConnect runs on its own goroutine inside paho, so it may block on tokens.
func (t *PahoTransport) onConnect(c mqtt.Client) {
	if !t.everConnected.Swap(true) {
		t.status(StatusConnected, nil)
		return
	}

	t.mu.Lock()
	filters := make(map[string]byte, len(t.topics))
	for k, v := range t.topics {
		filters[k] = v
	}
	t.mu.Unlock()

	if len(filters) > 0 {
		tok := c.SubscribeMultiple(filters, t.onMessage)
		if err := waitToken(context.Background(), tok, t.cfg.WriteTimeout); err != nil {
			t.status(StatusConnectionLost, fmt.Errorf("restore subscriptions: %w", err))
			return
		}
	}

	t.status(StatusReconnected, nil)
}

func (t *PahoTransport) onConnectionLost(_ mqtt.Client, err error) {
	if t.cfg.AutoReconnect {
		t.status(StatusReconnecting, err)
		return
	}
	t.status(StatusConnectionLost, err)
}

func (t *PahoTransport) status(s ConnStatus, err error) {
	if t.cfg.Handlers.OnStatus != nil {
		t.cfg.Handlers.OnStatus(s, err)
	}
}

func (t *PahoTransport) openQUIC(uri *url.URL, _ mqtt.ClientOptions) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
	defer cancel()

	return t.cfg.QUIC.dial(ctx, uri.Host, t.cfg.TLSConfig)
}

func (t *PahoTransport) openProxy(uri *url.URL, _ mqtt.ClientOptions) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
	defer cancel()

	dialer, err := NewProxyDialer(t.cfg.Proxy.URL, t.cfg.Proxy.Username, t.cfg.Proxy.Password)
	if err != nil {
		return nil, err
	}

	conn, err := dialer.DialContext(ctx, "tcp", uri.Host)
	if err != nil {
		return nil, err
	}

	switch uri.Scheme {
	case "ssl", "tls", "mqtts", "tcps":
	default:
		return conn, nil
	}

	cfg := t.cfg.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg = cfg.Clone()
		cfg.ServerName = uri.Hostname()
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake via proxy: %w", err)
	}

	return tlsConn, nil
}

func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errTokenTimeout
	}
}
