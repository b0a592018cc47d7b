package thingshadow

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Default values used when the corresponding option is not given.
const (
	DefaultPort           = 8883
	DefaultKeepAlive      = 60 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultAckTimeout     = 4 * time.Second
	DefaultMaxBackoff     = 2 * time.Minute
	DefaultEventBuffer    = 64
)

// clientOptions holds configuration for a Client.
type clientOptions struct {
	// Identity
	server    string
	thingName string
	clientID  string

	// Credentials, resolved in this order: tlsConfig, pkcs12, PEM files
	tlsConfig   *tls.Config
	rootCAFile  string
	certFile    string
	keyFile     string
	pkcs12File  string
	pkcs12Pass  string
	usePKCS12   bool
	usePEMFiles bool

	// Session
	keepAlive      time.Duration
	connectTimeout time.Duration
	writeTimeout   time.Duration
	autoReconnect  bool
	maxBackoff     time.Duration

	// Shadow behaviour
	ackTimeout       time.Duration
	discardOldDeltas bool
	eventBuffer      int
	publishLimit     rate.Limit
	publishBurst     int

	// Plumbing
	logger    Logger
	metrics   Metrics
	transport TransportFactory
	proxy     *ProxyConfig
	quic      *QUICConfig
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *clientOptions {
	return &clientOptions{
		keepAlive:        DefaultKeepAlive,
		connectTimeout:   DefaultConnectTimeout,
		writeTimeout:     DefaultWriteTimeout,
		autoReconnect:    true,
		maxBackoff:       DefaultMaxBackoff,
		ackTimeout:       DefaultAckTimeout,
		discardOldDeltas: true,
		eventBuffer:      DefaultEventBuffer,
		publishLimit:     rate.Inf,
		publishBurst:     1,
		logger:           NewNoOpLogger(),
		metrics:          &NoOpMetrics{},
		transport:        NewPahoTransport,
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithServer sets the broker URI, e.g. "tls://example-ats.iot.eu-west-1.amazonaws.com:8883".
func WithServer(uri string) Option {
	return func(o *clientOptions) {
		o.server = uri
	}
}

// WithEndpoint sets a TLS broker address from host and port.
// A non-positive port selects DefaultPort.
func WithEndpoint(host string, port int) Option {
	return func(o *clientOptions) {
		if port <= 0 {
			port = DefaultPort
		}
		o.server = "tls://" + net.JoinHostPort(host, strconv.Itoa(port))
	}
}

// WithThingName sets the thing whose shadow the client manages.
func WithThingName(name string) Option {
	return func(o *clientOptions) {
		o.thingName = name
	}
}

// WithClientID sets the MQTT client identifier. Defaults to the thing name.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.clientID = id
	}
}

// WithTLS sets the TLS configuration directly. It takes precedence over
// certificate files.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.tlsConfig = config
	}
}

// WithCertificates loads the root CA, client certificate and private key
// from PEM files at dial time.
func WithCertificates(rootCAFile, certFile, keyFile string) Option {
	return func(o *clientOptions) {
		o.rootCAFile = rootCAFile
		o.certFile = certFile
		o.keyFile = keyFile
		o.usePEMFiles = true
	}
}

// WithCertificateDir is WithCertificates with the default file names in dir.
func WithCertificateDir(dir string) Option {
	return WithCertificates(CertificatePaths(dir))
}

// WithPKCS12 loads the client identity from a PKCS#12 bundle.
func WithPKCS12(rootCAFile, p12File, password string) Option {
	return func(o *clientOptions) {
		o.rootCAFile = rootCAFile
		o.pkcs12File = p12File
		o.pkcs12Pass = password
		o.usePKCS12 = true
	}
}

// WithKeepAlive sets the MQTT keep-alive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(o *clientOptions) {
		o.keepAlive = d
	}
}

// WithConnectTimeout sets the timeout for establishing the connection.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithWriteTimeout bounds publish, subscribe and unsubscribe acknowledgements.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.writeTimeout = d
	}
}

// WithAutoReconnect enables or disables transport reconnects. Enabled by default.
func WithAutoReconnect(enabled bool) Option {
	return func(o *clientOptions) {
		o.autoReconnect = enabled
	}
}

// WithMaxBackoff caps the delay between reconnect attempts.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *clientOptions) {
		o.maxBackoff = d
	}
}

// WithAckTimeout sets the default time a request waits for accepted/rejected.
func WithAckTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.ackTimeout = d
	}
}

// WithDiscardOldDeltas drops deltas whose version is not newer than the last
// version seen. Enabled by default.
func WithDiscardOldDeltas(enabled bool) Option {
	return func(o *clientOptions) {
		o.discardOldDeltas = enabled
	}
}

// WithEventBuffer sets how many incoming messages may queue between Yield calls.
func WithEventBuffer(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithPublishRate limits shadow requests to r per second with the given burst.
func WithPublishRate(r float64, burst int) Option {
	return func(o *clientOptions) {
		o.publishLimit = rate.Limit(r)
		if burst < 1 {
			burst = 1
		}
		o.publishBurst = burst
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTransport replaces the MQTT transport factory.
func WithTransport(factory TransportFactory) Option {
	return func(o *clientOptions) {
		if factory != nil {
			o.transport = factory
		}
	}
}

// WithProxy routes the broker connection through an HTTP CONNECT or SOCKS5 proxy.
func WithProxy(cfg *ProxyConfig) Option {
	return func(o *clientOptions) {
		o.proxy = cfg
	}
}

// WithQUIC carries MQTT over QUIC instead of TCP.
func WithQUIC(cfg *QUICConfig) Option {
	return func(o *clientOptions) {
		o.quic = cfg
	}
}

// applyOptions applies all options to the default options.
func applyOptions(opts ...Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// loadTLS resolves the configured credentials. It returns nil when none are set.
func (o *clientOptions) loadTLS() (*tls.Config, error) {
	switch {
	case o.tlsConfig != nil:
		return o.tlsConfig, nil
	case o.usePKCS12:
		cfg, err := LoadPKCS12TLSConfig(o.rootCAFile, o.pkcs12File, o.pkcs12Pass)
		if err != nil {
			return nil, fmt.Errorf("credentials: %w", err)
		}
		return cfg, nil
	case o.usePEMFiles:
		cfg, err := LoadTLSConfig(o.rootCAFile, o.certFile, o.keyFile)
		if err != nil {
			return nil, fmt.Errorf("credentials: %w", err)
		}
		return cfg, nil
	default:
		return nil, nil
	}
}
