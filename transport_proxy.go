package thingshadow

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyConfig routes the broker connection through an HTTP CONNECT or SOCKS5 proxy.
type ProxyConfig struct {
	// URL is http://host:port, https://host:port or socks5://host:port.
	URL      string
	Username string
	Password string
}

// ProxyDialer dials a target address through a proxy.
type ProxyDialer struct {
	proxyURL *url.URL
	username string
	password string
	forward  net.Dialer
}

// NewProxyDialer parses proxyURL. Credentials embedded in the URL are used
// when username is empty.
func NewProxyDialer(proxyURL, username, password string) (*ProxyDialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	if username == "" && u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	return &ProxyDialer{
		proxyURL: u,
		username: username,
		password: password,
	}, nil
}

// DialContext connects to addr through the proxy.
func (d *ProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	switch d.proxyURL.Scheme {
	case "http", "https":
		return d.dialConnect(ctx, addr)
	case "socks5", "socks5h":
		return d.dialSOCKS5(ctx, network, addr)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", d.proxyURL.Scheme)
	}
}

func (d *ProxyDialer) proxyAddr(defaultPort string) string {
	if d.proxyURL.Port() == "" {
		return net.JoinHostPort(d.proxyURL.Hostname(), defaultPort)
	}
	return d.proxyURL.Host
}

func (d *ProxyDialer) dialConnect(ctx context.Context, target string) (net.Conn, error) {
	port := "8080"
	if d.proxyURL.Scheme == "https" {
		port = "443"
	}

	conn, err := d.forward.DialContext(ctx, "tcp", d.proxyAddr(port))
	if err != nil {
		return nil, fmt.Errorf("connect to proxy: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	if d.username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(d.username + ":" + d.password))
		req.Header.Set("Proxy-Authorization", "Basic "+creds)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT %s: %s", target, resp.Status)
	}

	return conn, nil
}

func (d *ProxyDialer) dialSOCKS5(ctx context.Context, network, target string) (net.Conn, error) {
	var auth *proxy.Auth
	if d.username != "" {
		auth = &proxy.Auth{User: d.username, Password: d.password}
	}

	dialer, err := proxy.SOCKS5("tcp", d.proxyAddr("1080"), auth, &d.forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		conn, err := cd.DialContext(ctx, network, target)
		if err != nil {
			return nil, fmt.Errorf("socks5 dial %s: %w", target, err)
		}
		return conn, nil
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		conn, err := dialer.Dial(network, target)
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("socks5 dial %s: %w", target, r.err)
		}
		return r.conn, nil
	}
}

// ProxyFromEnvironment returns the proxy for server from HTTPS_PROXY or
// HTTP_PROXY, honouring NO_PROXY. It returns nil when no proxy applies.
func ProxyFromEnvironment(server string) *ProxyConfig {
	u, err := url.Parse(server)
	if err != nil || u.Hostname() == "" {
		return nil
	}

	if bypassProxy(u.Hostname(), lookupEnv("NO_PROXY")) {
		return nil
	}

	var raw string
	switch u.Scheme {
	case "ssl", "tls", "mqtts", "tcps":
		raw = lookupEnv("HTTPS_PROXY")
	}
	if raw == "" {
		raw = lookupEnv("HTTP_PROXY")
	}
	if raw == "" {
		return nil
	}

	return &ProxyConfig{URL: raw}
}

func lookupEnv(name string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return os.Getenv(strings.ToLower(name))
}

func bypassProxy(host, noProxy string) bool {
	for _, pattern := range strings.Split(noProxy, ",") {
		pattern = strings.TrimSpace(pattern)
		switch {
		case pattern == "":
			continue
		case pattern == "*":
			return true
		case strings.HasPrefix(pattern, "."):
			if strings.HasSuffix(host, pattern) || host == pattern[1:] {
				return true
			}
		case host == pattern || strings.HasSuffix(host, "."+pattern):
			return true
		}
	}
	return false
}
