package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// Dialer opens outbound TCP connections for peer wire sessions.
// *net.Dialer satisfies it directly.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ProxyConfig contains configuration for proxy connections.
type ProxyConfig struct {
	Type     string // "socks5" or "http"
	Host     string
	Port     uint16
	Username string
	Password string
}

// Addr returns the proxy's host:port.
func (c *ProxyConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// ParseProxyURL parses "socks5://[user:pass@]host:port" or "http://...".
func ParseProxyURL(raw string) (*ProxyConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	port, err := strconv.ParseUint(u.Port(), 10, 16)
	if err != nil || port == 0 {
		return nil, fmt.Errorf("invalid proxy port in %q", raw)
	}

	config := &ProxyConfig{
		Type: u.Scheme,
		Host: u.Hostname(),
		Port: uint16(port),
	}
	if u.User != nil {
		config.Username = u.User.Username()
		config.Password, _ = u.User.Password()
	}
	return config, nil
}

// NewDialer returns a dialer that connects directly, or through the proxy
// when config is non-nil. timeout bounds the TCP connect to the first hop.
func NewDialer(config *ProxyConfig, timeout time.Duration) (Dialer, error) {
	direct := &net.Dialer{Timeout: timeout}
	if config == nil {
		return direct, nil
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewDialer",
		"proxy_type": config.Type,
		"proxy_addr": config.Addr(),
	}).Info("Creating proxy dialer")

	switch config.Type {
	case "socks5":
		var auth *proxy.Auth
		if config.Username != "" || config.Password != "" {
			auth = &proxy.Auth{
				User:     config.Username,
				Password: config.Password,
			}
		}

		dialer, err := proxy.SOCKS5("tcp", config.Addr(), auth, direct)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "NewDialer",
				"proxy_addr": config.Addr(),
				"error":      err.Error(),
			}).Error("Failed to create SOCKS5 dialer")
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
		}
		return contextDialer, nil

	case "http":
		proxyURL := &url.URL{Scheme: "http", Host: config.Addr()}
		if config.Username != "" {
			if config.Password != "" {
				proxyURL.User = url.UserPassword(config.Username, config.Password)
			} else {
				proxyURL.User = url.User(config.Username)
			}
		}
		return &httpProxyDialer{proxyURL: proxyURL, forward: direct}, nil

	default:
		return nil, fmt.Errorf("unsupported proxy type: %s (must be 'socks5' or 'http')", config.Type)
	}
}

// httpProxyDialer tunnels TCP through an HTTP CONNECT proxy.
type httpProxyDialer struct {
	proxyURL *url.URL
	forward  *net.Dialer
}

// DialContext connects to the address via HTTP CONNECT proxy.
func (d *httpProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("HTTP CONNECT proxy only supports TCP, got: %s", network)
	}

	proxyConn, err := d.forward.DialContext(ctx, "tcp", d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}

	connectReq := &http.Request{
		Method: "CONNECT",
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.proxyURL.User != nil {
		username := d.proxyURL.User.Username()
		password, _ := d.proxyURL.User.Password()
		connectReq.SetBasicAuth(username, password)
	}

	deadline := time.Now().Add(10 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := proxyConn.SetDeadline(deadline); err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if err := connectReq.Write(proxyConn); err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to write CONNECT request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(proxyConn), connectReq)
	if err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		proxyConn.Close()
		return nil, fmt.Errorf("proxy returned non-200 status: %s", resp.Status)
	}

	_ = proxyConn.SetDeadline(time.Time{})
	return proxyConn, nil
}
