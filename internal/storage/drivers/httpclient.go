package drivers

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/sashko-guz/kvstore/internal/logger"
	"golang.org/x/net/http2"
)

// HTTPConfig tunes the connection pool shared by the object-store clients.
// Zero values fall back to the defaults noted on each field.
type HTTPConfig struct {
	MaxIdleConns          int // default: 100
	MaxIdleConnsPerHost   int // default: 100
	MaxConnsPerHost       int // default: 0 = unlimited
	IdleConnTimeout       int // seconds, default: 90
	ConnectTimeout        int // seconds, default: 10
	RequestTimeout        int // seconds, default: 30
	ResponseHeaderTimeout int // seconds, default: 10
}

type httpSettings struct {
	maxIdleConns          int
	maxIdleConnsPerHost   int
	maxConnsPerHost       int
	idleConnTimeout       time.Duration
	connectTimeout        time.Duration
	requestTimeout        time.Duration
	responseHeaderTimeout time.Duration
}

func resolveHTTPSettings(cfg *HTTPConfig) httpSettings {
	s := httpSettings{
		maxIdleConns:          100,
		maxIdleConnsPerHost:   100,
		idleConnTimeout:       90 * time.Second,
		connectTimeout:        10 * time.Second,
		requestTimeout:        30 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
	if cfg == nil {
		return s
	}

	if cfg.MaxIdleConns > 0 {
		s.maxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		s.maxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.MaxConnsPerHost > 0 {
		s.maxConnsPerHost = cfg.MaxConnsPerHost
	}
	if cfg.IdleConnTimeout > 0 {
		s.idleConnTimeout = time.Duration(cfg.IdleConnTimeout) * time.Second
	}
	if cfg.ConnectTimeout > 0 {
		s.connectTimeout = time.Duration(cfg.ConnectTimeout) * time.Second
	}
	if cfg.RequestTimeout > 0 {
		s.requestTimeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	if cfg.ResponseHeaderTimeout > 0 {
		s.responseHeaderTimeout = time.Duration(cfg.ResponseHeaderTimeout) * time.Second
	}
	return s
}

// newTransport builds the pooled transport used by both S3 flavors
func newTransport(s httpSettings, component *logger.Logger) *http.Transport {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   s.connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          s.maxIdleConns,
		MaxIdleConnsPerHost:   s.maxIdleConnsPerHost,
		MaxConnsPerHost:       s.maxConnsPerHost,
		IdleConnTimeout:       s.idleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: s.responseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		component.Warnf("Failed to configure HTTP/2: %v", err)
	}
	return transport
}

// newHTTPClient wraps newTransport with an overall request timeout
func newHTTPClient(cfg *HTTPConfig, component *logger.Logger) *http.Client {
	s := resolveHTTPSettings(cfg)

	client := &http.Client{
		Transport: newTransport(s, component),
		Timeout:   s.requestTimeout,
	}

	component.Infof("HTTP client configured: MaxIdleConns=%d, MaxIdleConnsPerHost=%d, MaxConnsPerHost=%d, ConnectTimeout=%v, RequestTimeout=%v",
		s.maxIdleConns, s.maxIdleConnsPerHost, s.maxConnsPerHost, s.connectTimeout, s.requestTimeout)

	return client
}
