package forward

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// Well-known transport names, selected per route via RouteEntry.Proto.
const (
	ProtoHTTP1 = "http1" // strictly HTTP/1.1 to upstream
	ProtoAuto  = "auto"  // ALPN, allow h2 over TLS when available
)

// Options tunes the default transports.
type Options struct {
	// Dial/keepalive
	DialTimeout   time.Duration
	DialKeepAlive time.Duration

	// Pool sizing
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	MaxConnsPerHost     int // 0 = unlimited

	// Timeouts
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	ResponseHeaderTimeout time.Duration // optional, 0 to disable

	InsecureSkipVerify bool
	RootCAs            *x509.CertPool
}

// DefaultOptions mirrors battle-tested proxy-ish settings.
func DefaultOptions() Options {
	return Options{
		DialTimeout:           5 * time.Second,
		DialKeepAlive:         60 * time.Second,
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		MaxConnsPerHost:       0,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Factory returns a RoundTripper by name.
type Factory interface {
	Get(name string) http.RoundTripper
	CloseIdle()
}

// Registry maps transport names to RoundTrippers. It is filled once by
// NewRegistry and only read afterwards. Connections are pooled per transport
// and shared by all routes using the same proto.
type Registry struct {
	store map[string]http.RoundTripper
	opts  Options
}

// NewDefaultRegistry builds a registry with DefaultOptions and pre-registers http1/auto.
func NewDefaultRegistry() *Registry { return NewRegistry(DefaultOptions()) }

// NewRegistry builds a registry with given options and pre-registers http1/auto.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		store: make(map[string]http.RoundTripper),
		opts:  opts,
	}
	r.store[ProtoHTTP1] = r.newTransport(false)
	r.store[ProtoAuto] = r.newTransport(true)
	return r
}

// LoadRootCAs reads a PEM bundle for verifying upstream certificates.
func LoadRootCAs(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("ca file %s: no PEM certificates found", path)
	}
	return pool, nil
}

// Get returns the named transport, falling back to http1.
func (r *Registry) Get(name string) http.RoundTripper {
	if rt, ok := r.store[name]; ok && rt != nil {
		return rt
	}
	return r.store[ProtoHTTP1]
}

// CloseIdle calls CloseIdleConnections on all http.Transport in the registry.
func (r *Registry) CloseIdle() {
	for _, rt := range r.store {
		if t, ok := rt.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}

func (r *Registry) newTransport(h2 bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   r.opts.DialTimeout,
		KeepAlive: r.opts.DialKeepAlive,
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: r.opts.InsecureSkipVerify, RootCAs: r.opts.RootCAs} //nolint:gosec // opt-in
	if !h2 {
		tlsCfg.NextProtos = []string{"http/1.1"}
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     h2, // ALPN to h2 when possible; no h2c
		TLSClientConfig:       tlsCfg,
		MaxIdleConns:          r.opts.MaxIdleConns,
		MaxIdleConnsPerHost:   r.opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       r.opts.IdleConnTimeout,
		MaxConnsPerHost:       r.opts.MaxConnsPerHost,
		TLSHandshakeTimeout:   r.opts.TLSHandshakeTimeout,
		ExpectContinueTimeout: r.opts.ExpectContinueTimeout,
		ResponseHeaderTimeout: r.opts.ResponseHeaderTimeout,
	}
}
