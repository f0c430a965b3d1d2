package httpsession

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Pool hands out one shared *http.Client per TLS-verify setting. Clients
// borrowed from the pool must not be closed by their users; Close on the
// pool releases them at shutdown.
type Pool struct {
	mu       sync.Mutex
	sessions map[bool]*http.Client
}

func NewPool() *Pool {
	return &Pool{sessions: make(map[bool]*http.Client)}
}

// Get returns the shared client for verifySSL.
func (p *Pool) Get(verifySSL bool) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.sessions[verifySSL]; ok {
		return client
	}
	client := Wrap(newClient(verifySSL))
	p.sessions[verifySSL] = client
	return client
}

// Close drops idle connections on every shared client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, client := range p.sessions {
		client.CloseIdleConnections()
		delete(p.sessions, key)
	}
}

func newClient(verifySSL bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !verifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // devices ship self-signed certs
	}
	return &http.Client{Transport: transport}
}

// Wrap returns a copy of base whose transport records request metrics.
func Wrap(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport}
	return &client
}

type roundTripper struct {
	base http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	start := time.Now()
	resp, err := rt.base.RoundTrip(req)
	durationHistogram.WithLabelValues(host).Observe(time.Since(start).Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(host, errorResult(err)).Inc()
		return resp, err
	}
	lastStatusGauge.WithLabelValues(host).Set(float64(resp.StatusCode))
	requestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the
// wrapped transport.
func (rt *roundTripper) CloseIdleConnections() {
	type idleCloser interface{ CloseIdleConnections() }
	if closer, ok := rt.base.(idleCloser); ok {
		closer.CloseIdleConnections()
	}
}

func errorResult(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "error"
}
