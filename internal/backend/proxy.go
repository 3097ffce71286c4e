package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"
)

// Options controls how requests are rewritten for the target.
type Options struct {
	// ChangeOrigin replaces the inbound Host header with the target's host.
	ChangeOrigin bool
	// VerifyTLS checks the certificate of https targets.
	VerifyTLS bool
	// XForwarded adds X-Forwarded-For, -Host and -Proto.
	XForwarded bool
	// OnError is called after a forward failed at the transport level.
	OnError func(err error)
	Logger  *slog.Logger
}

// Backend represents a proxy target with health status, connection tracking,
// and response time monitoring.
type Backend struct {
	url               *url.URL
	proxy             *httputil.ReverseProxy
	mutex             sync.Mutex
	isHealthy         bool
	activeConnections int
	ewmaResponseTime  time.Duration
	hasEWMA           bool
}

const ewmaAlpha = 0.2

// ReverseProxy returns the HTTP reverse proxy for this backend.
func (b *Backend) ReverseProxy() *httputil.ReverseProxy {
	return b.proxy
}

// ServeHTTP forwards r to the target and tracks it as an active connection.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.IncrementConn()
	defer b.DecrementConn()

	start := time.Now()
	b.proxy.ServeHTTP(w, r)
	b.RecordResponse(time.Since(start))
}

func (b *Backend) IncrementConn() {
	b.mutex.Lock()
	b.activeConnections++
	b.mutex.Unlock()
}

func (b *Backend) DecrementConn() {
	b.mutex.Lock()
	if b.activeConnections > 0 {
		b.activeConnections--
	}
	b.mutex.Unlock()
}

// ActiveConnections returns the number of requests currently in flight.
func (b *Backend) ActiveConnections() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.activeConnections
}

// URL returns the target URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// IsHealthy returns true if the last probe reached the target.
func (b *Backend) IsHealthy() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.isHealthy
}

// SetHealthy updates the health status.
// Returns true if the status changed, false if it was already in that state.
func (b *Backend) SetHealthy(healthy bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.isHealthy == healthy {
		return false
	}

	b.isHealthy = healthy
	return true
}

// RecordResponse updates the exponentially weighted moving average (EWMA)
// response time using the latest request duration.
func (b *Backend) RecordResponse(duration time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		b.ewmaResponseTime = duration
		b.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	b.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(b.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the exponentially weighted moving average response time.
// Returns 0 if no responses have been recorded yet.
func (b *Backend) EWMATime() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		return 0
	}

	return b.ewmaResponseTime
}

// New creates a Backend forwarding to target. The backend starts healthy.
func New(target *url.URL, opts Options) *Backend {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !opts.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			if !opts.ChangeOrigin {
				pr.Out.Host = pr.In.Host
			}
			if opts.XForwarded {
				pr.SetXForwarded()
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("Proxy request failed",
				slog.String("target", target.String()),
				slog.String("path", r.URL.Path),
				slog.Any("err", err))
			// A client that went away says nothing about the target.
			if opts.OnError != nil && r.Context().Err() == nil && !errors.Is(err, context.Canceled) {
				opts.OnError(err)
			}
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return &Backend{
		url:       target,
		proxy:     proxy,
		isHealthy: true,
	}
}
