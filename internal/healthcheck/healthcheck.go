package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/angeloszaimis/devproxy/internal/backend"
)

// Source lists the backends to probe. It is consulted on every tick so that
// targets added by a config reload are picked up.
type Source interface {
	All() []*backend.Backend
}

type Options struct {
	Interval time.Duration
	Path     string
	Timeout  time.Duration
	Logger   *slog.Logger
	// OnChange is called whenever a backend's health flips.
	OnChange func(b *backend.Backend, healthy bool)
}

// Run probes every backend from src each interval until ctx is done.
// A zero interval disables checking.
func Run(ctx context.Context, src Source, opts Options) {
	if opts.Interval <= 0 {
		return
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			opts.Logger.Debug("Health check stopped")
			return

		case <-ticker.C:
			checkAll(ctx, src.All(), opts)
		}
	}
}

func checkAll(ctx context.Context, backends []*backend.Backend, opts Options) {
	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b *backend.Backend) {
			defer wg.Done()
			check(ctx, b, opts)
		}(b)
	}
	wg.Wait()
}

func check(ctx context.Context, b *backend.Backend, opts Options) {
	healthy := Probe(ctx, b, opts.Path, opts.Timeout)
	if !b.SetHealthy(healthy) {
		return
	}

	if healthy {
		opts.Logger.Info("Proxy target is back up",
			slog.String("target", b.URL().String()))
	} else {
		opts.Logger.Warn("Proxy target is down",
			slog.String("target", b.URL().String()))
	}

	if opts.OnChange != nil {
		opts.OnChange(b, healthy)
	}
}

// Probe sends one GET to path on the backend's target using the backend's
// own transport, so TLS settings match forwarded traffic. Redirects are not
// followed.
func Probe(ctx context.Context, b *backend.Backend, path string, timeout time.Duration) bool {
	client := &http.Client{
		Transport: b.ReverseProxy().Transport,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	probeURL := b.URL().ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL.String(), nil)
	if err != nil {
		return false
	}

	res, err := client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	return res.StatusCode < http.StatusInternalServerError
}
