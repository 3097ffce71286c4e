package main

import (
	"log/slog"
	"net/http"
	"reflect"
	"slices"

	"github.com/angeloszaimis/devproxy/config"
	"github.com/angeloszaimis/devproxy/internal/circuitbreaker"
	"github.com/angeloszaimis/devproxy/internal/handler"
	"github.com/angeloszaimis/devproxy/internal/hmr"
	"github.com/angeloszaimis/devproxy/internal/metrics"
	"github.com/angeloszaimis/devproxy/internal/route"
)

func internalRoutes(collector *metrics.Collector, broker *hmr.Broker) map[string]http.Handler {
	return map[string]http.Handler{
		handler.ClientPath:     hmr.ClientHandler(),
		handler.EventsPath:     broker,
		handler.MetricsPath:    collector.Handler(),
		handler.PrometheusPath: collector.PrometheusHandler(),
	}
}

// onConfigReload swaps in the reloaded proxy rules and starts every target
// with a fresh circuit breaker. Everything else is only read at startup, so
// changes to it are reported instead, once per distinct set of sections.
func onConfigReload(running *config.Config, dev *handler.DevServer, breakers *circuitbreaker.Registry, log *slog.Logger) config.ReloadCallback {
	var reported []string

	return func(cfg *config.Config, err error) {
		if err != nil {
			log.Warn("config reload failed, keeping current proxy rules", slog.Any("err", err))
			return
		}

		table, err := route.Compile(cfg.Proxy)
		if err != nil {
			log.Warn("invalid proxy rules, keeping current ones", slog.Any("err", err))
			return
		}
		dev.Reload(table)

		if breakers != nil {
			if stats := breakers.Stats(); len(stats) > 0 {
				log.Debug("resetting circuit breakers", slog.Any("states", stats))
			}
			breakers.Reset()
		}

		changed := restartRequired(running, cfg)
		if len(changed) > 0 && !slices.Equal(changed, reported) {
			log.Warn("config changes require a restart", slog.Any("sections", changed))
		}
		reported = changed
	}
}

// restartRequired lists the sections of next that differ from cur and are
// not applied at runtime.
func restartRequired(cur, next *config.Config) []string {
	var changed []string
	check := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			changed = append(changed, name)
		}
	}

	check("root", cur.Root, next.Root)
	check("public_dir", cur.PublicDir, next.PublicDir)
	check("plugins", cur.Plugins, next.Plugins)
	check("server", cur.Server, next.Server)
	check("health_check", cur.HealthCheck, next.HealthCheck)
	check("circuit_breaker", cur.CircuitBreaker, next.CircuitBreaker)
	check("watch", cur.Watch, next.Watch)
	check("logging", cur.Logging, next.Logging)
	return changed
}
