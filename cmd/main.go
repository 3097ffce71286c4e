package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/angeloszaimis/devproxy/config"
	"github.com/angeloszaimis/devproxy/internal/assets"
	"github.com/angeloszaimis/devproxy/internal/backend"
	"github.com/angeloszaimis/devproxy/internal/circuitbreaker"
	"github.com/angeloszaimis/devproxy/internal/handler"
	"github.com/angeloszaimis/devproxy/internal/healthcheck"
	"github.com/angeloszaimis/devproxy/internal/hmr"
	"github.com/angeloszaimis/devproxy/internal/httpserver"
	"github.com/angeloszaimis/devproxy/internal/metrics"
	"github.com/angeloszaimis/devproxy/internal/plugin"
	"github.com/angeloszaimis/devproxy/internal/route"
	"github.com/angeloszaimis/devproxy/internal/watcher"
	"github.com/angeloszaimis/devproxy/pkg/logger"
)

type options struct {
	configPath  string
	printConfig bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	if opts.printConfig {
		if err := printConfig(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("dev server stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := pflag.NewFlagSet("devproxy", pflag.ContinueOnError)

	var opts options
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (default: ./devproxy.yaml if present)")
	fs.BoolVar(&opts.printConfig, "print-config", false, "print the effective configuration and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func printConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	table, err := route.Compile(cfg.Proxy)
	if err != nil {
		return err
	}

	breakers := circuitbreaker.NewRegistry(cfg.CircuitBreaker.Threshold, cfg.CircuitBreaker.ResetTimeoutDuration())
	pool := backend.NewPool(log, func(target string, err error) {
		breakers.GetBreaker(target).RecordFailure()
	})
	pool.Sync(table.Rules())

	collector := metrics.NewCollector(1000, log)
	collector.Start(ctx)

	broker := hmr.NewBroker(log)
	defer broker.Close()

	plugins, err := plugin.Build(cfg.Plugins, plugin.Env{
		Root:      cfg.Root,
		PublicDir: cfg.PublicDir,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	dev := handler.NewDevServer(handler.Deps{
		Logger:   log,
		Routes:   route.NewSwappable(table),
		Pool:     pool,
		Breakers: breakers,
		Metrics:  collector,
		Internal: internalRoutes(collector, broker),
		Local:    assets.New(cfg.Root, cfg.PublicDir, log),
	})

	host, err := cfg.Server.BindHost()
	if err != nil {
		return err
	}
	srv, err := httpserver.New(host, cfg.Server.Port, cfg.Server.StrictPort, dev)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	if srv.Port() != cfg.Server.Port {
		log.Warn("port in use, using another one",
			slog.Int("requested", cfg.Server.Port),
			slog.Int("port", srv.Port()))
	}

	if err := plugins.Start(ctx, plugin.ServerInfo{URL: srv.URL()}); err != nil {
		_ = srv.Shutdown(context.Background())
		return err
	}
	defer func() {
		if err := plugins.Stop(); err != nil {
			log.Error("failed to stop plugins", slog.Any("err", err))
		}
	}()

	fw, err := watcher.New(cfg.Root, func(paths []string) {
		log.Debug("files changed", slog.Any("paths", paths))
		for _, evt := range plugins.HandleChanges(paths) {
			broker.Publish(evt)
		}
	}, log,
		watcher.WithIgnore(cfg.Watch.Ignore...),
		watcher.WithInclude(plugins.WatchPatterns()...),
		watcher.WithDebounce(cfg.Watch.DebounceDuration()))
	if err != nil {
		_ = srv.Shutdown(context.Background())
		return err
	}
	go func() {
		if err := fw.Run(ctx); err != nil {
			log.Error("file watcher stopped", slog.Any("err", err))
		}
	}()

	if cfg.File() != "" {
		cw := config.NewWatcher(cfg.File(), onConfigReload(cfg, dev, breakers, log), log)
		go func() {
			if err := cw.Run(ctx); err != nil {
				log.Error("config watcher stopped", slog.Any("err", err))
			}
		}()
	}

	go healthcheck.Run(ctx, pool, healthcheck.Options{
		Interval: cfg.HealthCheck.IntervalDuration(),
		Path:     cfg.HealthCheck.Path,
		Logger:   log,
		OnChange: func(b *backend.Backend, healthy bool) {
			collector.Emit(metrics.MetricEvent{
				Type:      metrics.EventHealthChanged,
				Timestamp: time.Now(),
				Key:       b.URL().String(),
				Healthy:   healthy,
			})
		},
	})

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("dev server ready",
		slog.String("url", srv.URL()),
		slog.String("addr", srv.Addr()),
		slog.Int("proxy_rules", len(table.Rules())),
		slog.Any("plugins", pluginNames(plugins)),
		slog.Any("inputs", plugins.Inputs()))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		// Event streams never finish on their own.
		broker.Close()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
		return nil
	case err := <-srvErrCh:
		return err
	}
}

func pluginNames(p *plugin.Pipeline) []string {
	names := make([]string, 0, len(p.Plugins()))
	for _, pl := range p.Plugins() {
		names = append(names, pl.Name())
	}
	return names
}
