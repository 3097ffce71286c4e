package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-viper/mapstructure/v2"

	"github.com/angeloszaimis/devproxy/config"
	"github.com/angeloszaimis/devproxy/internal/hmr"
)

// ServerInfo describes the running dev server to plugins.
type ServerInfo struct {
	// URL is the address browsers use to reach the dev server.
	URL string
}

// Env is what a plugin factory gets to work with.
type Env struct {
	Root      string
	PublicDir string
	Logger    *slog.Logger
}

type Plugin interface {
	Name() string
	// WatchPatterns are globs, relative to the project root, of files the
	// plugin reacts to.
	WatchPatterns() []string
	// HandleChange maps a changed file to a browser event. ok is false when
	// the plugin does not care about the file.
	HandleChange(rel string) (evt hmr.Event, ok bool)
	Start(ctx context.Context, info ServerInfo) error
	Stop() error
}

// InputProvider is implemented by plugins that declare entry assets.
type InputProvider interface {
	Inputs() []string
}

// Factory builds a plugin from its raw config options.
type Factory func(options map[string]any, env Env) (Plugin, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"laravel":     newLaravel,
		"tailwindcss": newTailwind,
	}
)

// Register makes a plugin available under name, replacing any previous one.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Names lists the registered plugin names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(options)
}

func validatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob %q", p)
		}
	}
	return nil
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Pipeline runs the configured plugins in declaration order.
type Pipeline struct {
	plugins []Plugin
	logger  *slog.Logger
}

// Build instantiates the plugins named in specs.
func Build(specs []config.PluginConfig, env Env) (*Pipeline, error) {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}

	p := &Pipeline{logger: env.Logger}
	for _, spec := range specs {
		registryMu.RLock()
		factory, ok := registry[spec.Name]
		registryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q (available: %v)", spec.Name, Names())
		}

		pl, err := factory(spec.Options, env)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", spec.Name, err)
		}
		p.plugins = append(p.plugins, pl)
	}
	return p, nil
}

func (p *Pipeline) Plugins() []Plugin {
	return p.plugins
}

// Inputs collects the entry assets declared by all plugins.
func (p *Pipeline) Inputs() []string {
	var inputs []string
	for _, pl := range p.plugins {
		if ip, ok := pl.(InputProvider); ok {
			inputs = append(inputs, ip.Inputs()...)
		}
	}
	return inputs
}

// WatchPatterns is the union of the plugins' watch patterns, in order and
// without duplicates.
func (p *Pipeline) WatchPatterns() []string {
	var patterns []string
	seen := make(map[string]bool)
	for _, pl := range p.plugins {
		for _, pattern := range pl.WatchPatterns() {
			if !seen[pattern] {
				seen[pattern] = true
				patterns = append(patterns, pattern)
			}
		}
	}
	return patterns
}

// Start starts every plugin. If one fails, those already started are
// stopped again.
func (p *Pipeline) Start(ctx context.Context, info ServerInfo) error {
	for i, pl := range p.plugins {
		if err := pl.Start(ctx, info); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := p.plugins[j].Stop(); stopErr != nil {
					p.logger.Warn("plugin stop failed", slog.String("plugin", p.plugins[j].Name()), slog.Any("err", stopErr))
				}
			}
			return fmt.Errorf("start plugin %s: %w", pl.Name(), err)
		}
		p.logger.Debug("plugin started", slog.String("plugin", pl.Name()))
	}
	return nil
}

// Stop stops plugins in reverse order.
func (p *Pipeline) Stop() error {
	var errs []error
	for i := len(p.plugins) - 1; i >= 0; i-- {
		if err := p.plugins[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop plugin %s: %w", p.plugins[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// HandleChanges turns a batch of changed files into the events to publish.
// A full reload makes every other event redundant, so at most one is sent.
func (p *Pipeline) HandleChanges(paths []string) []hmr.Event {
	var events []hmr.Event
	seen := make(map[hmr.Event]bool)

	for _, rel := range paths {
		for _, pl := range p.plugins {
			evt, ok := pl.HandleChange(rel)
			if !ok {
				continue
			}
			if evt.Type == hmr.EventFullReload {
				return []hmr.Event{evt}
			}
			if !seen[evt] {
				seen[evt] = true
				events = append(events, evt)
			}
		}
	}
	return events
}
