package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"

	"github.com/angeloszaimis/devproxy/internal/hmr"
)

// DefaultRefreshPaths are watched when refresh is true. Changes to them
// reload the page because the backend renders them.
var DefaultRefreshPaths = []string{
	"app/Livewire/**",
	"app/View/Components/**",
	"lang/**",
	"resources/lang/**",
	"resources/views/**",
	"routes/**",
}

type laravelOptions struct {
	Input   []string `mapstructure:"input"`
	Refresh any      `mapstructure:"refresh"`
	HotFile string   `mapstructure:"hot_file"`
}

type laravel struct {
	root      string
	inputs    []string
	inputDirs []string
	refresh   []string
	hotFile   string
	logger    *slog.Logger
}

func newLaravel(options map[string]any, env Env) (Plugin, error) {
	var opts laravelOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}

	if len(opts.Input) == 0 {
		return nil, errors.New("input is required")
	}

	refresh, err := refreshPaths(opts.Refresh)
	if err != nil {
		return nil, err
	}
	if err := validatePatterns(refresh); err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	hotFile := opts.HotFile
	if hotFile == "" {
		hotFile = path.Join(filepath.ToSlash(env.PublicDir), "hot")
	}

	l := &laravel{
		root:    env.Root,
		refresh: refresh,
		hotFile: filepath.Join(env.Root, filepath.FromSlash(hotFile)),
		logger:  env.Logger,
	}

	dirs := make(map[string]bool)
	for _, in := range opts.Input {
		in = strings.TrimPrefix(path.Clean(filepath.ToSlash(in)), "/")
		l.inputs = append(l.inputs, in)
		if dir := path.Dir(in); dir != "." && !dirs[dir] {
			dirs[dir] = true
			l.inputDirs = append(l.inputDirs, dir)
		}
	}

	return l, nil
}

// refreshPaths accepts true, false, a single glob or a list of globs.
func refreshPaths(v any) ([]string, error) {
	switch r := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if r {
			return DefaultRefreshPaths, nil
		}
		return nil, nil
	case string:
		if b, err := cast.ToBoolE(r); err == nil {
			return refreshPaths(b)
		}
		return []string{r}, nil
	default:
		paths, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, fmt.Errorf("refresh must be a boolean or a list of paths: %w", err)
		}
		return paths, nil
	}
}

func (l *laravel) Name() string { return "laravel" }

func (l *laravel) Inputs() []string {
	return append([]string(nil), l.inputs...)
}

func (l *laravel) WatchPatterns() []string {
	patterns := append([]string(nil), l.refresh...)
	for _, dir := range l.inputDirs {
		patterns = append(patterns, dir+"/**")
	}
	return patterns
}

func (l *laravel) HandleChange(rel string) (hmr.Event, bool) {
	if matchAny(l.refresh, rel) {
		return hmr.Event{Type: hmr.EventFullReload, Path: rel}, true
	}

	for _, dir := range l.inputDirs {
		if strings.HasPrefix(rel, dir+"/") {
			return hmr.Event{Type: hmr.EventUpdate, Path: rel, Kind: assetKind(rel)}, true
		}
	}
	for _, in := range l.inputs {
		if rel == in {
			return hmr.Event{Type: hmr.EventUpdate, Path: rel, Kind: assetKind(rel)}, true
		}
	}

	return hmr.Event{}, false
}

func assetKind(rel string) string {
	switch strings.ToLower(path.Ext(rel)) {
	case ".css", ".scss", ".sass", ".less", ".pcss", ".postcss":
		return hmr.KindCSS
	default:
		return hmr.KindJS
	}
}

// Start checks the entry inputs and writes the dev server URL into the hot
// file, which tells the backend to load assets from the dev server.
func (l *laravel) Start(_ context.Context, info ServerInfo) error {
	for _, in := range l.inputs {
		if _, err := os.Stat(filepath.Join(l.root, filepath.FromSlash(in))); err != nil {
			l.logger.Warn("entry input not found", slog.String("input", in))
		}
	}

	if err := os.MkdirAll(filepath.Dir(l.hotFile), 0o755); err != nil {
		return fmt.Errorf("create hot file directory: %w", err)
	}
	if err := os.WriteFile(l.hotFile, []byte(info.URL), 0o644); err != nil {
		return fmt.Errorf("write hot file: %w", err)
	}

	l.logger.Info("laravel hot file written",
		slog.String("file", l.hotFile),
		slog.String("url", info.URL))
	return nil
}

func (l *laravel) Stop() error {
	if err := os.Remove(l.hotFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove hot file: %w", err)
	}
	return nil
}
