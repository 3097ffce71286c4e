package plugin

import (
	"context"

	"github.com/angeloszaimis/devproxy/internal/hmr"
)

// DefaultContentPaths are the files scanned for utility classes.
var DefaultContentPaths = []string{
	"resources/**/*.blade.php",
	"resources/**/*.{js,ts,jsx,tsx,vue}",
}

type tailwindOptions struct {
	Content []string `mapstructure:"content"`
}

// tailwind refreshes stylesheets whenever a content file changes, since
// the generated utilities may differ.
type tailwind struct {
	content []string
}

func newTailwind(options map[string]any, _ Env) (Plugin, error) {
	var opts tailwindOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}

	content := opts.Content
	if len(content) == 0 {
		content = DefaultContentPaths
	}
	if err := validatePatterns(content); err != nil {
		return nil, err
	}

	return &tailwind{content: content}, nil
}

func (t *tailwind) Name() string { return "tailwindcss" }

func (t *tailwind) WatchPatterns() []string {
	return append([]string(nil), t.content...)
}

func (t *tailwind) HandleChange(rel string) (hmr.Event, bool) {
	if !matchAny(t.content, rel) {
		return hmr.Event{}, false
	}
	return hmr.Event{Type: hmr.EventUpdate, Kind: hmr.KindCSS}, true
}

func (t *tailwind) Start(context.Context, ServerInfo) error { return nil }

func (t *tailwind) Stop() error { return nil }
