// Package plugin implements the dev server's plugin pipeline. Plugins are
// declared by name in the config, in order, and each one contributes watch
// patterns, maps changed files to reload events, and may hook server start
// and stop. Two plugins are built in: laravel (entry inputs, page refresh
// on template and route changes, hot file for the backend) and tailwindcss
// (stylesheet refresh when content files change).
package plugin
