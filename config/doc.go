// Package config loads the dev server configuration from a YAML file and
// environment variables. It describes the server binding, the ordered proxy
// rules, the plugin list and the supporting health check, circuit breaker,
// watch and logging settings, and can watch the file for changes.
package config
