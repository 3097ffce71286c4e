// Package backend forwards requests to the origins named by proxy rules.
// Each Backend wraps an httputil.ReverseProxy configured with the rule's
// origin handling (Host rewrite, TLS verification, X-Forwarded headers) and
// tracks health, in-flight requests and response time for that origin.
package backend
