// Package circuitbreaker stops the dev server from hammering a proxy target
// that is down, for example while the backend container is still starting.
//
// A breaker has three states:
//
//   - CLOSED: requests are forwarded
//   - OPEN: the target failed repeatedly, requests are answered locally
//   - HALF-OPEN: one probe request is forwarded to test recovery
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 10*time.Second)
//	cb := registry.GetBreaker("http://php:8000")
//	if !cb.Allow() {
//	    w.Header().Set("Retry-After", ...cb.RetryAfter()...)
//	    // answer 503
//	}
package circuitbreaker
