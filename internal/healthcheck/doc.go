// Package healthcheck periodically probes every proxy target so the dev
// server can log when the backend goes down or comes back, and report it
// in metrics. A target counts as healthy when it answers with any status
// below 500.
package healthcheck
