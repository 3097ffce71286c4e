// Package watcher reports file changes under the project root. Directories
// are watched recursively, including ones created later, and changes are
// batched over a debounce window before being handed to the callback as
// slash-separated paths relative to the root.
package watcher
