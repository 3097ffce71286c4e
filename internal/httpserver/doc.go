// Package httpserver binds and runs the dev server's HTTP listener.
package httpserver
