package hmr

import (
	_ "embed"
	"net/http"
)

//go:embed client.js
var clientScript []byte

// ClientHandler serves the browser client script.
func ClientHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_, _ = w.Write(clientScript)
	})
}
