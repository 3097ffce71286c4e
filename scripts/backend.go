// Backend is a stand-in for the PHP application server. It answers every
// path with a small HTML page that loads the dev server's client script, so
// the proxy and live reload can be tried without a Laravel install.
//
// Usage:
//
//	go run ./scripts --port 8000
//
// Point a proxy rule at http://localhost:8000 and open the dev server.
package main

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

var page = template.Must(template.New("page").Parse(`<!doctype html>
<html>
<head>
  <script type="module" src="/@vite/client"></script>
  <link rel="stylesheet" href="/resources/css/app.css">
</head>
<body>
  <h1>{{.Path}}</h1>
  <p>host: {{.Host}}</p>
  <p>request: {{.RequestID}}</p>
  <script type="module" src="/resources/js/app.js"></script>
</body>
</html>
`))

func main() {
	port := pflag.Int("port", 8000, "port to listen on")
	pflag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()

	// health endpoint for the dev server's health checker
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      uuid.NewString(),
			"method":  r.Method,
			"path":    r.URL.Path,
			"host":    r.Host,
			"headers": r.Header,
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("host", r.Host),
			slog.String("request_id", r.Header.Get("X-Request-Id")))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		page.Execute(w, map[string]string{
			"Path":      r.URL.Path,
			"Host":      r.Host,
			"RequestID": r.Header.Get("X-Request-Id"),
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("starting backend", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
