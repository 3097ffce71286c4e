package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// portAttempts is how many ports Listen tries when the port is not strict.
const portAttempts = 20

// ErrPortInUse is returned by Listen when the port is taken and the server
// was asked not to look for another.
var ErrPortInUse = errors.New("port is already in use")

// Server wraps http.Server with port selection and graceful shutdown.
type Server struct {
	server     *http.Server
	host       string
	port       int
	strictPort bool
	listener   net.Listener
}

// New creates a server for host:port. The address is validated before the
// server is created.
func New(host string, port int, strictPort bool, handler http.Handler) (*Server, error) {
	if err := validateHost(net.JoinHostPort(host, strconv.Itoa(port))); err != nil {
		return nil, err
	}

	srv := &Server{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Event streams stay open, so writes are not bounded.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		host:       host,
		port:       port,
		strictPort: strictPort,
	}

	return srv, nil
}

// Listen binds the listener. With a strict port it fails with ErrPortInUse
// when the port is taken; otherwise it moves on to the following ports.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}

	attempts := portAttempts
	if s.strictPort || s.port == 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts && s.port+i <= 65535; i++ {
		addr := net.JoinHostPort(s.host, strconv.Itoa(s.port+i))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			s.listener = ln
			s.server.Addr = ln.Addr().String()
			return nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		lastErr = err
	}

	if s.strictPort {
		return fmt.Errorf("%w: %d", ErrPortInUse, s.port)
	}
	return fmt.Errorf("no free port in %d-%d: %w", s.port, s.port+attempts-1, lastErr)
}

// Start serves on the bound listener, binding first if needed.
// Returns an error unless the server is shut down cleanly.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	err := s.server.Serve(s.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the server with a 5-second timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		// Serve may never have run on it.
		_ = s.listener.Close()
	}
	return err
}

// Port returns the bound port, or the requested one before Listen.
func (s *Server) Port() int {
	if s.listener == nil {
		return s.port
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns the bound address, or the requested one before Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return net.JoinHostPort(s.host, strconv.Itoa(s.port))
	}
	return s.listener.Addr().String()
}

// URL is the address a browser on this machine uses to reach the server.
// Wildcard hosts are reported as localhost.
func (s *Server) URL() string {
	host := s.host
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port()))
}

func validateHost(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)

	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if err := is.Port.Validate(port); err != nil && port != "0" {
		return validation.NewError("validation_invalid_port", "invalid port")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
