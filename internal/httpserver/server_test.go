package httpserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/devproxy/internal/httpserver"
)

// freePort asks the kernel for a port nobody is using right now.
func freePort() int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

var noop = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

var _ = Describe("HTTP Server", func() {
	Context("server creation", func() {
		It("creates server with a host name", func() {
			srv, err := httpserver.New("localhost", 5173, true, noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv).NotTo(BeNil())
		})

		It("creates server with an IP address", func() {
			srv, err := httpserver.New("0.0.0.0", 5173, true, noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Addr()).To(Equal("0.0.0.0:5173"))
		})

		It("rejects an invalid host", func() {
			srv, err := httpserver.New("not a host", 5173, true, noop)
			Expect(err).To(HaveOccurred())
			Expect(srv).To(BeNil())
		})

		It("rejects an invalid port", func() {
			_, err := httpserver.New("localhost", 70000, true, noop)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("port selection", func() {
		var (
			blocker net.Listener
			port    int
		)

		BeforeEach(func() {
			var err error
			port = freePort()
			blocker, err = net.Listen("tcp", net.JoinHostPort("127.0.0.1", itoa(port)))
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			blocker.Close()
		})

		It("fails on a taken port when strict", func() {
			srv, err := httpserver.New("127.0.0.1", port, true, noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Listen()).To(MatchError(httpserver.ErrPortInUse))
		})

		It("moves to the next port otherwise", func() {
			srv, err := httpserver.New("127.0.0.1", port, false, noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Listen()).To(Succeed())
			defer srv.Shutdown(context.Background())

			Expect(srv.Port()).To(BeNumerically(">", port))
			Expect(srv.Port()).To(BeNumerically("<", port+20))
		})
	})

	Context("server lifecycle", func() {
		var testServer *httpserver.Server

		AfterEach(func() {
			if testServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
				defer cancel()
				_ = testServer.Shutdown(ctx)
			}
		})

		It("starts and handles requests", func() {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("test"))
			})
			var err error
			testServer, err = httpserver.New("127.0.0.1", freePort(), true, handler)
			Expect(err).NotTo(HaveOccurred())
			Expect(testServer.Listen()).To(Succeed())

			go func() {
				testServer.Start()
			}()

			resp, err := http.Get(testServer.URL())
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("test"))
		})

		It("reports wildcard hosts as localhost", func() {
			var err error
			testServer, err = httpserver.New("0.0.0.0", 0, true, noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(testServer.Listen()).To(Succeed())
			Expect(testServer.URL()).To(Equal("http://localhost:" + itoa(testServer.Port())))
		})

		It("shuts down gracefully", func() {
			var err error
			testServer, err = httpserver.New("127.0.0.1", 0, true, noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(testServer.Listen()).To(Succeed())

			done := make(chan error, 1)
			go func() {
				done <- testServer.Start()
			}()
			time.Sleep(100 * time.Millisecond)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			Expect(testServer.Shutdown(ctx)).To(Succeed())
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
