package backend_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/devproxy/internal/backend"
)

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}

// echoHost answers with the Host header and path it received.
func echoHost() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Forwarded-For", r.Header.Get("X-Forwarded-For"))
		io.WriteString(w, r.Host+" "+r.URL.RequestURI())
	})
}

var _ = Describe("Backend", func() {
	var (
		testURL *url.URL
		b       *backend.Backend
	)

	BeforeEach(func() {
		testURL = mustParseURL("http://localhost:8081")
		b = backend.New(testURL, backend.Options{ChangeOrigin: true})
	})

	Describe("New", func() {
		It("should create a backend with the correct URL", func() {
			Expect(b).NotTo(BeNil())
			Expect(b.URL()).To(Equal(testURL))
		})

		It("should start healthy", func() {
			Expect(b.IsHealthy()).To(BeTrue())
		})

		It("should have zero active connections", func() {
			Expect(b.ActiveConnections()).To(Equal(0))
		})

		It("should provide a reverse proxy", func() {
			Expect(b.ReverseProxy()).NotTo(BeNil())
		})
	})

	Describe("Forwarding", func() {
		var origin *httptest.Server

		AfterEach(func() {
			if origin != nil {
				origin.Close()
			}
		})

		It("should replace the Host header when changing origin", func() {
			origin = httptest.NewServer(echoHost())
			target := mustParseURL(origin.URL)
			b = backend.New(target, backend.Options{ChangeOrigin: true})

			req := httptest.NewRequest(http.MethodGet, "http://localhost:5173/api/users?page=2", nil)
			rec := httptest.NewRecorder()
			b.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal(target.Host + " /api/users?page=2"))
		})

		It("should keep the client Host header otherwise", func() {
			origin = httptest.NewServer(echoHost())
			b = backend.New(mustParseURL(origin.URL), backend.Options{})

			req := httptest.NewRequest(http.MethodGet, "http://localhost:5173/login", nil)
			rec := httptest.NewRecorder()
			b.ServeHTTP(rec, req)

			Expect(rec.Body.String()).To(Equal("localhost:5173 /login"))
		})

		It("should add forwarding headers when asked", func() {
			origin = httptest.NewServer(echoHost())
			b = backend.New(mustParseURL(origin.URL), backend.Options{XForwarded: true})

			req := httptest.NewRequest(http.MethodGet, "/login", nil)
			req.RemoteAddr = "10.0.0.7:5555"
			rec := httptest.NewRecorder()
			b.ServeHTTP(rec, req)

			Expect(rec.Header().Get("X-Seen-Forwarded-For")).To(Equal("10.0.0.7"))
		})

		It("should accept self-signed certificates when verification is off", func() {
			origin = httptest.NewTLSServer(echoHost())
			b = backend.New(mustParseURL(origin.URL), backend.Options{ChangeOrigin: true})

			rec := httptest.NewRecorder()
			b.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secure", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("should answer 502 and report when the certificate is rejected", func() {
			origin = httptest.NewTLSServer(echoHost())

			var reported error
			b = backend.New(mustParseURL(origin.URL), backend.Options{
				ChangeOrigin: true,
				VerifyTLS:    true,
				OnError:      func(err error) { reported = err },
			})

			rec := httptest.NewRecorder()
			b.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secure", nil))

			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(reported).To(HaveOccurred())
		})

		It("should not report requests the client cancelled", func() {
			origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			}))

			reported := false
			b = backend.New(mustParseURL(origin.URL), backend.Options{
				OnError: func(error) { reported = true },
			})

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			req := httptest.NewRequest(http.MethodGet, "/slow", nil).WithContext(ctx)
			rec := httptest.NewRecorder()
			b.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(reported).To(BeFalse())
		})

		It("should record a response time after forwarding", func() {
			origin = httptest.NewServer(echoHost())
			b = backend.New(mustParseURL(origin.URL), backend.Options{})

			b.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

			Expect(b.EWMATime()).To(BeNumerically(">", 0))
			Expect(b.ActiveConnections()).To(Equal(0))
		})
	})

	Describe("Health Management", func() {
		It("should report a change only when the status flips", func() {
			Expect(b.SetHealthy(true)).To(BeFalse())
			Expect(b.SetHealthy(false)).To(BeTrue())
			Expect(b.IsHealthy()).To(BeFalse())
			Expect(b.SetHealthy(true)).To(BeTrue())
			Expect(b.IsHealthy()).To(BeTrue())
		})

		It("should be thread-safe", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func(healthy bool) {
					defer wg.Done()
					b.SetHealthy(healthy)
					_ = b.IsHealthy()
				}(i%2 == 0)
			}
			wg.Wait()
		})
	})

	Describe("Connection Tracking", func() {
		It("should count up and down", func() {
			b.IncrementConn()
			b.IncrementConn()
			b.IncrementConn()
			Expect(b.ActiveConnections()).To(Equal(3))

			b.DecrementConn()
			Expect(b.ActiveConnections()).To(Equal(2))
		})

		It("should not go below zero", func() {
			b.DecrementConn()
			b.DecrementConn()
			Expect(b.ActiveConnections()).To(Equal(0))
		})

		It("should be thread-safe", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					b.IncrementConn()
				}()
			}
			wg.Wait()
			Expect(b.ActiveConnections()).To(Equal(100))
		})
	})

	Describe("Response Time Tracking (EWMA)", func() {
		It("should be zero before any response", func() {
			Expect(b.EWMATime()).To(BeZero())
		})

		It("should take the first sample as is", func() {
			b.RecordResponse(100 * time.Millisecond)
			Expect(b.EWMATime()).To(Equal(100 * time.Millisecond))
		})

		It("should smooth subsequent samples", func() {
			b.RecordResponse(100 * time.Millisecond)
			b.RecordResponse(200 * time.Millisecond)
			Expect(b.EWMATime()).To(BeNumerically("~", 120*time.Millisecond, time.Microsecond))
		})
	})
})
