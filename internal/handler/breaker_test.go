package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/devproxy/config"
	"github.com/angeloszaimis/devproxy/internal/backend"
	"github.com/angeloszaimis/devproxy/internal/circuitbreaker"
	"github.com/angeloszaimis/devproxy/internal/handler"
	"github.com/angeloszaimis/devproxy/internal/route"
)

var _ = Describe("DevServer behind a real listener", func() {
	var (
		origin   *httptest.Server
		front    *httptest.Server
		breakers *circuitbreaker.Registry
		truncate atomic.Bool
		delay    atomic.Int64
	)

	get := func(ctx context.Context, path string) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, front.URL+path, nil)
		Expect(err).NotTo(HaveOccurred())
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			return 0, err
		}
		defer res.Body.Close()
		if _, err := io.Copy(io.Discard, res.Body); err != nil {
			return res.StatusCode, err
		}
		return res.StatusCode, nil
	}

	start := func(threshold int, reset time.Duration) {
		breakers = circuitbreaker.NewRegistry(threshold, reset)

		t, err := route.Compile([]config.ProxyRule{{Pattern: config.DefaultProxyPattern, Target: origin.URL, ChangeOrigin: true}})
		Expect(err).NotTo(HaveOccurred())

		log := slog.New(slog.NewTextHandler(io.Discard, nil))
		dev := handler.NewDevServer(handler.Deps{
			Logger:   log,
			Routes:   route.NewSwappable(t),
			Pool:     backend.NewPool(log, func(target string, err error) { breakers.GetBreaker(target).RecordFailure() }),
			Breakers: breakers,
		})
		front = httptest.NewServer(dev)
	}

	BeforeEach(func() {
		truncate.Store(false)
		delay.Store(0)
		origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d := time.Duration(delay.Load()); d > 0 {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(d):
				}
			}

			if truncate.Load() {
				w.Header().Set("Content-Length", "100")
				w.WriteHeader(http.StatusOK)
				io.WriteString(w, "part")
				w.(http.Flusher).Flush()
				conn, _, err := w.(http.Hijacker).Hijack()
				if err == nil {
					conn.Close()
				}
				return
			}
			io.WriteString(w, "ok")
		}))
	})

	AfterEach(func() {
		front.Close()
		origin.Close()
	})

	It("should recover after a half-open request breaks off midway", func() {
		start(1, 20*time.Millisecond)
		breakers.GetBreaker(origin.URL).RecordFailure()
		time.Sleep(40 * time.Millisecond)

		truncate.Store(true)
		_, _ = get(context.Background(), "/dashboard")
		Eventually(func() circuitbreaker.State {
			return breakers.GetBreaker(origin.URL).State()
		}).Should(Equal(circuitbreaker.StateOpen))

		truncate.Store(false)
		Eventually(func() int {
			status, _ := get(context.Background(), "/dashboard")
			return status
		}, time.Second, 10*time.Millisecond).Should(Equal(http.StatusOK))
		Expect(breakers.GetBreaker(origin.URL).State()).To(Equal(circuitbreaker.StateClosed))
	})

	It("should not open when clients cancel their requests", func() {
		start(2, time.Minute)
		delay.Store(int64(200 * time.Millisecond))

		for i := 0; i < 5; i++ {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			_, err := get(ctx, "/dashboard")
			cancel()
			Expect(err).To(HaveOccurred())
		}

		delay.Store(0)
		Eventually(func() circuitbreaker.State {
			return breakers.GetBreaker(origin.URL).State()
		}).Should(Equal(circuitbreaker.StateClosed))

		status, err := get(context.Background(), "/dashboard")
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(http.StatusOK))
	})
})
