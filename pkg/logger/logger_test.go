package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/devproxy/pkg/logger"
)

var _ = Describe("Logger", func() {
	ctx := context.Background()

	Describe("New", func() {
		It("should create a logger", func() {
			Expect(logger.New("info", false, "dev")).NotTo(BeNil())
		})

		It("should default to info for invalid level", func() {
			log := logger.New("invalid", false, "dev")
			Expect(log.Enabled(ctx, slog.LevelInfo)).To(BeTrue())
			Expect(log.Enabled(ctx, slog.LevelDebug)).To(BeFalse())
		})
	})

	DescribeTable("ParseLevel",
		func(name string, expected slog.Level) {
			Expect(logger.ParseLevel(name)).To(Equal(expected))
		},
		Entry("debug", "debug", slog.LevelDebug),
		Entry("info", "info", slog.LevelInfo),
		Entry("warn", "warn", slog.LevelWarn),
		Entry("error", "error", slog.LevelError),
		Entry("upper case", "DEBUG", slog.LevelDebug),
		Entry("unknown", "verbose", slog.LevelInfo),
	)

	Describe("NewWithWriter", func() {
		var buf *bytes.Buffer

		BeforeEach(func() {
			buf = &bytes.Buffer{}
		})

		It("should write JSON in prod", func() {
			log := logger.NewWithWriter(buf, "info", false, "prod")
			log.Info("dev server ready", slog.Int("port", 5173))

			var entry map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
			Expect(entry).To(HaveKeyWithValue("msg", "dev server ready"))
			Expect(entry).To(HaveKeyWithValue("environment", "prod"))
			Expect(entry).To(HaveKeyWithValue("port", BeNumerically("==", 5173)))
		})

		It("should write text otherwise", func() {
			log := logger.NewWithWriter(buf, "info", false, "dev")
			log.Info("dev server ready")

			Expect(buf.String()).To(ContainSubstring(`msg="dev server ready"`))
			Expect(buf.String()).To(ContainSubstring("environment=dev"))
		})

		It("should drop entries below the level", func() {
			log := logger.NewWithWriter(buf, "warn", false, "dev")
			log.Info("quiet")
			Expect(buf.Len()).To(BeZero())

			log.Warn("loud")
			Expect(buf.String()).To(ContainSubstring("loud"))
		})
	})
})
