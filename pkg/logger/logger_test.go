package logger_test

import (
	"bytes"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/retracehq/retrace/pkg/logger"
)

var _ = Describe("New", func() {
	It("writes console output at info level by default", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriters(&buf))
		l.Info("cassette written", zap.String("key", "2026-08-23/GET_users_abc.json"))

		output := buf.String()
		Expect(output).To(ContainSubstring("cassette written"))
		Expect(output).To(ContainSubstring("2026-08-23/GET_users_abc.json"))
	})

	It("filters debug when not enabled", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriters(&buf))
		l.Debug("hidden")

		Expect(buf.String()).To(BeEmpty())
	})

	It("emits debug when enabled", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriters(&buf), logger.WithDebug(true))
		l.Debug("event matched")

		Expect(buf.String()).To(ContainSubstring("event matched"))
	})

	It("emits parseable JSON when requested", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriters(&buf), logger.WithJSON(true))
		l.Info("replay finished", zap.Int("events", 4))

		var parsed map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &parsed)).To(Succeed())
		Expect(parsed["msg"]).To(Equal("replay finished"))
		Expect(parsed["events"]).To(BeNumerically("==", 4))
	})

	It("fans out to multiple writers", func() {
		var buf1, buf2 bytes.Buffer
		l := logger.New(logger.WithWriters(&buf1, &buf2))
		l.Info("broadcast")

		Expect(buf1.String()).To(ContainSubstring("broadcast"))
		Expect(buf2.String()).To(ContainSubstring("broadcast"))
	})
})
