// internal/logging/testing_test.go
package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestTestLogger_ObservesEntries(t *testing.T) {
	tl := NewTestLogger()

	tl.Info("cache warmed", zap.String("scope", "acme/support-bot/v1"))
	tl.Warn("budget exceeded")

	assert.Len(t, tl.All(), 2)
	assert.Equal(t, 1, tl.FilterMessage("cache warmed").Len())

	tl.AssertLogged(t, zapcore.InfoLevel, "warmed")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "warmed")
	tl.AssertField(t, "cache warmed", "scope", "acme/support-bot/v1")
}

func TestTestLogger_Reset(t *testing.T) {
	tl := NewTestLogger()

	tl.Info("one")
	tl.Reset()
	tl.Info("two")

	assert.Len(t, tl.All(), 1)
	assert.Equal(t, "two", tl.All()[0].Message)
}
