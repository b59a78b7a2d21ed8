package logger_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/veltio/realtime/core/logger"
)

func TestError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Attr{}, logger.Error(nil), "nil error yields an empty attr")

	attr := logger.Error(errors.New("boom"))
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "boom", attr.Value.String())
}

func TestEmptyIdentifiers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Attr{}, logger.MessageID(""))
	assert.Equal(t, slog.Attr{}, logger.ConnectionID(""))
	assert.Equal(t, slog.Attr{}, logger.UserID(""))
}

func TestDomainAttrs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.String("channel", "user.7"), logger.Channel("user.7"))
	assert.Equal(t, slog.String("topic", "user-events"), logger.Topic("user-events"))
	assert.Equal(t, slog.String("component", "consumer"), logger.Component("consumer"))
	assert.Equal(t, slog.Int64("offset", 42), logger.Offset(42))
	assert.Equal(t, slog.Duration("duration", time.Second), logger.Duration(time.Second))
}
