package logger

import (
	"log/slog"
	"time"
)

// Attribute helpers use the empty Attr pattern for nil safety, so calls like
// log.Info("msg", logger.Error(err)) need no explicit nil checks.

// Error creates an attribute for a single error under the key "error".
// Returns an empty Attr for nil errors.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component tags log records with the emitting subsystem.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Channel creates an attribute for a logical channel name.
func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

// Event creates an attribute for a message event name.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// MessageID creates an attribute for a message identifier.
func MessageID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("message_id", id)
}

// Topic creates an attribute for a physical broker topic.
func Topic(name string) slog.Attr {
	return slog.String("topic", name)
}

// Offset creates an attribute for a broker offset or delivery tag.
func Offset(offset int64) slog.Attr {
	return slog.Int64("offset", offset)
}

// ConnectionID creates an attribute for a transport connection identifier.
func ConnectionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("connection_id", id)
}

// UserID creates an attribute for an authenticated user identifier.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed calculates and logs the duration since the start time.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}
