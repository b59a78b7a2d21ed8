// Package logger provides slog attribute helpers shared across the realtime
// subsystem, so the same log keys mean the same thing in every package.
//
// Helpers follow the empty Attr pattern for nil safety:
//
//	log.Error("publish failed",
//		logger.Component("broadcast"),
//		logger.Channel(msg.Channel),
//		logger.Error(err),
//	)
//
// A nil error or empty identifier yields an empty Attr, which slog drops,
// so call sites never need conditional attribute construction.
package logger
