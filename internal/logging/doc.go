// Package logging builds the zap loggers used across vectorcached.
//
// The cache embeds into a host service, so this package stays small: a
// Config that can be loaded from YAML or environment, a New constructor
// that produces a *zap.Logger, and observer-backed helpers for tests.
// Components accept *zap.Logger directly and treat nil as no-op.
//
// Usage:
//
//	logger, err := logging.New(logging.Config{Level: "debug", Format: "console"})
//	if err != nil {
//		return err
//	}
//	defer logger.Sync()
package logging
