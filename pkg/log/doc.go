/*
Package log provides structured logging for dist-space using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	serLog := log.WithComponent("serializer")
	serLog.Info().Str("path", "/main.go").Uint64("seq", 42).Msg("Operation committed")
*/
package log
