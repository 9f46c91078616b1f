/*
Package log provides structured logging for pocket built on zerolog.

The global logger starts as a no-op: a host embedding pocket as a library
sees no output until it opts in by calling Setup with the logging section of
the database configuration (console for humans, JSON for machines):

	log.Setup(config.LogConfig{Level: "debug"}, nil)
	logger := log.WithComponent("views")
	logger.Debug().Str("view", name).Msg("delta applied")

Call Setup before constructing engines — child loggers snapshot the global
logger when they are derived. Engines log per-event work at debug, lifecycle
transitions at info, and subscriber or view failures at error.
*/
package log
