/*
Package log provides the global zerolog-backed logger for Fanout.

Call Init once at startup, then either use the package-level helpers for
one-off messages or derive a child logger scoped to a component, node, or
cluster request:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("replicator")
	logger.Debug().Str("request_id", id).Msg("replicating request")

Child loggers attach structured fields so that all activity for one cluster
request can be correlated across the worker pool.
*/
package log
