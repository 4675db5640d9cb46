/*
Package log provides structured logging for all Hive components.

It is a thin wrapper over zerolog exposing a global logger, an Init
function driven by Config, and child-logger helpers that attach the
fields used throughout the fabric (component, worker_id, service,
coordinator_id).

Console output with RFC3339 timestamps is the default; JSON output is
enabled with Config.JSONOutput for log shippers.

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("coordinator")
	logger.Info().Str("worker_id", id).Msg("worker registered")
*/
package log
