/*
Package log provides structured logging via zerolog: a global logger
configured once with Init, and component-scoped child loggers handed
out to the rest of the module.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	nodeLog := log.WithComponent("node")
	nodeLog.Info().Str("node_id", "node-1").Msg("bootstrapped cluster")

Each subsystem (node, membership, storage, transport) asks for its own
WithComponent logger rather than writing through the global Logger
directly, so every line carries a component field without repeating it
at each call site.
*/
package log
