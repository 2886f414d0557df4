// Package logging builds the host's zap loggers.
//
// Production loggers write JSON with the subsystem under "component";
// development loggers write colored console lines. An
// unknown level is a configuration error.
//
// Subsystems receive a named child logger (browser, prefetch, headers,
// network, looper, api) and fall back to zap.NewNop() when none is given:
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	log := logger.Component(logging.ComponentPrefetch)
//	log.Info("Queued prefetch", zap.Int64("key", 1))
package logging
