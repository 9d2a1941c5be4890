package actor

import "github.com/btcsuite/btclog/v2"

// Subsystem is the logging subsystem tag this package registers under
// (cmd/substrated/main.go builds the actor logger from its handler set's
// SubSystem(Subsystem)).
const Subsystem = "ACTR"

// log is the package-wide logger, initially a no-op so the package is safe
// to import and exercise in tests before the host application wires in a
// real logger via UseLogger.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by the actor package's
// lifecycle and scheduling diagnostics. The host application (typically
// cmd/substrated) calls this once during startup with a logger already
// tagged with Subsystem.
func UseLogger(logger btclog.Logger) {
	log = logger
}
