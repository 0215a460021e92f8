// Forseti is a hot-reloading rule engine service.
//
// It compiles declarative CEL rule files into an immutable rule base,
// serves evaluations through a bounded session pool, and watches the rule
// sources so edits go live without a restart.
//
// Usage:
//
//	# Start the engine with default configuration
//	forseti run
//
//	# Start with a custom configuration file
//	forseti run --config /etc/forseti/config.yaml
//
//	# Check rule files without starting the engine
//	forseti lint --rules ./rules
//
//	# Show version information
//	forseti version
package main

func main() {
	Execute()
}
