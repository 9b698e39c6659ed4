// Package config loads the orchestrator's configuration from defaults, an
// optional YAML file and ORCH_-prefixed environment variables, and validates
// it before any component is built.
package config
