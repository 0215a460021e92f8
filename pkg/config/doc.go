// Package config defines the configuration tree for the Forseti rule
// engine and its loading pipeline: YAML file, defaults, environment
// variable overrides, then validation.
//
// Configuration is consumed once at startup. Components receive their
// sections by value and never re-read the file; rule-source changes are
// handled by the engine's hot-reload path, not by configuration reload.
package config
