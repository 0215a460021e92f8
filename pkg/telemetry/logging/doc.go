// Package logging builds the structured logger used across the engine.
// All components log through log/slog; this package only translates
// configuration into a handler and sets conventions (component attribute,
// level names).
package logging
