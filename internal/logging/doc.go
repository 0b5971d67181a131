// Package logging builds the slog loggers used across curator and defines the
// standardized structured field keys.
package logging
