// Package logging provides slog construction helpers and standardized
// structured attribute keys shared across sharepipe components.
package logging
