// Package logging builds the application slog logger and provides typed
// attribute helpers plus standardized field keys shared across components.
//
// Console and JSON handlers are selected by config; file output is appended
// alongside stdout when a log directory is configured. Components should log
// through a NewComponentLogger so every record carries its origin.
package logging
