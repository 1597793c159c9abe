// Package logs provides bounded-memory log file tailing for the CLI.
//
// LastLines reads the final N lines of the daemon log without loading the
// whole file; Follow polls the file from a byte offset and emits new lines as
// they are appended, stopping when the caller's context ends. Log rotation is
// handled by treating a shrunken file as a restart from the beginning.
package logs
