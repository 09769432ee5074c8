// Package log provides log setup helpers shared by the service binaries.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/term"
)

// LevelFromString returns the appropriate Level from a string name.
// Useful for parsing command line args and configuration files.
func LevelFromString(lvlString string) (slog.Level, error) {
	lvlString = strings.ToLower(lvlString) // ignore case
	switch lvlString {
	case "trace", "trce":
		return log.LevelTrace, nil
	case "debug", "dbug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error", "eror":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		return log.LevelDebug, fmt.Errorf("unknown level: %v", lvlString)
	}
}

// NewLogger creates a terminal-format logger writing records at or above the
// given level to out, with color enabled when out is a terminal.
func NewLogger(out io.Writer, level slog.Level) log.Logger {
	useColor := false
	if f, ok := out.(interface{ Fd() uintptr }); ok {
		useColor = term.IsTerminal(int(f.Fd()))
	}
	return log.NewLogger(log.NewTerminalHandlerWithLevel(out, level, useColor))
}
