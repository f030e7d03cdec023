package logger

import "golang.org/x/term"

// isTerminal reports whether the file descriptor is attached to a terminal.
// Color output is enabled only for terminals.
func isTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}
