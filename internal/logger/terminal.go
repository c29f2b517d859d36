package logger

import (
	"io"
	"os"

	"golang.org/x/term"
)

// colorCapable reports whether w is a terminal that should get ANSI colors.
// NO_COLOR disables colors regardless of the writer.
func colorCapable(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
