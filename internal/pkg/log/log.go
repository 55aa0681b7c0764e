package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

// out is swapped in tests; everything the package prints goes through it.
var out io.Writer = os.Stdout

// Level tags rendered once at startup. The color library degrades them to
// plain text when stdout is not a terminal.
var (
	infoTag  = color.New(color.FgWhite, color.BgGreen).Sprint("[INFO] ")
	warnTag  = color.New(color.FgWhite, color.BgYellow).Sprint("[WARN] ")
	errorTag = color.New(color.FgRed).Sprint("[ERROR]")
)

// Info logs an informational message.
func Info(format string, a ...interface{}) {
	emit(infoTag, format, a...)
}

// Warn logs a warning.
func Warn(format string, a ...interface{}) {
	emit(warnTag, format, a...)
}

// Error logs an error.
func Error(format string, a ...interface{}) {
	emit(errorTag, format, a...)
}

// Dump logs a labeled deep dump of a value, used for startup diagnostics.
func Dump(label string, value interface{}) {
	emit(infoTag, "%s: %s", label, strings.TrimSuffix(spew.Sdump(value), "\n"))
}

func emit(tag, format string, a ...interface{}) {
	fmt.Fprintf(out, "%s %s\n", tag, fmt.Sprintf(format, a...))
}
