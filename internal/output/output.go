// Package output renders CLI results: colorized human text when stdout
// is a terminal, plain text when piped, and JSON when requested.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Formatter writes CLI output in one of the supported modes.
type Formatter struct {
	writer  io.Writer
	json    bool
	profile termenv.Profile
}

// New creates a formatter for w. Color is enabled only when w is a
// real terminal; jsonMode switches all structured output to JSON.
func New(w io.Writer, jsonMode bool) *Formatter {
	profile := termenv.Ascii
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		profile = termenv.ColorProfile()
	}
	return &Formatter{writer: w, json: jsonMode, profile: profile}
}

// Default returns a stdout formatter.
func Default(jsonMode bool) *Formatter {
	return New(os.Stdout, jsonMode)
}

// JSONMode reports whether structured output is requested.
func (f *Formatter) JSONMode() bool { return f.json }

// Writer exposes the underlying writer for table rendering.
func (f *Formatter) Writer() io.Writer { return f.writer }

// JSON writes v as indented JSON.
func (f *Formatter) JSON(v any) error {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (f *Formatter) colored(color termenv.ANSIColor, format string, args ...any) {
	s := fmt.Sprintf(format, args...)
	fmt.Fprintln(f.writer, f.profile.String(s).Foreground(f.profile.Convert(color)).String())
}

// Success prints a green status line.
func (f *Formatter) Success(format string, args ...any) {
	f.colored(termenv.ANSIGreen, format, args...)
}

// Error prints a red status line.
func (f *Formatter) Error(format string, args ...any) {
	f.colored(termenv.ANSIRed, format, args...)
}

// Warning prints a yellow status line.
func (f *Formatter) Warning(format string, args ...any) {
	f.colored(termenv.ANSIYellow, format, args...)
}

// Info prints a cyan status line.
func (f *Formatter) Info(format string, args ...any) {
	f.colored(termenv.ANSICyan, format, args...)
}

// Bold prints a bold line.
func (f *Formatter) Bold(format string, args ...any) {
	s := fmt.Sprintf(format, args...)
	fmt.Fprintln(f.writer, f.profile.String(s).Bold().String())
}
