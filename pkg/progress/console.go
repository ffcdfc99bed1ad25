package progress

import (
	"fmt"
	"io"
	"os"
)

// Console prints the short status messages of the command line around the
// stage displays. Errors are always printed; everything else honors quiet.
type Console struct {
	out   io.Writer
	err   io.Writer
	quiet bool
	color bool
}

// NewConsole writes messages to out and errors to errOut. Colors are used
// only when out is a terminal.
func NewConsole(out, errOut io.Writer, quiet bool) *Console {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Console{out: out, err: errOut, quiet: quiet, color: IsTerminal(out)}
}

// Quiet reports whether non-error output is suppressed
func (c *Console) Quiet() bool {
	return c.quiet
}

func (c *Console) paint(color func(string) string, text string) string {
	if !c.color {
		return text
	}
	return color(text)
}

// Error prints an error message, with an optional detail, in red
func (c *Console) Error(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = msg + ": " + fmt.Sprintf("%v", args[0])
	}
	fmt.Fprintln(c.err, c.paint(Red, msg))
}

// Success prints a success message in green
func (c *Console) Success(msg string) {
	if c.quiet {
		return
	}
	fmt.Fprintln(c.out, c.paint(Green, msg))
}

// Info prints a label and value
func (c *Console) Info(label, value string) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "%s: %s\n", c.paint(Cyan, label), c.paint(Yellow, value))
}

// Warning prints a warning message, with an optional detail, in yellow
func (c *Console) Warning(msg string, args ...interface{}) {
	if c.quiet {
		return
	}
	if len(args) > 0 {
		msg = msg + ": " + fmt.Sprintf("%v", args[0])
	}
	fmt.Fprintln(c.out, c.paint(Yellow, msg))
}

// Highlight prints a section heading in magenta
func (c *Console) Highlight(msg string) {
	if c.quiet {
		return
	}
	fmt.Fprintln(c.out, c.paint(Magenta, msg))
}

// Print writes text as is
func (c *Console) Print(text string) {
	if c.quiet {
		return
	}
	fmt.Fprint(c.out, text)
}
