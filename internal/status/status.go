// Package status prints the human-facing phase messages of a training run
// to stdout, colored when the terminal supports it.
package status

import (
	"fmt"
	"io"
	"os"

	"github.com/muesli/termenv"
)

// Printer writes phase messages.
type Printer struct {
	out *termenv.Output
}

// New returns a Printer on stdout with the detected color profile.
func New() *Printer {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter returns a Printer on w. Color is only used when w is a
// terminal.
func NewWithWriter(w io.Writer) *Printer {
	return &Printer{out: termenv.NewOutput(w)}
}

// Discard returns a Printer that drops everything.
func Discard() *Printer {
	return NewWithWriter(io.Discard)
}

// Writer exposes the underlying destination for progress bars.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Heading prints a use-case banner.
func (p *Printer) Heading(format string, args ...interface{}) {
	p.colored("5", "\n⭐️ "+format, args...)
}

// Phase prints the start of a pipeline step.
func (p *Printer) Phase(format string, args ...interface{}) {
	p.colored("4", "\n"+format, args...)
}

// Info prints a plain line.
func (p *Printer) Info(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Done prints a completion line.
func (p *Printer) Done(format string, args ...interface{}) {
	p.colored("2", "✅ "+format+"\n", args...)
}

func (p *Printer) colored(color, format string, args ...interface{}) {
	s := p.out.String(fmt.Sprintf(format, args...)).Foreground(p.out.Color(color))
	fmt.Fprintln(p.out, s.String())
}
