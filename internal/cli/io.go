package cli

import (
	"fmt"
	"io"
)

// IO splits command output: results go to out, errors and warnings to
// errOut. Warnings are held until [IO.Finish].
type IO struct {
	out      io.Writer
	errOut   io.Writer
	warnings []string
}

// NewIO creates a new IO instance.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Warn records a problem that did not stop the command, with a hint on how
// to fix it. A warned command exits 1.
func (o *IO) Warn(subject, hint string) {
	o.warnings = append(o.warnings, subject+": "+hint)
}

func (o *IO) Println(a ...any) {
	_, _ = fmt.Fprintln(o.out, a...)
}

func (o *IO) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(o.out, format, a...)
}

func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish prints the collected warnings and returns the exit code.
func (o *IO) Finish() int {
	for _, w := range o.warnings {
		o.ErrPrintln("warning:", w)
	}

	if len(o.warnings) > 0 {
		return 1
	}

	return 0
}
