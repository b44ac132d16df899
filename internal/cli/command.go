package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one bankctl subcommand.
type Command struct {
	Flags *flag.FlagSet

	// Usage starts with the command name, e.g. "inspect [--slot N]".
	Usage string

	// Short appears in the command list, Long in "bankctl <cmd> --help".
	// Long falls back to Short.
	Short string
	Long  string

	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine is the command's entry in the global usage listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-34s %s", c.Usage, c.Short)
}

func (c *Command) writeHelp(w io.Writer) {
	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	_, _ = fmt.Fprintf(w, "Usage: bankctl %s\n\n%s\n", c.Usage, desc)

	if c.Flags.HasFlags() {
		_, _ = fmt.Fprintf(w, "\nFlags:\n%s", c.Flags.FlagUsages())
	}
}

// Run parses args and executes the command, returning the exit code.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(io.Discard)

	err := c.Flags.Parse(args)

	switch {
	case errors.Is(err, flag.ErrHelp):
		c.writeHelp(o.out)

		return 0
	case err != nil:
		o.ErrPrintln("error:", err)
		c.writeHelp(o.errOut)

		return 1
	}

	err = c.Exec(ctx, o, c.Flags.Args())
	if err != nil {
		o.ErrPrintln("error:", err)
		o.Finish()

		return 1
	}

	return o.Finish()
}
