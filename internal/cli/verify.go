package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/banktransfer/internal/dispatch"
)

// VerifyCmd returns the verify command.
func VerifyCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("verify", flag.ContinueOnError),
		Usage: "verify",
		Short: "Check that a transfer is safe",
		Long: "Run the verify hook: the first usable bank must be valid and its first\n" +
			"box empty. Prints the resulting state and fails if it is unsafe.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("%w: verify takes no arguments", errArgCount)
			}

			return execVerify(o, a)
		},
	}
}

func execVerify(o *IO, a *app) error {
	outcome := a.dispatcher().VerifySafeTransfer()

	o.Printf("outcome=%s (%d)\n", outcome, uint32(outcome))

	if outcome != dispatch.OutcomeSafe {
		return errTransferUnsafe
	}

	return nil
}
