package cli

import (
	"context"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/banktransfer/internal/dispatch"
	"github.com/calvinalkan/banktransfer/pkg/bank"
	"github.com/calvinalkan/banktransfer/pkg/storage"
)

// ValidateCmd returns the validate command.
func ValidateCmd(a *app) *Command {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	namespace := fs.StringP("namespace", "n", "", "Check only this namespace (extdata, sdmc)")

	return &Command{
		Flags: fs,
		Usage: "validate [--namespace ns]",
		Short: "Check bank headers and sizes",
		Long: "Check each candidate bank in lookup order and report whether it is\n" +
			"usable. Fails if no checked bank is usable.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("%w: validate takes no arguments", errArgCount)
			}

			return execValidate(o, a, *namespace)
		},
	}
}

func execValidate(o *IO, a *app, namespace string) error {
	cands := dispatch.Candidates()

	if namespace != "" {
		loc, err := candidateFor(namespace)
		if err != nil {
			return err
		}

		cands = []storage.Location{loc}
	}

	opener := a.storage()
	usable := 0

	for _, loc := range cands {
		b := bank.Open(opener, loc, a.bankOptions())

		switch {
		case b.Validate():
			usable++

			o.Printf("%s valid\n", loc)
		case b.Err() != nil:
			o.Printf("%s unavailable: %v\n", loc, b.Err())
		default:
			o.Printf("%s invalid: bad header or shorter than %d bytes\n", loc, b.Format().MinimumFileSize())
		}

		err := b.Close()
		if err != nil && !errors.Is(err, bank.ErrClosed) {
			o.Warn("close "+loc.String(), err.Error())
		}
	}

	if usable == 0 {
		return dispatch.ErrNoUsableBank
	}

	return nil
}
