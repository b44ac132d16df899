package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/banktransfer/pkg/bank"
)

// InitCmd returns the init command.
func InitCmd(a *app) *Command {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	namespace := fs.StringP("namespace", "n", "extdata", "Namespace to create the bank in (extdata, sdmc)")

	return &Command{
		Flags: fs,
		Usage: "init [--namespace ns]",
		Short: "Create an empty bank",
		Long: "Create an empty bank at the namespace's bank path. The file holds a\n" +
			"valid header and one box of empty slots. Existing files are left alone.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("%w: init takes no arguments", errArgCount)
			}

			return execInit(o, a, *namespace)
		},
	}
}

func execInit(o *IO, a *app, namespace string) error {
	loc, err := candidateFor(namespace)
	if err != nil {
		return err
	}

	path, err := a.storage().Resolve(loc)
	if err != nil {
		return err
	}

	f := bank.DefaultFormat()

	err = bank.Create(a.fsys, path, f)
	if err != nil {
		return err
	}

	a.log.WithField("bank", loc.String()).Debug("bank created")

	o.Printf("created %s (%d bytes)\n", loc, f.MinimumFileSize())

	return nil
}
