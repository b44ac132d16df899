package cli

import (
	"context"
	"fmt"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/banktransfer/internal/dispatch"
	"github.com/calvinalkan/banktransfer/pkg/bank"
)

// TransferCmd returns the transfer command.
func TransferCmd(a *app) *Command {
	fs := flag.NewFlagSet("transfer", flag.ContinueOnError)
	image := fs.StringP("image", "i", "", "Memory image to read candidates from (default: configured memory_image)")
	force := fs.Bool("force", false, "Transfer even if verify reports the bank unsafe")

	return &Command{
		Flags: fs,
		Usage: "transfer [--image path] [--force]",
		Short: "Send the box from a memory image to the bank",
		Long: "Verify the bank, then copy every present candidate of the memory\n" +
			"image into the same slot of the first usable bank. Without --force an\n" +
			"unsafe bank is refused.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("%w: transfer takes no arguments", errArgCount)
			}

			return execTransfer(ctx, o, a, *image, *force)
		},
	}
}

func execTransfer(ctx context.Context, o *IO, a *app, image string, force bool) error {
	if image != "" && !filepath.IsAbs(image) {
		image = filepath.Join(a.cfg.EffectiveCwd, image)
	}

	src, err := a.source(image)
	if err != nil {
		return err
	}

	d := a.dispatcher()

	if !force {
		if outcome := d.VerifySafeTransfer(); outcome != dispatch.OutcomeSafe {
			return fmt.Errorf("%w (outcome %s); use --force to overwrite", errTransferUnsafe, outcome)
		}
	}

	err = checkCtx(ctx)
	if err != nil {
		return err
	}

	outcome, report, err := d.SendToBank(src)
	if outcome == dispatch.OutcomeNone {
		return err
	}

	printReport(o, outcome, report)

	return err
}

func printReport(o *IO, outcome dispatch.Outcome, report bank.TransferReport) {
	o.Printf("outcome=%s (%#x)\n", outcome, uint32(outcome))
	o.Printf("generation=%s tag=%v\n", bank.GenerationOf(report.Tag[:]), report.Tag)
	o.Printf("written=%v\n", report.Written)
	o.Printf("absent=%d failed=%v\n", len(report.Absent), report.Failed)
}
