package cli

import (
	"context"
	"crypto/rand"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/banktransfer/pkg/hostmem"
)

// MkImageCmd returns the mkimage command.
func MkImageCmd(a *app) *Command {
	fs := flag.NewFlagSet("mkimage", flag.ContinueOnError)
	slots := fs.StringP("slots", "s", "", "Comma-separated slot indices that get a random record")
	legacy := fs.Bool("legacy", false, "Mark the records as produced by the legacy generation")

	return &Command{
		Flags: fs,
		Usage: "mkimage <path> [--slots 0,5] [--legacy]",
		Short: "Write a synthetic memory image",
		Long: "Write a host memory image containing only the transfer structures.\n" +
			"The image's first byte is the lowest layout address; print-config\n" +
			"shows it as the default memory_base.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: mkimage takes exactly one path", errArgCount)
			}

			return execMkImage(o, a, args[0], *slots, *legacy)
		},
	}
}

func execMkImage(o *IO, a *app, path, slots string, legacy bool) error {
	indices, err := parseSlotList(slots)
	if err != nil {
		return err
	}

	layout := hostmem.DefaultLayout()

	b, err := hostmem.NewBuilder(layout)
	if err != nil {
		return err
	}

	code := uint32(3)
	if legacy {
		code = hostmem.LegacyGameCode
	}

	b.SetGameCode(code)

	for _, i := range indices {
		record := make([]byte, layout.RecordSize)

		_, _ = rand.Read(record)

		err = b.SetCandidate(i, record)
		if err != nil {
			return err
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(a.cfg.EffectiveCwd, path)
	}

	err = a.fsys.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}

	err = a.fsys.WriteFileAtomic(path, b.Bytes(), 0o644)
	if err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	o.Printf("wrote %s base=%#x slots=%v game_code=%d\n", path, b.Base(), indices, code)

	return nil
}

func parseSlotList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var out []int

	for field := range strings.SplitSeq(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("invalid slot %q: %w", field, err)
		}

		out = append(out, n)
	}

	return out, nil
}
