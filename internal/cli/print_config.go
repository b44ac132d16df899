package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/banktransfer/internal/dispatch"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execPrintConfig(o, a)
		},
	}
}

func execPrintConfig(o *IO, a *app) error {
	cfg := a.cfg

	o.Println("effective_cwd=" + cfg.EffectiveCwd)
	o.Println("extdata_root=" + cfg.ExtDataRootAbs)
	o.Println("sdmc_root=" + cfg.SDMCRootAbs)

	if cfg.MemoryImageAbs != "" {
		o.Println("memory_image=" + cfg.MemoryImageAbs)
	}

	o.Printf("memory_base=%#x\n", cfg.MemoryBaseAddr)
	o.Println("write_policy=" + cfg.Policy.String())
	o.Println("log_level=" + cfg.Level.String())
	o.Println("log_format=" + cfg.LogFormat)

	o.Println("")
	o.Println("# bank candidates")

	for _, loc := range dispatch.Candidates() {
		_, pathLen := loc.ASCIIPath()

		o.Printf("%s archive=%d", loc, loc.Namespace.ArchiveID())

		if id := loc.Namespace.UniqueID(); id != 0 {
			o.Printf(" extdata_id=%#x", id)
		}

		o.Printf(" path_len=%d\n", pathLen)
	}

	o.Println("")
	o.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		o.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			o.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			o.Println("project_config=" + cfg.Sources.Project)
		}
	}

	return nil
}
