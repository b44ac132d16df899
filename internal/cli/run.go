package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/banktransfer/internal/config"
)

// Run is the main entry point. Returns exit code.
//
// sigCh may be nil. A signal received on it cancels the running command.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("bankctl", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	var (
		workDir    string
		configPath string
		chaosSeed  int64
		overrides  config.Overrides
		help       bool
	)

	globals.StringVarP(&workDir, "cwd", "C", "", "Run as if started in `dir`")
	globals.StringVarP(&configPath, "config", "c", "", "Use specified config `file`")
	globals.StringVar(&overrides.ExtDataRoot, "extdata-root", "", "Directory backing the extdata namespace")
	globals.StringVar(&overrides.SDMCRoot, "sdmc-root", "", "Directory backing the sdmc namespace")
	globals.StringVar(&overrides.MemoryImage, "memory-image", "", "Host memory dump used as transfer source")
	globals.StringVar(&overrides.MemoryBase, "memory-base", "", "Host address of the dump's first byte")
	globals.StringVar(&overrides.WritePolicy, "write-policy", "", "best-effort or fail-fast")
	globals.StringVar(&overrides.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	globals.StringVar(&overrides.LogFormat, "log-format", "", "Log format (text, json)")
	globals.Int64Var(&chaosSeed, "chaos-seed", 0, "Inject storage faults with this seed")
	globals.BoolVarP(&help, "help", "h", false, "Show help")
	_ = globals.MarkHidden("chaos-seed")

	if len(args) < 2 {
		printUsage(out, globals)

		return 0
	}

	err := globals.Parse(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, globals)

		return 1
	}

	rest := globals.Args()
	if help || len(rest) == 0 {
		printUsage(out, globals)

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: workDir,
		ConfigPath:      configPath,
		Overrides:       overrides,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	a := newApp(cfg, in, errOut, env, chaosSeed)

	commands := a.commands()

	name, cmdArgs := rest[0], rest[1:]

	cmd, ok := commands[name]
	if !ok {
		fprintln(errOut, "error: unknown command:", name)
		printUsage(errOut, globals)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(out, errOut), cmdArgs)
}

// errCanceled is returned by long-running commands after a signal.
var errCanceled = errors.New("canceled")

func checkCtx(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", errCanceled, context.Cause(ctx))
	}

	return nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet) {
	fprintln(w, `bankctl - inspect and fill transfer banks

Usage: bankctl [options] <command> [args]

Options:`)

	var buf strings.Builder

	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})

	_, _ = io.WriteString(w, buf.String())

	fprintln(w, "\nCommands:")

	for _, cmd := range (&app{}).commandList() {
		fprintln(w, cmd.HelpLine())
	}
}
