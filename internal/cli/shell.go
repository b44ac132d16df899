package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
)

// ShellCmd returns the shell command.
func ShellCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Interactive prompt for bank commands",
		Long: "Start an interactive prompt. Commands: validate, inspect [slot],\n" +
			"verify, transfer [image], help, exit. History is kept in\n" +
			"~/.bankctl_history when running in a terminal.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("%w: shell takes no arguments", errArgCount)
			}

			return newShell(a, o).run(ctx)
		},
	}
}

// lineReader is the part of [liner.State] the shell uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// scanReader reads lines without editing support, for piped input.
type scanReader struct {
	sc *bufio.Scanner
}

func (r *scanReader) Prompt(string) (string, error) {
	if !r.sc.Scan() {
		err := r.sc.Err()
		if err == nil {
			err = io.EOF
		}

		return "", err
	}

	return r.sc.Text(), nil
}

func (*scanReader) AppendHistory(string) {}

func (*scanReader) Close() error { return nil }

type shell struct {
	app     *app
	o       *IO
	lines   lineReader
	history string
	liner   *liner.State
}

func newShell(a *app, o *IO) *shell {
	s := &shell{app: a, o: o}

	if isTerminal(a.in) {
		state := liner.NewLiner()
		state.SetCtrlCAborts(true)
		state.SetCompleter(s.completer)

		s.liner = state
		s.lines = state
		s.history = historyFile(a.env)

		if f, err := os.Open(s.history); err == nil {
			_, _ = state.ReadHistory(f)
			_ = f.Close()
		}
	} else {
		in := a.in
		if in == nil {
			in = strings.NewReader("")
		}

		s.lines = &scanReader{sc: bufio.NewScanner(in)}
	}

	return s
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}

	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// historyFile returns the path to the history file, or "" without a home.
func historyFile(env map[string]string) string {
	home := env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, ".bankctl_history")
}

var shellCommands = []string{"validate", "inspect", "verify", "transfer", "help", "exit", "quit"}

func (s *shell) completer(line string) []string {
	var out []string

	for _, c := range shellCommands {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}

	return out
}

func (s *shell) run(ctx context.Context) error {
	defer func() {
		s.saveHistory()
		_ = s.lines.Close()
	}()

	s.o.Println("bankctl shell - type 'help' for commands")

	for {
		err := checkCtx(ctx)
		if err != nil {
			return err
		}

		line, err := s.lines.Prompt("bank> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				s.o.Println("bye")

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s.lines.AppendHistory(line)

		parts := strings.Fields(line)
		cmd, args := strings.ToLower(parts[0]), parts[1:]

		if cmd == "exit" || cmd == "quit" || cmd == "q" {
			s.o.Println("bye")

			return nil
		}

		err = s.exec(ctx, cmd, args)
		if err != nil {
			s.o.Println("error:", err)
		}
	}
}

func (s *shell) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "?":
		s.printHelp()

		return nil
	case "validate":
		return execValidate(s.o, s.app, "")
	case "inspect":
		slot := -1

		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid slot %q", args[0])
			}

			slot = n
		}

		return execInspect(s.o, s.app, "", slot)
	case "verify":
		return execVerify(s.o, s.app)
	case "transfer":
		image := ""
		if len(args) > 0 {
			image = args[0]
		}

		return execTransfer(ctx, s.o, s.app, image, false)
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

func (s *shell) printHelp() {
	s.o.Println("Commands:")
	s.o.Println("  validate          check candidate banks")
	s.o.Println("  inspect [slot]    show the first box, or one slot with payload")
	s.o.Println("  verify            run the verify hook")
	s.o.Println("  transfer [image]  send the box from a memory image")
	s.o.Println("  exit              leave the shell")
}

func (s *shell) saveHistory() {
	if s.liner == nil || s.history == "" {
		return
	}

	f, err := os.Create(s.history)
	if err != nil {
		return
	}

	_, _ = s.liner.WriteHistory(f)
	_ = f.Close()
}
