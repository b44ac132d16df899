package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/banktransfer/internal/dispatch"
	"github.com/calvinalkan/banktransfer/pkg/bank"
)

// CLI provides a clean interface for running CLI commands in tests.
// It manages a temp directory and environment variables.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

// NewCLI creates a new test CLI with a temp directory.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	return &CLI{
		t:   t,
		Dir: t.TempDir(),
		Env: map[string]string{},
	}
}

// Run executes the CLI with the given args and returns stdout, stderr, and exit code.
// Args should not include "bankctl" or "--cwd" - those are added automatically.
func (r *CLI) Run(args ...string) (string, string, int) {
	return r.RunWithInput("", args...)
}

// RunWithInput executes the CLI with stdin and returns stdout, stderr, and exit code.
// stdin must be a string or io.Reader; panics otherwise.
func (r *CLI) RunWithInput(stdin any, args ...string) (string, string, int) {
	var inReader io.Reader

	switch v := stdin.(type) {
	case string:
		inReader = strings.NewReader(v)
	case io.Reader:
		inReader = v
	default:
		panic(fmt.Sprintf("stdin must be string or io.Reader, got %T", stdin))
	}

	var outBuf, errBuf bytes.Buffer

	fullArgs := append([]string{"bankctl", "--cwd", r.Dir}, args...)
	code := Run(inReader, &outBuf, &errBuf, fullArgs, r.Env, nil)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns non-zero.
// Returns trimmed stdout on success.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail executes the CLI and fails the test if the command succeeds.
// Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}

// BankPath returns the default on-disk path of the bank in namespace
// ("extdata" or "sdmc").
func (r *CLI) BankPath(namespace string) string {
	r.t.Helper()

	switch namespace {
	case "extdata":
		return filepath.Join(r.Dir, "extdata", filepath.FromSlash(dispatch.ExtDataBankPath))
	case "sdmc":
		return filepath.Join(r.Dir, "sdmc", filepath.FromSlash(dispatch.SDMCBankPath))
	default:
		r.t.Fatalf("unknown namespace %q", namespace)

		return ""
	}
}

// ReadBank returns the raw bytes of the bank in namespace.
func (r *CLI) ReadBank(namespace string) []byte {
	r.t.Helper()

	data, err := os.ReadFile(r.BankPath(namespace))
	if err != nil {
		r.t.Fatalf("failed to read %s bank: %v", namespace, err)
	}

	return data
}

// WriteBank writes raw bytes as the bank in namespace, creating parents.
func (r *CLI) WriteBank(namespace string, data []byte) {
	r.t.Helper()

	path := r.BankPath(namespace)

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		r.t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}

	err = os.WriteFile(path, data, 0o600)
	if err != nil {
		r.t.Fatalf("failed to write %s bank: %v", namespace, err)
	}
}

// SlotTag returns the 4 tag bytes of slot index from raw bank bytes.
func SlotTag(data []byte, index int) []byte {
	off := bank.DefaultFormat().OffsetOf(index)

	return data[off : off+bank.TagSize]
}

// AssertContains fails the test if content doesn't contain substr.
func AssertContains(t *testing.T, content, substr string) {
	t.Helper()

	if !strings.Contains(content, substr) {
		t.Errorf("content should contain %q\ncontent:\n%s", substr, content)
	}
}

// AssertNotContains fails the test if content contains substr.
func AssertNotContains(t *testing.T, content, substr string) {
	t.Helper()

	if strings.Contains(content, substr) {
		t.Errorf("content should NOT contain %q\ncontent:\n%s", substr, content)
	}
}
