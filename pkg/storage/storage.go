// Package storage defines the byte-addressable storage handle a bank lives in
// and two implementations of it:
//   - [Dir]: namespaces mapped to directories on a [fs.FS]
//   - [Memory]: in-memory files with fault hooks, for tests
//
// A handle is owned by exactly one caller between open and close. Handles
// are not safe for concurrent use.
package storage

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnknownNamespace indicates a [Location] names a namespace the
	// opener has no binding for.
	ErrUnknownNamespace = errors.New("storage: unknown namespace")

	// ErrInvalidPath indicates a [Location] path is empty or contains NUL.
	ErrInvalidPath = errors.New("storage: invalid path")

	// ErrBusy indicates another owner already holds the file open.
	ErrBusy = errors.New("storage: busy")

	// ErrClosed indicates the handle was already closed.
	ErrClosed = errors.New("storage: closed")
)

// Namespace selects which storage archive a path is resolved in.
type Namespace int

const (
	// NamespaceExtData is the title-scoped extra data archive. It is the
	// primary bank location.
	NamespaceExtData Namespace = iota

	// NamespaceSDMC is the removable SD card archive. It is the fallback
	// bank location.
	NamespaceSDMC
)

// Archive identifiers and the extdata owner id used by the host file service.
const (
	ArchiveIDExtData uint32 = 6
	ArchiveIDSDMC    uint32 = 9
	ExtDataUniqueID  uint32 = 0xEC100
)

func (n Namespace) String() string {
	switch n {
	case NamespaceExtData:
		return "extdata"
	case NamespaceSDMC:
		return "sdmc"
	default:
		return fmt.Sprintf("namespace(%d)", int(n))
	}
}

// ArchiveID returns the host archive identifier for n, or 0 if unknown.
func (n Namespace) ArchiveID() uint32 {
	switch n {
	case NamespaceExtData:
		return ArchiveIDExtData
	case NamespaceSDMC:
		return ArchiveIDSDMC
	default:
		return 0
	}
}

// UniqueID returns the extdata owner id for n. Only [NamespaceExtData] has
// one; other namespaces return 0.
func (n Namespace) UniqueID() uint32 {
	if n == NamespaceExtData {
		return ExtDataUniqueID
	}

	return 0
}

// ParseNamespace maps "extdata" and "sdmc" to their [Namespace].
func ParseNamespace(s string) (Namespace, error) {
	switch s {
	case "extdata":
		return NamespaceExtData, nil
	case "sdmc":
		return NamespaceSDMC, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownNamespace, s)
	}
}

// Location identifies a file inside a namespace.
//
// Path is slash-separated and absolute within its namespace, for example
// "/banks/transport.bnk".
type Location struct {
	Namespace Namespace
	Path      string
}

func (l Location) String() string {
	return l.Namespace.String() + ":" + l.Path
}

// ASCIIPath returns the path as the host file service expects it: ASCII
// bytes with a trailing NUL, and the length including that NUL.
func (l Location) ASCIIPath() ([]byte, uint32) {
	b := make([]byte, 0, len(l.Path)+1)
	b = append(b, l.Path...)
	b = append(b, 0)

	return b, uint32(len(b)) //nolint:gosec // paths are short
}

func (l Location) validate() error {
	if l.Path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	for i := range len(l.Path) {
		if l.Path[i] == 0 {
			return fmt.Errorf("%w: %q contains NUL", ErrInvalidPath, l.Path)
		}
	}

	return nil
}

// Handle is an open, byte-addressable file.
//
// Success of every call is signalled by a nil error, independent of the
// byte count returned. ReadAt and WriteAt follow the [io.ReaderAt] and
// [io.WriterAt] contracts.
type Handle interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Size returns the current file size in bytes.
	Size() (uint64, error)
}

// Opener opens a [Handle] at a [Location] for reading and writing.
type Opener interface {
	Open(loc Location) (Handle, error)
}
