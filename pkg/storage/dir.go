package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/banktransfer/pkg/fs"
)

// Dir implements [Opener] by mapping each [Namespace] to a root directory.
//
// Files are opened read-write and never created: a bank that does not exist
// is an open failure. Each open takes a non-blocking exclusive flock on the
// file so a second owner fails with [ErrBusy] instead of interleaving writes.
type Dir struct {
	fs    fs.FS
	roots map[Namespace]string
}

// NewDir returns a [Dir] over fsys. Panics if fsys is nil.
func NewDir(fsys fs.FS, roots map[Namespace]string) *Dir {
	if fsys == nil {
		panic("fs is nil")
	}

	copied := make(map[Namespace]string, len(roots))
	for ns, root := range roots {
		copied[ns] = root
	}

	return &Dir{fs: fsys, roots: copied}
}

// Resolve returns the OS path for loc. The location path cannot escape its
// namespace root: ".." segments are resolved against the namespace root.
func (d *Dir) Resolve(loc Location) (string, error) {
	err := loc.validate()
	if err != nil {
		return "", err
	}

	root, ok := d.roots[loc.Namespace]
	if !ok || root == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownNamespace, loc.Namespace)
	}

	rel := strings.TrimPrefix(path.Clean("/"+loc.Path), "/")
	if rel == "" {
		return "", fmt.Errorf("%w: %q names the namespace root", ErrInvalidPath, loc.Path)
	}

	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// Open opens the file at loc for reading and writing.
//
// Possible errors:
//   - [ErrUnknownNamespace], [ErrInvalidPath]: loc cannot be resolved
//   - [ErrBusy]: another handle holds the file
//   - os errors (for example [os.ErrNotExist]) from the underlying open
func (d *Dir) Open(loc Location) (Handle, error) {
	osPath, err := d.Resolve(loc)
	if err != nil {
		return nil, err
	}

	file, err := d.fs.OpenFile(osPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", loc, err)
	}

	lockErr := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if lockErr != nil {
		_ = file.Close()

		if errors.Is(lockErr, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, loc)
		}

		return nil, fmt.Errorf("lock %s: %w", loc, lockErr)
	}

	return &dirHandle{file: file, loc: loc}, nil
}

// dirHandle adapts an [fs.File] to [Handle] with seek-then-transfer calls.
type dirHandle struct {
	file   fs.File
	loc    Location
	closed bool
}

func (h *dirHandle) ReadAt(p []byte, off int64) (int, error) {
	if h.closed {
		return 0, ErrClosed
	}

	_, err := h.file.Seek(off, io.SeekStart)
	if err != nil {
		return 0, fmt.Errorf("seek %s@%d: %w", h.loc, off, err)
	}

	n, err := io.ReadFull(h.file, p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, io.EOF
	}

	return n, err
}

func (h *dirHandle) WriteAt(p []byte, off int64) (int, error) {
	if h.closed {
		return 0, ErrClosed
	}

	_, err := h.file.Seek(off, io.SeekStart)
	if err != nil {
		return 0, fmt.Errorf("seek %s@%d: %w", h.loc, off, err)
	}

	n, err := h.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("write %s@%d: %w", h.loc, off, err)
	}

	if n < len(p) {
		return n, io.ErrShortWrite
	}

	return n, nil
}

func (h *dirHandle) Size() (uint64, error) {
	if h.closed {
		return 0, ErrClosed
	}

	info, err := h.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", h.loc, err)
	}

	size := info.Size()
	if size < 0 {
		return 0, fmt.Errorf("stat %s: negative size %d", h.loc, size)
	}

	return uint64(size), nil
}

func (h *dirHandle) Close() error {
	if h.closed {
		return ErrClosed
	}

	h.closed = true

	unlockErr := unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	closeErr := h.file.Close()

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlock %s: %w", h.loc, unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("close %s: %w", h.loc, closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// Compile-time interface checks.
var (
	_ Opener = (*Dir)(nil)
	_ Handle = (*dirHandle)(nil)
)
