package bank

import (
	"fmt"
	"path/filepath"

	"github.com/calvinalkan/banktransfer/pkg/fs"
)

// Create writes a new empty bank at path. Missing parent directories are
// created. The file appears atomically: readers see either nothing or the
// complete image.
//
// Possible errors:
//   - [ErrInvalidInput]: f is not a valid layout
//   - [ErrExists]: path already exists
//   - filesystem errors
func Create(fsys fs.FS, path string, f Format) error {
	err := f.Validate()
	if err != nil {
		return err
	}

	exists, err := fsys.Exists(path)
	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}

	if exists {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}

	err = fsys.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("create parent of %q: %w", path, err)
	}

	err = fsys.WriteFileAtomic(path, NewImage(f), 0o644)
	if err != nil {
		return fmt.Errorf("write bank %q: %w", path, err)
	}

	return nil
}
