package bank

import (
	"errors"
	"fmt"
	"io"

	"github.com/calvinalkan/banktransfer/pkg/storage"
)

// WritePolicy controls how [Bank.TransferBox] reacts to a failed slot.
type WritePolicy int

const (
	// BestEffort visits every slot of the box even after a failure.
	// All failures are returned together once the pass completes.
	// This is the default.
	BestEffort WritePolicy = iota

	// FailFast stops the pass at the first failed slot and returns its error.
	// Slots before it stay written.
	FailFast
)

func (p WritePolicy) String() string {
	switch p {
	case BestEffort:
		return "best-effort"
	case FailFast:
		return "fail-fast"
	default:
		return fmt.Sprintf("WritePolicy(%d)", int(p))
	}
}

// ParseWritePolicy maps "best-effort" and "fail-fast" to their [WritePolicy].
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch s {
	case "best-effort", "":
		return BestEffort, nil
	case "fail-fast":
		return FailFast, nil
	default:
		return 0, fmt.Errorf("unknown write policy %q: %w", s, ErrInvalidInput)
	}
}

// Options configures [Open].
type Options struct {
	// Format is the expected layout. The zero value means [DefaultFormat].
	Format Format

	// WritePolicy controls [Bank.TransferBox] failure handling.
	// Default is [BestEffort].
	WritePolicy WritePolicy
}

// Bank is an open bank file. It owns its storage handle exclusively.
type Bank struct {
	handle  storage.Handle
	loc     storage.Location
	format  Format
	policy  WritePolicy
	openErr error
	closed  bool
}

// Open opens the bank at loc through opener.
//
// Open never returns nil. If the storage cannot be opened (or opts is
// invalid) the failure is kept in [Bank.Err], [Bank.IsOpen] reports false,
// and every predicate reports an invalid, occupied bank. The returned Bank
// must still be closed.
func Open(opener storage.Opener, loc storage.Location, opts Options) *Bank {
	format := opts.Format
	if format == (Format{}) {
		format = DefaultFormat()
	}

	b := &Bank{loc: loc, format: format, policy: opts.WritePolicy}

	switch opts.WritePolicy {
	case BestEffort, FailFast:
		// ok
	default:
		b.openErr = fmt.Errorf("unknown write policy %d: %w", opts.WritePolicy, ErrInvalidInput)

		return b
	}

	err := format.Validate()
	if err != nil {
		b.openErr = err

		return b
	}

	handle, err := opener.Open(loc)
	if err != nil {
		b.openErr = fmt.Errorf("open bank %s: %w", loc, err)

		return b
	}

	b.handle = handle

	return b
}

// Location returns the location the bank was opened at.
func (b *Bank) Location() storage.Location {
	return b.loc
}

// Format returns the layout the bank is read with.
func (b *Bank) Format() Format {
	return b.format
}

// IsOpen reports whether the storage opened successfully and the bank has
// not been closed since.
func (b *Bank) IsOpen() bool {
	return b.handle != nil && !b.closed
}

// Err returns the open failure, or nil if the storage opened.
func (b *Bank) Err() error {
	return b.openErr
}

// usable returns nil if the bank can be read or written.
func (b *Bank) usable() error {
	if b.closed {
		return ErrClosed
	}

	if b.handle == nil {
		return errors.Join(ErrNotOpen, b.openErr)
	}

	return nil
}

// Validate reports whether the file is a bank of the supported version that
// is large enough for a full box.
//
// The size check comes first; only files that pass it are read, and then
// only [HeaderCheckLen] bytes at offset 0. Any storage failure reads as
// invalid.
func (b *Bank) Validate() bool {
	if b.usable() != nil {
		return false
	}

	size, err := b.handle.Size()
	if err != nil || size < b.format.MinimumFileSize() {
		return false
	}

	header := make([]byte, HeaderCheckLen)

	err = b.readAt(header, 0)
	if err != nil {
		return false
	}

	return ValidateHeader(header, size, b.format)
}

// IsSlotEmpty reports whether slot index holds the empty sentinel in its
// first [Format.EmptyProbeLen] bytes. Bytes further into the slot are not
// inspected. A read failure counts as occupied.
func (b *Bank) IsSlotEmpty(index int) bool {
	if b.usable() != nil {
		return false
	}

	probe := make([]byte, b.format.EmptyProbeLen)

	err := b.readAt(probe, b.format.OffsetOf(index))
	if err != nil {
		return false
	}

	return isEmptyProbe(probe)
}

// IsFirstBoxEmpty reports whether every slot of the box is empty, scanning
// in increasing index order and stopping at the first occupied slot.
// A box of zero slots is empty.
func (b *Bank) IsFirstBoxEmpty() bool {
	if b.usable() != nil {
		return false
	}

	for index := range b.format.SlotsPerBox {
		if !b.IsSlotEmpty(index) {
			return false
		}
	}

	return true
}

// SlotInfo is a decoded copy of one slot.
type SlotInfo struct {
	Index      int
	Offset     uint64
	Tag        [TagSize]byte
	Generation Generation
	Payload    []byte
	Empty      bool
}

// Slot reads slot index in full.
//
// Possible errors:
//   - [ErrInvalidInput]: index outside [0, SlotsPerBox)
//   - [ErrNotOpen], [ErrClosed]
//   - storage errors, including io.EOF for a file cut short inside the slot
func (b *Bank) Slot(index int) (SlotInfo, error) {
	err := b.usable()
	if err != nil {
		return SlotInfo{}, err
	}

	if index < 0 || index >= b.format.SlotsPerBox {
		return SlotInfo{}, fmt.Errorf("slot %d outside box of %d: %w", index, b.format.SlotsPerBox, ErrInvalidInput)
	}

	offset := b.format.OffsetOf(index)
	buf := make([]byte, b.format.SlotSize)

	err = b.readAt(buf, offset)
	if err != nil {
		return SlotInfo{}, fmt.Errorf("read slot %d: %w", index, err)
	}

	info := SlotInfo{
		Index:      index,
		Offset:     offset,
		Generation: GenerationOf(buf[:TagSize]),
		Payload:    buf[TagSize:],
		Empty:      isEmptyProbe(buf[:b.format.EmptyProbeLen]),
	}
	copy(info.Tag[:], buf[:TagSize])

	return info, nil
}

// Close releases the storage handle. Closing a bank whose open failed is
// allowed and returns nil. A second Close returns [ErrClosed].
func (b *Bank) Close() error {
	if b.closed {
		return ErrClosed
	}

	b.closed = true

	if b.handle == nil {
		return nil
	}

	err := b.handle.Close()
	if err != nil {
		return fmt.Errorf("close bank %s: %w", b.loc, err)
	}

	return nil
}

// readAt fills p from offset or fails. A short read is an error.
func (b *Bank) readAt(p []byte, offset uint64) error {
	off, err := uint64ToInt64Checked(offset)
	if err != nil {
		return err
	}

	n, err := b.handle.ReadAt(p, off)
	if n == len(p) {
		// io.ReaderAt may return io.EOF alongside a full read at end of file.
		return nil
	}

	if err == nil {
		err = fmt.Errorf("short read at %d: %d of %d bytes: %w", offset, n, len(p), io.ErrUnexpectedEOF)
	}

	return err
}

// writeAt writes all of p at offset or fails.
func (b *Bank) writeAt(p []byte, offset uint64) error {
	off, err := uint64ToInt64Checked(offset)
	if err != nil {
		return err
	}

	n, err := b.handle.WriteAt(p, off)
	if err != nil {
		return fmt.Errorf("write %d bytes at %d: %w", len(p), offset, err)
	}

	if n != len(p) {
		return fmt.Errorf("short write at %d: %d of %d bytes", offset, n, len(p))
	}

	return nil
}
