// Package hostmem reads transfer candidates out of a snapshot of host game
// memory.
//
// The host keeps a list of [Layout.Slots] little-endian uint32 entries at
// [Layout.SlotListAddr]. An entry of 0xFFFFFFFF means the slot has nothing to
// transfer. Payload records for slot i live at PayloadAddr + i*RecordSize.
// The game code at GameCodeAddr tells which generation produced them.
//
// Memory is never written. [Image] only needs an [io.ReaderAt] positioned so
// that offset 0 corresponds to the image's base address.
package hostmem

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/calvinalkan/banktransfer/pkg/bank"
	"github.com/calvinalkan/banktransfer/pkg/fs"
)

var (
	// ErrOutOfRange is returned when a layout address falls outside the image.
	ErrOutOfRange = errors.New("hostmem: address out of range")

	// ErrInvalidLayout is returned for layouts that cannot describe a box.
	ErrInvalidLayout = errors.New("hostmem: invalid layout")
)

// Host memory constants for the supported game build.
const (
	DefaultSlotListAddr = 0x8AFD380
	DefaultPayloadAddr  = 0x8BC6524
	DefaultGameCodeAddr = 0x8B0273C

	// LegacyGameCode is the game code of the older generation.
	LegacyGameCode = 2

	// AbsentEntry marks a slot list entry with no candidate.
	AbsentEntry = 0xFFFFFFFF

	entrySize = 4
)

// Layout locates the transfer structures in host memory.
type Layout struct {
	SlotListAddr uint64
	PayloadAddr  uint64
	GameCodeAddr uint64
	RecordSize   uint64
	Slots        int
}

// DefaultLayout returns the layout of the supported game build with records
// sized to fill a bank slot payload exactly.
func DefaultLayout() Layout {
	return Layout{
		SlotListAddr: DefaultSlotListAddr,
		PayloadAddr:  DefaultPayloadAddr,
		GameCodeAddr: DefaultGameCodeAddr,
		RecordSize:   bank.PayloadSize,
		Slots:        bank.SlotsPerBox,
	}
}

// Validate rejects layouts with no records or no slots list.
func (l Layout) Validate() error {
	if l.RecordSize == 0 {
		return fmt.Errorf("%w: record size is zero", ErrInvalidLayout)
	}

	if l.Slots < 0 {
		return fmt.Errorf("%w: negative slot count %d", ErrInvalidLayout, l.Slots)
	}

	return nil
}

// LowestAddr returns the smallest address the layout touches. It is the
// natural base for an image holding only the transfer structures.
func (l Layout) LowestAddr() uint64 {
	return min(l.SlotListAddr, l.PayloadAddr, l.GameCodeAddr)
}

// EndAddr returns one past the highest address the layout touches.
func (l Layout) EndAddr() uint64 {
	slots := uint64(max(l.Slots, 0))

	return max(
		l.SlotListAddr+entrySize*slots,
		l.PayloadAddr+l.RecordSize*slots,
		l.GameCodeAddr+entrySize,
	)
}

// Image is a read-only view of host memory. It implements
// [bank.CandidateSource].
type Image struct {
	mem    io.ReaderAt
	base   uint64
	layout Layout
}

// NewImage returns an Image reading mem, where offset 0 of mem is host
// address base.
func NewImage(mem io.ReaderAt, base uint64, layout Layout) (*Image, error) {
	err := layout.Validate()
	if err != nil {
		return nil, err
	}

	return &Image{mem: mem, base: base, layout: layout}, nil
}

// OpenImageFile loads a memory dump from path. The dump's first byte is host
// address base.
func OpenImageFile(fsys fs.FS, path string, base uint64, layout Layout) (*Image, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read memory image %q: %w", path, err)
	}

	return NewImage(bytes.NewReader(data), base, layout)
}

// Layout returns the layout the image is read with.
func (img *Image) Layout() Layout {
	return img.layout
}

// GameCode returns the uint32 stored at the game code address.
func (img *Image) GameCode() (uint32, error) {
	return img.uint32At(img.layout.GameCodeAddr)
}

// IsLegacyGeneration reports whether the game code is [LegacyGameCode].
func (img *Image) IsLegacyGeneration() (bool, error) {
	code, err := img.GameCode()
	if err != nil {
		return false, fmt.Errorf("game code: %w", err)
	}

	return code == LegacyGameCode, nil
}

// Entry returns the raw slot list entry for index.
func (img *Image) Entry(index int) (uint32, error) {
	if index < 0 || index >= img.layout.Slots {
		return 0, fmt.Errorf("%w: slot %d of %d", ErrOutOfRange, index, img.layout.Slots)
	}

	return img.uint32At(img.layout.SlotListAddr + entrySize*uint64(index))
}

// Candidate returns the payload for slot index. Indices beyond the layout's
// slot count have no candidate.
func (img *Image) Candidate(index int) ([]byte, bool, error) {
	if index < 0 || index >= img.layout.Slots {
		return nil, false, nil
	}

	entry, err := img.Entry(index)
	if err != nil {
		return nil, false, fmt.Errorf("slot list entry %d: %w", index, err)
	}

	if entry == AbsentEntry {
		return nil, false, nil
	}

	addr := img.layout.PayloadAddr + img.layout.RecordSize*uint64(index)
	payload := make([]byte, img.layout.RecordSize)

	err = img.readAt(payload, addr)
	if err != nil {
		return nil, false, fmt.Errorf("payload %d: %w", index, err)
	}

	return payload, true, nil
}

func (img *Image) uint32At(addr uint64) (uint32, error) {
	var buf [entrySize]byte

	err := img.readAt(buf[:], addr)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (img *Image) readAt(p []byte, addr uint64) error {
	if addr < img.base || addr-img.base > uint64(maxInt64) {
		return fmt.Errorf("%w: %#x (base %#x)", ErrOutOfRange, addr, img.base)
	}

	off := int64(addr - img.base) //nolint:gosec // bounded above

	n, err := img.mem.ReadAt(p, off)
	if n == len(p) {
		return nil
	}

	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %#x+%d past end of image", ErrOutOfRange, addr, len(p))
	}

	return fmt.Errorf("read %#x: %w", addr, err)
}

const maxInt64 = int64(^uint64(0) >> 1)

var _ bank.CandidateSource = (*Image)(nil)
