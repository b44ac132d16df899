package bank

import (
	"bytes"
	"fmt"
)

// Bank file format constants. These track the external PKSM bank format;
// a PKSM bank revision will most likely change them.
const (
	// HeaderSize is the byte offset of slot 0. Magic and version occupy the
	// first 12 bytes; the rest is reserved.
	HeaderSize = 0x10

	// SlotSize is the size of one slot record.
	SlotSize = 0x150

	// TagSize is the size of the generation tag at the start of each slot.
	TagSize = 4

	// PayloadSize is the opaque payload capacity of one slot.
	PayloadSize = SlotSize - TagSize

	// SlotsPerBox is the number of slots written by one transfer pass.
	SlotsPerBox = 30

	// HeaderCheckLen is the number of leading bytes [Bank.Validate] reads:
	// the magic and the first two version bytes.
	HeaderCheckLen = 10

	// EmptyProbeLen is the number of leading slot bytes inspected to decide
	// emptiness: the tag plus the payload's encryption constant and checksum.
	EmptyProbeLen = 10

	// headerFieldsLen covers magic and the full version.
	headerFieldsLen = 12

	// EmptySentinel fills every byte of an empty slot.
	EmptySentinel byte = 0xFF

	// MinimumFileSize is the smallest file that can hold a full box.
	MinimumFileSize = HeaderSize + SlotSize*SlotsPerBox
)

var (
	// Magic identifies a bank file.
	Magic = [8]byte{0x50, 0x4B, 0x53, 0x4D, 0x42, 0x41, 0x4E, 0x4B}

	// SupportedVersion is the only bank version accepted.
	SupportedVersion = [4]byte{3, 0, 0, 0}

	// LegacyTag marks a payload produced under the older source format.
	LegacyTag = [TagSize]byte{2, 0, 0, 0}

	// CurrentTag marks a payload produced under the current source format.
	CurrentTag = [TagSize]byte{3, 0, 0, 0}
)

// Generation is the decoded meaning of a slot's tag.
type Generation int

const (
	GenerationUnknown Generation = iota
	GenerationLegacy
	GenerationCurrent
)

func (g Generation) String() string {
	switch g {
	case GenerationLegacy:
		return "legacy"
	case GenerationCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// TagFor returns the tag written for a payload of the given generation.
func TagFor(legacy bool) [TagSize]byte {
	if legacy {
		return LegacyTag
	}

	return CurrentTag
}

// GenerationOf decodes a tag. Anything other than the two known tags,
// including an empty slot's 0xFF bytes, is [GenerationUnknown].
func GenerationOf(tag []byte) Generation {
	switch {
	case bytes.Equal(tag, LegacyTag[:]):
		return GenerationLegacy
	case bytes.Equal(tag, CurrentTag[:]):
		return GenerationCurrent
	default:
		return GenerationUnknown
	}
}

// Format describes a bank layout. [DefaultFormat] returns the layout of the
// supported PKSM version; other values exist for tests and tooling.
type Format struct {
	Magic       [8]byte
	Version     [4]byte
	HeaderSize  uint64
	SlotSize    uint64
	SlotsPerBox int

	// EmptyProbeLen is how many leading slot bytes must be 0xFF for the
	// slot to count as empty.
	EmptyProbeLen int
}

// DefaultFormat returns the supported bank layout.
func DefaultFormat() Format {
	return Format{
		Magic:         Magic,
		Version:       SupportedVersion,
		HeaderSize:    HeaderSize,
		SlotSize:      SlotSize,
		SlotsPerBox:   SlotsPerBox,
		EmptyProbeLen: EmptyProbeLen,
	}
}

// Validate rejects layouts no bank can have.
func (f Format) Validate() error {
	if f.HeaderSize < headerFieldsLen {
		return fmt.Errorf("header_size %d is less than %d: %w", f.HeaderSize, headerFieldsLen, ErrInvalidInput)
	}

	if f.SlotSize <= TagSize {
		return fmt.Errorf("slot_size %d must exceed tag size %d: %w", f.SlotSize, TagSize, ErrInvalidInput)
	}

	if f.SlotsPerBox < 0 {
		return fmt.Errorf("slots_per_box must be >= 0, got %d: %w", f.SlotsPerBox, ErrInvalidInput)
	}

	if f.EmptyProbeLen < 1 || uint64(f.EmptyProbeLen) > f.SlotSize {
		return fmt.Errorf("empty_probe_len %d must be in [1, %d]: %w", f.EmptyProbeLen, f.SlotSize, ErrInvalidInput)
	}

	// The whole layout must be addressable with int64 file offsets.
	const maxSlotArray = uint64(maxInt64)
	if f.SlotsPerBox > 0 && f.SlotSize > (maxSlotArray-f.HeaderSize)/uint64(f.SlotsPerBox) {
		return fmt.Errorf("layout of %d slots of %d bytes overflows: %w", f.SlotsPerBox, f.SlotSize, ErrInvalidInput)
	}

	return nil
}

// PayloadSize returns the payload capacity of one slot.
func (f Format) PayloadSize() uint64 {
	return f.SlotSize - TagSize
}

// MinimumFileSize returns HeaderSize + SlotSize*SlotsPerBox.
func (f Format) MinimumFileSize() uint64 {
	return f.HeaderSize + f.SlotSize*uint64(f.SlotsPerBox) //nolint:gosec // validated non-negative
}

// OffsetOf returns the byte offset of slot index.
//
// It never fails and never bounds-checks; callers iterate
// 0 <= index < SlotsPerBox.
func (f Format) OffsetOf(index int) uint64 {
	return f.HeaderSize + uint64(index)*f.SlotSize //nolint:gosec // callers pass non-negative indices
}

// ValidateHeader reports whether a file of size bytes whose first bytes are
// header is a usable bank: size >= f.MinimumFileSize(), header[0:8] is the
// magic and header[8:10] matches the first two version bytes.
func ValidateHeader(header []byte, size uint64, f Format) bool {
	if size < f.MinimumFileSize() || len(header) < HeaderCheckLen {
		return false
	}

	return bytes.Equal(header[0:8], f.Magic[:]) &&
		bytes.Equal(header[8:HeaderCheckLen], f.Version[:HeaderCheckLen-8])
}

// isEmptyProbe reports whether every probed byte is the empty sentinel.
func isEmptyProbe(probe []byte) bool {
	for _, b := range probe {
		if b != EmptySentinel {
			return false
		}
	}

	return true
}

// NewImage returns a freshly initialized bank of exactly f.MinimumFileSize()
// bytes: header with magic and version, zeroed reserved bytes, every slot
// filled with the empty sentinel.
func NewImage(f Format) []byte {
	buf := make([]byte, f.MinimumFileSize())

	copy(buf[0:8], f.Magic[:])
	copy(buf[8:headerFieldsLen], f.Version[:])

	for i := f.HeaderSize; i < uint64(len(buf)); i++ {
		buf[i] = EmptySentinel
	}

	return buf
}

const maxInt64 = int64(^uint64(0) >> 1)

// uint64ToInt64Checked converts a file offset to the int64 io.ReaderAt
// expects. Returns ErrInvalidInput if the value exceeds maxInt64.
func uint64ToInt64Checked(v uint64) (int64, error) {
	if v > uint64(maxInt64) {
		return 0, fmt.Errorf("uint64 %d exceeds int64 max: %w", v, ErrInvalidInput)
	}

	return int64(v), nil
}
