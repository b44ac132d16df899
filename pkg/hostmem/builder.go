package hostmem

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Builder assembles a synthetic memory image for a [Layout]. The image spans
// [Layout.LowestAddr] to [Layout.EndAddr]; every slot starts absent and the
// game code starts at zero.
type Builder struct {
	layout Layout
	base   uint64
	buf    []byte
}

// NewBuilder returns a Builder with every slot absent.
func NewBuilder(layout Layout) (*Builder, error) {
	err := layout.Validate()
	if err != nil {
		return nil, err
	}

	base := layout.LowestAddr()

	b := &Builder{
		layout: layout,
		base:   base,
		buf:    make([]byte, layout.EndAddr()-base),
	}

	for i := range layout.Slots {
		b.putUint32(layout.SlotListAddr+entrySize*uint64(i), AbsentEntry)
	}

	return b, nil
}

// Base returns the host address of the first image byte.
func (b *Builder) Base() uint64 {
	return b.base
}

// SetGameCode stores code at the game code address.
func (b *Builder) SetGameCode(code uint32) *Builder {
	b.putUint32(b.layout.GameCodeAddr, code)

	return b
}

// SetCandidate marks slot index present and stores payload as its record.
// payload must be exactly RecordSize bytes.
func (b *Builder) SetCandidate(index int, payload []byte) error {
	if index < 0 || index >= b.layout.Slots {
		return fmt.Errorf("%w: slot %d of %d", ErrOutOfRange, index, b.layout.Slots)
	}

	if uint64(len(payload)) != b.layout.RecordSize {
		return fmt.Errorf("%w: payload is %d bytes, record is %d", ErrInvalidLayout, len(payload), b.layout.RecordSize)
	}

	b.putUint32(b.layout.SlotListAddr+entrySize*uint64(index), uint32(index)) //nolint:gosec // index < Slots

	off := b.layout.PayloadAddr + b.layout.RecordSize*uint64(index) - b.base
	copy(b.buf[off:], payload)

	return nil
}

// ClearCandidate marks slot index absent. Its record bytes are left alone.
func (b *Builder) ClearCandidate(index int) {
	if index < 0 || index >= b.layout.Slots {
		return
	}

	b.putUint32(b.layout.SlotListAddr+entrySize*uint64(index), AbsentEntry)
}

// Bytes returns a copy of the image.
func (b *Builder) Bytes() []byte {
	return append([]byte(nil), b.buf...)
}

// Image returns an [Image] over a copy of the current contents.
func (b *Builder) Image() *Image {
	return &Image{mem: bytes.NewReader(b.Bytes()), base: b.base, layout: b.layout}
}

func (b *Builder) putUint32(addr uint64, v uint32) {
	binary.LittleEndian.PutUint32(b.buf[addr-b.base:], v)
}
