package storage

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Faults configures failures injected by [Memory] for one location.
//
// A nil field never fails. ReadAt and WriteAt hooks see every call; a
// WriteAt hook returning an error may still return n > 0 to simulate a torn
// write, in which case the first n bytes are applied.
type Faults struct {
	Open    error
	Size    error
	Close   error
	ReadAt  func(off int64, p []byte) error
	WriteAt func(off int64, p []byte) (int, error)
}

// Op records a single read or write made through a [Memory] handle.
type Op struct {
	Write  bool
	Offset int64
	Len    int
}

// Memory is an in-memory [Opener]. Files exist only after [Memory.Put].
//
// Memory is safe for concurrent use; handles it returns are not.
type Memory struct {
	mu     sync.Mutex
	files  map[Location][]byte
	faults map[Location]Faults
	ops    map[Location][]Op
	open   map[Location]bool
}

// NewMemory returns an empty [Memory].
func NewMemory() *Memory {
	return &Memory{
		files:  make(map[Location][]byte),
		faults: make(map[Location]Faults),
		ops:    make(map[Location][]Op),
		open:   make(map[Location]bool),
	}
}

// Put stores a copy of data at loc, replacing any existing content.
func (m *Memory) Put(loc Location, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[loc] = append([]byte(nil), data...)
}

// Bytes returns a copy of the content at loc, or nil if absent.
func (m *Memory) Bytes(loc Location) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[loc]
	if !ok {
		return nil
	}

	return append([]byte(nil), data...)
}

// SetFaults replaces the fault configuration for loc.
func (m *Memory) SetFaults(loc Location, f Faults) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.faults[loc] = f
}

// Ops returns the reads and writes made against loc, in call order.
func (m *Memory) Ops(loc Location) []Op {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Op(nil), m.ops[loc]...)
}

// Writes returns only the write operations made against loc.
func (m *Memory) Writes(loc Location) []Op {
	var writes []Op

	for _, op := range m.Ops(loc) {
		if op.Write {
			writes = append(writes, op)
		}
	}

	return writes
}

// Open implements [Opener].
func (m *Memory) Open(loc Location) (Handle, error) {
	err := loc.validate()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if f := m.faults[loc]; f.Open != nil {
		return nil, fmt.Errorf("open %s: %w", loc, f.Open)
	}

	if _, ok := m.files[loc]; !ok {
		return nil, fmt.Errorf("open %s: %w", loc, os.ErrNotExist)
	}

	if m.open[loc] {
		return nil, fmt.Errorf("%w: %s", ErrBusy, loc)
	}

	m.open[loc] = true

	return &memHandle{mem: m, loc: loc}, nil
}

type memHandle struct {
	mem    *Memory
	loc    Location
	closed bool
}

func (h *memHandle) ReadAt(p []byte, off int64) (int, error) {
	m := h.mem

	m.mu.Lock()
	defer m.mu.Unlock()

	if h.closed {
		return 0, ErrClosed
	}

	m.ops[h.loc] = append(m.ops[h.loc], Op{Offset: off, Len: len(p)})

	if hook := m.faults[h.loc].ReadAt; hook != nil {
		if err := hook(off, p); err != nil {
			return 0, fmt.Errorf("read %s@%d: %w", h.loc, off, err)
		}
	}

	if off < 0 {
		return 0, fmt.Errorf("read %s: negative offset %d", h.loc, off)
	}

	data := m.files[h.loc]
	if off >= int64(len(data)) {
		return 0, io.EOF
	}

	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

func (h *memHandle) WriteAt(p []byte, off int64) (int, error) {
	m := h.mem

	m.mu.Lock()
	defer m.mu.Unlock()

	if h.closed {
		return 0, ErrClosed
	}

	m.ops[h.loc] = append(m.ops[h.loc], Op{Write: true, Offset: off, Len: len(p)})

	if off < 0 {
		return 0, fmt.Errorf("write %s: negative offset %d", h.loc, off)
	}

	toApply := p

	var hookErr error

	if hook := m.faults[h.loc].WriteAt; hook != nil {
		n, err := hook(off, p)
		if err != nil {
			hookErr = fmt.Errorf("write %s@%d: %w", h.loc, off, err)
			toApply = p[:min(max(n, 0), len(p))]
		}
	}

	data := m.files[h.loc]
	if end := off + int64(len(toApply)); end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}

	copy(data[off:], toApply)
	m.files[h.loc] = data

	if hookErr != nil {
		return len(toApply), hookErr
	}

	return len(p), nil
}

func (h *memHandle) Size() (uint64, error) {
	m := h.mem

	m.mu.Lock()
	defer m.mu.Unlock()

	if h.closed {
		return 0, ErrClosed
	}

	if err := m.faults[h.loc].Size; err != nil {
		return 0, fmt.Errorf("size %s: %w", h.loc, err)
	}

	return uint64(len(m.files[h.loc])), nil
}

func (h *memHandle) Close() error {
	m := h.mem

	m.mu.Lock()
	defer m.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	h.closed = true
	delete(m.open, h.loc)

	if err := m.faults[h.loc].Close; err != nil {
		return fmt.Errorf("close %s: %w", h.loc, err)
	}

	return nil
}

// Compile-time interface checks.
var (
	_ Opener = (*Memory)(nil)
	_ Handle = (*memHandle)(nil)
)
