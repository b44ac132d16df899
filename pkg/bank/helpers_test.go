package bank_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/banktransfer/pkg/bank"
	"github.com/calvinalkan/banktransfer/pkg/storage"
)

var testLoc = storage.Location{Namespace: storage.NamespaceExtData, Path: "/banks/transport.bnk"}

// fakeSource is a static CandidateSource keyed by slot index.
type fakeSource struct {
	legacy      bool
	payloads    map[int][]byte
	legacyErr   error
	candErrs    map[int]error
	legacyCalls int
	candCalls   []int
}

func (s *fakeSource) IsLegacyGeneration() (bool, error) {
	s.legacyCalls++

	return s.legacy, s.legacyErr
}

func (s *fakeSource) Candidate(index int) ([]byte, bool, error) {
	s.candCalls = append(s.candCalls, index)

	if err := s.candErrs[index]; err != nil {
		return nil, false, err
	}

	p, ok := s.payloads[index]

	return p, ok, nil
}

// payloadFor returns a full-size payload whose bytes identify seed.
func payloadFor(seed byte) []byte {
	p := make([]byte, bank.PayloadSize)
	for i := range p {
		p[i] = seed + byte(i%7)
	}

	return p
}

// newMemBank stores image at testLoc and opens it.
func newMemBank(t *testing.T, image []byte, opts bank.Options) (*bank.Bank, *storage.Memory) {
	t.Helper()

	mem := storage.NewMemory()
	mem.Put(testLoc, image)

	b := bank.Open(mem, testLoc, opts)
	require.True(t, b.IsOpen(), "open: %v", b.Err())

	t.Cleanup(func() {
		err := b.Close()
		if err != nil && !errors.Is(err, bank.ErrClosed) {
			t.Errorf("close: %v", err)
		}
	})

	return b, mem
}

// slotBytes returns the bytes of slot index from a raw image.
func slotBytes(image []byte, index int) []byte {
	f := bank.DefaultFormat()
	off := f.OffsetOf(index)

	return image[off : off+f.SlotSize]
}

// occupy writes a current-generation record into slot index of image.
func occupy(image []byte, index int) {
	s := slotBytes(image, index)
	copy(s, bank.CurrentTag[:])
	copy(s[bank.TagSize:], bytes.Repeat([]byte{0x11}, bank.PayloadSize))
}
