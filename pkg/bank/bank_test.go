package bank_test

import (
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/banktransfer/pkg/bank"
	"github.com/calvinalkan/banktransfer/pkg/storage"
)

func Test_Validate_Returns_True_And_Box_Is_Empty_When_Bank_Is_Fresh(t *testing.T) {
	t.Parallel()

	b, _ := newMemBank(t, bank.NewImage(bank.DefaultFormat()), bank.Options{})

	assert.True(t, b.Validate())
	assert.True(t, b.IsFirstBoxEmpty())

	for i := range bank.SlotsPerBox {
		assert.True(t, b.IsSlotEmpty(i), "slot %d", i)
	}
}

func Test_Validate_Returns_False_When_Magic_Is_Wrong(t *testing.T) {
	t.Parallel()

	image := bank.NewImage(bank.DefaultFormat())
	copy(image, "XXXXXXXX")

	b, _ := newMemBank(t, image, bank.Options{})

	assert.False(t, b.Validate())
}

func Test_Validate_Returns_False_Without_Reading_When_File_Is_One_Byte_Short(t *testing.T) {
	t.Parallel()

	image := bank.NewImage(bank.DefaultFormat())
	b, mem := newMemBank(t, image[:len(image)-1], bank.Options{})

	assert.False(t, b.Validate())
	assert.Empty(t, mem.Ops(testLoc), "size check must come before any read")
}

func Test_Validate_Reads_Only_Header_Check_Bytes_When_Size_Is_Sufficient(t *testing.T) {
	t.Parallel()

	b, mem := newMemBank(t, bank.NewImage(bank.DefaultFormat()), bank.Options{})

	require.True(t, b.Validate())

	want := []storage.Op{{Offset: 0, Len: bank.HeaderCheckLen}}
	if diff := cmp.Diff(want, mem.Ops(testLoc)); diff != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", diff)
	}
}

func Test_Validate_Returns_False_When_Storage_Fails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		faults storage.Faults
	}{
		{name: "Size", faults: storage.Faults{Size: syscall.EIO}},
		{name: "Read", faults: storage.Faults{ReadAt: func(int64, []byte) error { return syscall.EIO }}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, mem := newMemBank(t, bank.NewImage(bank.DefaultFormat()), bank.Options{})
			mem.SetFaults(testLoc, tt.faults)

			assert.False(t, b.Validate())
		})
	}
}

func Test_Open_Reports_Not_Open_And_Predicates_Fail_Closed_When_File_Is_Missing(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	b := bank.Open(mem, testLoc, bank.Options{})

	require.NotNil(t, b)
	assert.False(t, b.IsOpen())
	require.ErrorIs(t, b.Err(), os.ErrNotExist)

	assert.False(t, b.Validate())
	assert.False(t, b.IsSlotEmpty(0))
	assert.False(t, b.IsFirstBoxEmpty())

	_, err := b.Slot(0)
	require.ErrorIs(t, err, bank.ErrNotOpen)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, b.Close())
}

func Test_Open_Records_Error_When_Options_Are_Invalid(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	mem.Put(testLoc, bank.NewImage(bank.DefaultFormat()))

	b := bank.Open(mem, testLoc, bank.Options{WritePolicy: bank.WritePolicy(42)})
	require.ErrorIs(t, b.Err(), bank.ErrInvalidInput)
	assert.False(t, b.IsOpen())

	f := bank.DefaultFormat()
	f.EmptyProbeLen = 0

	b = bank.Open(mem, testLoc, bank.Options{Format: f})
	require.ErrorIs(t, b.Err(), bank.ErrInvalidInput)
	assert.False(t, b.IsOpen())
}

func Test_Open_Returns_Busy_Bank_When_Location_Is_Already_Open(t *testing.T) {
	t.Parallel()

	first, mem := newMemBank(t, bank.NewImage(bank.DefaultFormat()), bank.Options{})
	require.True(t, first.IsOpen())

	second := bank.Open(mem, testLoc, bank.Options{})
	require.ErrorIs(t, second.Err(), storage.ErrBusy)
	require.NoError(t, second.Close())
}

func Test_Close_Returns_ErrClosed_And_Predicates_Fail_When_Called_Twice(t *testing.T) {
	t.Parallel()

	b, _ := newMemBank(t, bank.NewImage(bank.DefaultFormat()), bank.Options{})

	require.NoError(t, b.Close())
	require.ErrorIs(t, b.Close(), bank.ErrClosed)

	assert.False(t, b.IsOpen())
	assert.False(t, b.Validate())
	assert.False(t, b.IsSlotEmpty(0))

	_, err := b.TransferBox(&fakeSource{})
	require.ErrorIs(t, err, bank.ErrClosed)
}

func Test_IsSlotEmpty_Returns_False_When_Any_Probe_Byte_Differs(t *testing.T) {
	t.Parallel()

	for pos := range bank.EmptyProbeLen {
		image := bank.NewImage(bank.DefaultFormat())
		slotBytes(image, 3)[pos] = 0xFE

		b, _ := newMemBank(t, image, bank.Options{})

		if b.IsSlotEmpty(3) {
			t.Fatalf("slot with byte %d changed reported empty", pos)
		}

		if !b.IsSlotEmpty(2) || !b.IsSlotEmpty(4) {
			t.Fatalf("neighbours of slot 3 must stay empty (byte %d)", pos)
		}
	}
}

func Test_IsSlotEmpty_Ignores_Bytes_Past_Probe_When_Probe_Is_All_Sentinel(t *testing.T) {
	t.Parallel()

	image := bank.NewImage(bank.DefaultFormat())
	s := slotBytes(image, 7)

	for i := bank.EmptyProbeLen; i < len(s); i++ {
		s[i] = 0x00
	}

	b, _ := newMemBank(t, image, bank.Options{})

	assert.True(t, b.IsSlotEmpty(7))
}

func Test_IsSlotEmpty_Returns_False_When_Read_Fails_Or_Slot_Is_Past_End(t *testing.T) {
	t.Parallel()

	b, mem := newMemBank(t, bank.NewImage(bank.DefaultFormat()), bank.Options{})

	assert.False(t, b.IsSlotEmpty(bank.SlotsPerBox+5), "slot beyond file")

	mem.SetFaults(testLoc, storage.Faults{ReadAt: func(int64, []byte) error { return syscall.EIO }})
	assert.False(t, b.IsSlotEmpty(0))
}

func Test_IsFirstBoxEmpty_Returns_False_When_Any_Single_Slot_Is_Occupied(t *testing.T) {
	t.Parallel()

	for index := range bank.SlotsPerBox {
		image := bank.NewImage(bank.DefaultFormat())
		occupy(image, index)

		b, _ := newMemBank(t, image, bank.Options{})

		if b.IsFirstBoxEmpty() {
			t.Fatalf("box with slot %d occupied reported empty", index)
		}
	}
}

func Test_IsFirstBoxEmpty_Stops_At_First_Occupied_Slot_When_Scanning(t *testing.T) {
	t.Parallel()

	image := bank.NewImage(bank.DefaultFormat())
	occupy(image, 4)
	occupy(image, 20)

	b, mem := newMemBank(t, image, bank.Options{})

	require.False(t, b.IsFirstBoxEmpty())

	ops := mem.Ops(testLoc)
	require.Len(t, ops, 5)

	f := bank.DefaultFormat()
	for i, op := range ops {
		assert.Equal(t, int64(f.OffsetOf(i)), op.Offset) //nolint:gosec // small offsets
	}
}

func Test_IsFirstBoxEmpty_Returns_True_When_Box_Has_Zero_Slots(t *testing.T) {
	t.Parallel()

	f := bank.DefaultFormat()
	f.SlotsPerBox = 0

	mem := storage.NewMemory()
	mem.Put(testLoc, bank.NewImage(f))

	b := bank.Open(mem, testLoc, bank.Options{Format: f})
	t.Cleanup(func() { _ = b.Close() })

	assert.True(t, b.Validate())
	assert.True(t, b.IsFirstBoxEmpty())
	assert.Empty(t, mem.Ops(testLoc)[1:], "no slot reads after header check")
}

func Test_Slot_Decodes_Tag_And_Payload_When_Slot_Is_Occupied(t *testing.T) {
	t.Parallel()

	image := bank.NewImage(bank.DefaultFormat())
	s := slotBytes(image, 2)
	copy(s, bank.LegacyTag[:])
	copy(s[bank.TagSize:], payloadFor(9))

	b, _ := newMemBank(t, image, bank.Options{})

	info, err := b.Slot(2)
	require.NoError(t, err)

	assert.Equal(t, 2, info.Index)
	assert.Equal(t, bank.DefaultFormat().OffsetOf(2), info.Offset)
	assert.Equal(t, bank.LegacyTag, info.Tag)
	assert.Equal(t, bank.GenerationLegacy, info.Generation)
	assert.False(t, info.Empty)

	if diff := cmp.Diff(payloadFor(9), info.Payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}

	empty, err := b.Slot(3)
	require.NoError(t, err)
	assert.True(t, empty.Empty)
	assert.Equal(t, bank.GenerationUnknown, empty.Generation)
}

func Test_Slot_Returns_ErrInvalidInput_When_Index_Is_Out_Of_Range(t *testing.T) {
	t.Parallel()

	b, _ := newMemBank(t, bank.NewImage(bank.DefaultFormat()), bank.Options{})

	for _, index := range []int{-1, bank.SlotsPerBox, 1000} {
		_, err := b.Slot(index)
		require.ErrorIs(t, err, bank.ErrInvalidInput, "index %d", index)
	}
}

func Test_Slot_Returns_EOF_Error_When_File_Ends_Inside_Slot(t *testing.T) {
	t.Parallel()

	image := bank.NewImage(bank.DefaultFormat())
	b, _ := newMemBank(t, image[:len(image)-100], bank.Options{})

	_, err := b.Slot(bank.SlotsPerBox - 1)
	require.ErrorIs(t, err, io.EOF)
}

func Test_ParseWritePolicy_Maps_Names_When_Given_Known_Values(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    bank.WritePolicy
		wantErr bool
	}{
		{in: "", want: bank.BestEffort},
		{in: "best-effort", want: bank.BestEffort},
		{in: "fail-fast", want: bank.FailFast},
		{in: "yolo", wantErr: true},
	}

	for _, tt := range tests {
		got, err := bank.ParseWritePolicy(tt.in)
		if tt.wantErr {
			require.ErrorIs(t, err, bank.ErrInvalidInput)

			continue
		}

		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.want, mustParse(t, got.String()))
	}
}

func mustParse(t *testing.T, s string) bank.WritePolicy {
	t.Helper()

	p, err := bank.ParseWritePolicy(s)
	require.NoError(t, err)

	return p
}
