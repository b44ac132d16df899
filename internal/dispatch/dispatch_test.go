package dispatch_test

import (
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/banktransfer/internal/dispatch"
	"github.com/calvinalkan/banktransfer/pkg/bank"
	"github.com/calvinalkan/banktransfer/pkg/hostmem"
	"github.com/calvinalkan/banktransfer/pkg/storage"
)

var (
	extLoc  = dispatch.Candidates()[0]
	sdmcLoc = dispatch.Candidates()[1]
)

func newDispatcher(t *testing.T, mem *storage.Memory, policy bank.WritePolicy) (*dispatch.Dispatcher, *logtest.Hook) {
	t.Helper()

	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	d := dispatch.New(mem, dispatch.Config{Bank: bank.Options{WritePolicy: policy}, Log: log})

	return d, hook
}

func source(t *testing.T, legacy bool, slots ...int) *hostmem.Image {
	t.Helper()

	b, err := hostmem.NewBuilder(hostmem.DefaultLayout())
	require.NoError(t, err)

	if legacy {
		b.SetGameCode(hostmem.LegacyGameCode)
	} else {
		b.SetGameCode(3)
	}

	for _, i := range slots {
		payload := make([]byte, bank.PayloadSize)
		payload[0] = byte(i)
		require.NoError(t, b.SetCandidate(i, payload))
	}

	return b.Image()
}

func tagOf(data []byte, index int) []byte {
	off := bank.DefaultFormat().OffsetOf(index)

	return data[off : off+bank.TagSize]
}

func Test_Candidates_Lists_ExtData_Before_SDMC_When_Called(t *testing.T) {
	t.Parallel()

	want := []storage.Location{
		{Namespace: storage.NamespaceExtData, Path: "/banks/transport.bnk"},
		{Namespace: storage.NamespaceSDMC, Path: "/3ds/PKSM/banks/transport.bnk"},
	}

	assert.Equal(t, want, dispatch.Candidates())
}

func Test_Lookup_Selects_ExtData_When_Both_Banks_Are_Valid(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	mem.Put(extLoc, bank.NewImage(bank.DefaultFormat()))
	mem.Put(sdmcLoc, bank.NewImage(bank.DefaultFormat()))

	log, _ := logtest.NewNullLogger()

	b, err := dispatch.Lookup(mem, dispatch.Candidates(), bank.Options{}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	assert.Equal(t, extLoc, b.Location())
	assert.Empty(t, mem.Ops(sdmcLoc))
}

func Test_Lookup_Falls_Back_To_SDMC_When_ExtData_Is_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(*storage.Memory)
	}{
		{name: "Missing", setup: func(*storage.Memory) {}},
		{name: "WrongMagic", setup: func(m *storage.Memory) {
			image := bank.NewImage(bank.DefaultFormat())
			copy(image, "NOTABANK")
			m.Put(extLoc, image)
		}},
		{name: "TooShort", setup: func(m *storage.Memory) {
			image := bank.NewImage(bank.DefaultFormat())
			m.Put(extLoc, image[:len(image)-1])
		}},
		{name: "OpenFails", setup: func(m *storage.Memory) {
			m.Put(extLoc, bank.NewImage(bank.DefaultFormat()))
			m.SetFaults(extLoc, storage.Faults{Open: syscall.EACCES})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mem := storage.NewMemory()
			tt.setup(mem)
			mem.Put(sdmcLoc, bank.NewImage(bank.DefaultFormat()))

			log, _ := logtest.NewNullLogger()

			b, err := dispatch.Lookup(mem, dispatch.Candidates(), bank.Options{}, log)
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })

			assert.Equal(t, sdmcLoc, b.Location())

			// The rejected extdata bank was closed, so it can be opened again.
			again := bank.Open(mem, extLoc, bank.Options{})
			assert.NotErrorIs(t, again.Err(), storage.ErrBusy)
			_ = again.Close()
		})
	}
}

func Test_Lookup_Returns_ErrNoUsableBank_When_No_Candidate_Validates(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	image := bank.NewImage(bank.DefaultFormat())
	mem.Put(sdmcLoc, image[:100])

	log, _ := logtest.NewNullLogger()

	_, err := dispatch.Lookup(mem, dispatch.Candidates(), bank.Options{}, log)
	require.ErrorIs(t, err, dispatch.ErrNoUsableBank)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.ErrorIs(t, err, dispatch.ErrInvalidBank)

	_, err = dispatch.Lookup(mem, nil, bank.Options{}, log)
	require.ErrorIs(t, err, dispatch.ErrNoUsableBank)
}

func Test_SendToBank_Writes_Current_Tag_And_Returns_Transferred_When_Bank_Is_Valid(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	mem.Put(extLoc, bank.NewImage(bank.DefaultFormat()))

	d, hook := newDispatcher(t, mem, bank.BestEffort)

	outcome, report, err := d.SendToBank(source(t, false, 5))
	require.NoError(t, err)

	assert.Equal(t, dispatch.OutcomeTransferred, outcome)
	assert.Equal(t, uint32(0x10), uint32(outcome))
	assert.Equal(t, []int{5}, report.Written)
	assert.Equal(t, []byte{3, 0, 0, 0}, tagOf(mem.Bytes(extLoc), 5))

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "box transferred", last.Message)
	assert.Equal(t, 1, last.Data["written"])
}

func Test_SendToBank_Writes_Legacy_Tag_To_SDMC_When_ExtData_Is_Missing(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	mem.Put(sdmcLoc, bank.NewImage(bank.DefaultFormat()))

	d, _ := newDispatcher(t, mem, bank.BestEffort)

	outcome, _, err := d.SendToBank(source(t, true, 0, 29))
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeTransferred, outcome)

	data := mem.Bytes(sdmcLoc)
	assert.Equal(t, []byte{2, 0, 0, 0}, tagOf(data, 0))
	assert.Equal(t, []byte{2, 0, 0, 0}, tagOf(data, 29))
}

func Test_SendToBank_Returns_None_And_Writes_Nothing_When_No_Bank_Is_Usable(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	image := bank.NewImage(bank.DefaultFormat())
	copy(image, "XXXXXXXX")
	mem.Put(extLoc, image)

	d, hook := newDispatcher(t, mem, bank.BestEffort)

	outcome, _, err := d.SendToBank(source(t, false, 1))
	require.ErrorIs(t, err, dispatch.ErrNoUsableBank)
	assert.Equal(t, dispatch.OutcomeNone, outcome)
	assert.Empty(t, mem.Writes(extLoc))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func Test_SendToBank_Reports_Transferred_With_Error_When_A_Slot_Fails(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	mem.Put(extLoc, bank.NewImage(bank.DefaultFormat()))

	failAt := int64(bank.DefaultFormat().OffsetOf(2)) //nolint:gosec // small offset
	mem.SetFaults(extLoc, storage.Faults{
		WriteAt: func(off int64, _ []byte) (int, error) {
			if off == failAt {
				return 0, syscall.EIO
			}

			return 0, nil
		},
	})

	d, _ := newDispatcher(t, mem, bank.BestEffort)

	outcome, report, err := d.SendToBank(source(t, false, 1, 2, 3))
	require.ErrorIs(t, err, bank.ErrTransferIncomplete)
	assert.Equal(t, dispatch.OutcomeTransferred, outcome)
	assert.Equal(t, []int{1, 3}, report.Written)
	assert.Equal(t, []int{2}, report.Failed)
}

func Test_SendToBank_Returns_None_When_Generation_Flag_Is_Unreadable(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	mem.Put(extLoc, bank.NewImage(bank.DefaultFormat()))

	d, _ := newDispatcher(t, mem, bank.BestEffort)

	l := hostmem.DefaultLayout()
	img, err := hostmem.NewImage(emptyReader{}, l.LowestAddr(), l)
	require.NoError(t, err)

	outcome, _, err := d.SendToBank(img)
	require.ErrorIs(t, err, hostmem.ErrOutOfRange)
	assert.Equal(t, dispatch.OutcomeNone, outcome)
	assert.Empty(t, mem.Writes(extLoc))
}

type emptyReader struct{}

func (emptyReader) ReadAt([]byte, int64) (int, error) { return 0, io.EOF }

func Test_VerifySafeTransfer_Returns_Safe_When_Bank_Is_Valid_And_Box_Empty(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	mem.Put(extLoc, bank.NewImage(bank.DefaultFormat()))

	d, hook := newDispatcher(t, mem, bank.BestEffort)

	outcome := d.VerifySafeTransfer()
	assert.Equal(t, dispatch.OutcomeSafe, outcome)
	assert.Equal(t, uint32(3), uint32(outcome))
	assert.Equal(t, "safe", hook.LastEntry().Data["outcome"])
	assert.Empty(t, mem.Writes(extLoc))
}

func Test_VerifySafeTransfer_Returns_Unsafe_When_Box_Has_Occupied_Slot(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	mem.Put(extLoc, bank.NewImage(bank.DefaultFormat()))

	d, _ := newDispatcher(t, mem, bank.BestEffort)

	_, _, err := d.SendToBank(source(t, false, 17))
	require.NoError(t, err)

	outcome := d.VerifySafeTransfer()
	assert.Equal(t, dispatch.OutcomeUnsafe, outcome)
	assert.Equal(t, uint32(7), uint32(outcome))
}

func Test_VerifySafeTransfer_Returns_Unsafe_When_No_Bank_Is_Usable(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, storage.NewMemory(), bank.BestEffort)

	assert.Equal(t, dispatch.OutcomeUnsafe, d.VerifySafeTransfer())
}

func Test_VerifySafeTransfer_Uses_SDMC_Bank_When_ExtData_Is_Invalid(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()

	image := bank.NewImage(bank.DefaultFormat())
	image[8] = 2
	mem.Put(extLoc, image)

	occupied := bank.NewImage(bank.DefaultFormat())
	occupied[bank.HeaderSize] = 0x03
	mem.Put(sdmcLoc, occupied)

	d, _ := newDispatcher(t, mem, bank.BestEffort)

	assert.Equal(t, dispatch.OutcomeUnsafe, d.VerifySafeTransfer())

	mem.Put(sdmcLoc, bank.NewImage(bank.DefaultFormat()))
	assert.Equal(t, dispatch.OutcomeSafe, d.VerifySafeTransfer())
}

func Test_Run_Routes_By_Entry_When_Entry_Is_Known(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	mem.Put(extLoc, bank.NewImage(bank.DefaultFormat()))

	d, _ := newDispatcher(t, mem, bank.BestEffort)

	outcome, err := d.Run(dispatch.EntryVerifySafeTransfer, nil)
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeSafe, outcome)

	outcome, err = d.Run(dispatch.EntrySendToBank, source(t, false, 0))
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeTransferred, outcome)

	outcome, err = d.Run(dispatch.Entry(0x1234), source(t, false, 1))
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeNone, outcome)
	assert.Len(t, mem.Writes(extLoc), 2, "unknown entry must not write")
}

func Test_Outcome_String_Names_States_When_Known(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "transferred", dispatch.OutcomeTransferred.String())
	assert.Equal(t, "Outcome(0x42)", dispatch.Outcome(0x42).String())
}
