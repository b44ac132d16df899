// Package dispatch runs the two transfer hooks against whichever bank file is
// usable: send the current box to the bank, or check that a transfer is safe.
//
// Each hook returns the next transfer state as an [Outcome].
package dispatch

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/banktransfer/pkg/bank"
	"github.com/calvinalkan/banktransfer/pkg/storage"
)

var (
	// ErrNoUsableBank is returned when no candidate location holds a valid bank.
	ErrNoUsableBank = errors.New("dispatch: no usable bank")

	// ErrInvalidBank marks a candidate that opened but failed validation.
	ErrInvalidBank = errors.New("dispatch: invalid bank header or size")
)

// Outcome is the next transfer state reported by a hook.
type Outcome uint32

const (
	// OutcomeNone is returned for an unknown entry point.
	OutcomeNone Outcome = 0

	// OutcomeSafe means the bank is valid and its first box is empty.
	OutcomeSafe Outcome = 3

	// OutcomeUnsafe means a transfer would be refused.
	OutcomeUnsafe Outcome = 7

	// OutcomeTransferred follows a completed send.
	OutcomeTransferred Outcome = 0x10
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeSafe:
		return "safe"
	case OutcomeUnsafe:
		return "unsafe"
	case OutcomeTransferred:
		return "transferred"
	default:
		return fmt.Sprintf("Outcome(%#x)", uint32(o))
	}
}

// Entry identifies which hook the host invoked, by its return address.
type Entry uint32

const (
	EntrySendToBank         Entry = 0x24A3DC
	EntryVerifySafeTransfer Entry = 0x248D40
)

// Candidate bank paths, most preferred first.
const (
	ExtDataBankPath = "/banks/transport.bnk"
	SDMCBankPath    = "/3ds/PKSM/banks/transport.bnk"
)

// Candidates returns the bank locations tried by [Lookup], in order.
func Candidates() []storage.Location {
	return []storage.Location{
		{Namespace: storage.NamespaceExtData, Path: ExtDataBankPath},
		{Namespace: storage.NamespaceSDMC, Path: SDMCBankPath},
	}
}

// Lookup opens each candidate in order and returns the first bank that
// validates. Banks that fail to open or validate are closed before moving
// on. The caller owns the returned bank.
func Lookup(opener storage.Opener, cands []storage.Location, opts bank.Options, log logrus.FieldLogger) (*bank.Bank, error) {
	var errs []error

	for _, loc := range cands {
		b := bank.Open(opener, loc, opts)

		if b.Validate() {
			log.WithField("bank", loc.String()).Debug("bank selected")

			return b, nil
		}

		reason := b.Err()
		if reason == nil {
			reason = ErrInvalidBank
		}

		log.WithField("bank", loc.String()).WithError(reason).Debug("bank not usable")

		errs = append(errs, fmt.Errorf("%s: %w", loc, reason))

		closeErr := b.Close()
		if closeErr != nil {
			errs = append(errs, closeErr)
		}
	}

	if len(errs) == 0 {
		return nil, ErrNoUsableBank
	}

	return nil, fmt.Errorf("%w: %w", ErrNoUsableBank, errors.Join(errs...))
}

// Dispatcher runs hooks against a fixed set of candidate locations.
type Dispatcher struct {
	opener storage.Opener
	cands  []storage.Location
	opts   bank.Options
	log    logrus.FieldLogger
}

// Config configures [New]. Zero fields take defaults.
type Config struct {
	// Candidates overrides [Candidates].
	Candidates []storage.Location

	// Bank is passed to [bank.Open].
	Bank bank.Options

	// Log receives state transitions. Default is the logrus standard logger.
	Log logrus.FieldLogger
}

// New returns a Dispatcher opening banks through opener.
func New(opener storage.Opener, cfg Config) *Dispatcher {
	d := &Dispatcher{opener: opener, cands: cfg.Candidates, opts: cfg.Bank, log: cfg.Log}

	if d.cands == nil {
		d.cands = Candidates()
	}

	if d.log == nil {
		d.log = logrus.StandardLogger()
	}

	return d
}

// SendToBank transfers the box from src into the first usable bank.
//
// The outcome is [OutcomeTransferred] once a bank was found and the pass
// ran, even if some slots failed; the error then wraps
// [bank.ErrTransferIncomplete]. Without a usable bank nothing is written and
// the outcome is [OutcomeNone].
func (d *Dispatcher) SendToBank(src bank.CandidateSource) (Outcome, bank.TransferReport, error) {
	b, err := Lookup(d.opener, d.cands, d.opts, d.log)
	if err != nil {
		d.log.WithError(err).Warn("send to bank: no usable bank")

		return OutcomeNone, bank.TransferReport{}, err
	}

	log := d.log.WithField("bank", b.Location().String())

	report, transferErr := b.TransferBox(src)

	err = transferErr

	closeErr := b.Close()
	if closeErr != nil {
		err = errors.Join(err, closeErr)
	}

	log = log.WithFields(logrus.Fields{
		"legacy":  report.Legacy,
		"written": len(report.Written),
		"absent":  len(report.Absent),
		"failed":  len(report.Failed),
	})

	if transferErr != nil && !errors.Is(transferErr, bank.ErrTransferIncomplete) {
		// The pass never started.
		log.WithError(err).Error("send to bank failed")

		return OutcomeNone, report, err
	}

	if err != nil {
		log.WithError(err).Warn("box transferred with errors")
	} else {
		log.Info("box transferred")
	}

	return OutcomeTransferred, report, err
}

// VerifySafeTransfer reports [OutcomeSafe] if the first usable bank is valid
// and its first box is empty, [OutcomeUnsafe] otherwise, including when no
// bank is usable.
func (d *Dispatcher) VerifySafeTransfer() Outcome {
	b, err := Lookup(d.opener, d.cands, d.opts, d.log)
	if err != nil {
		d.log.WithError(err).Warn("verify: no usable bank")

		return OutcomeUnsafe
	}

	safe := b.Validate() && b.IsFirstBoxEmpty()

	closeErr := b.Close()
	if closeErr != nil {
		d.log.WithError(closeErr).Warn("verify: close bank")
	}

	outcome := OutcomeUnsafe
	if safe {
		outcome = OutcomeSafe
	}

	d.log.WithFields(logrus.Fields{
		"bank":    b.Location().String(),
		"outcome": outcome.String(),
	}).Info("transfer verified")

	return outcome
}

// Run invokes the hook for entry. Unknown entries do nothing and report
// [OutcomeNone].
func (d *Dispatcher) Run(entry Entry, src bank.CandidateSource) (Outcome, error) {
	switch entry {
	case EntrySendToBank:
		outcome, _, err := d.SendToBank(src)

		return outcome, err
	case EntryVerifySafeTransfer:
		return d.VerifySafeTransfer(), nil
	default:
		d.log.WithField("entry", fmt.Sprintf("%#x", uint32(entry))).Warn("unknown entry point")

		return OutcomeNone, nil
	}
}
