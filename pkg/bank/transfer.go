package bank

import (
	"errors"
	"fmt"
)

// CandidateSource supplies the records a transfer pass moves into the bank.
//
// It is read-only from the bank's point of view and must not change during
// a single [Bank.TransferBox] call.
type CandidateSource interface {
	// IsLegacyGeneration reports whether the records were produced under the
	// older source format. Read once per transfer pass.
	IsLegacyGeneration() (bool, error)

	// Candidate returns the payload for box slot index, or ok=false if the
	// slot has no transfer candidate.
	Candidate(index int) (payload []byte, ok bool, err error)
}

// TransferReport describes what one transfer pass did.
type TransferReport struct {
	// Legacy is the generation flag the pass was tagged with.
	Legacy bool

	// Tag is the tag written to every slot in Written.
	Tag [TagSize]byte

	// Written lists slots that received tag and payload, in index order.
	Written []int

	// Absent lists slots with no candidate. They were not touched.
	Absent []int

	// Failed lists slots whose candidate could not be read or written.
	Failed []int
}

// TransferBox copies every present candidate of the box into the slot with
// the same index, writing the generation tag first and the payload after it.
//
// Slots are visited in increasing index order. Slots without a candidate are
// left byte-for-byte unchanged. Running the pass again over an unchanged
// source rewrites the same bytes.
//
// On a failed slot, [BestEffort] continues with the next slot and returns all
// failures joined under [ErrTransferIncomplete] after the last slot;
// [FailFast] returns the first failure immediately. Either way the report
// covers every slot visited.
//
// A slot whose tag write fails is not given a payload, so its previous
// content stays intact apart from any torn tag bytes.
//
// Possible errors:
//   - [ErrNotOpen], [ErrClosed]: nothing was written
//   - an error from IsLegacyGeneration: nothing was written
//   - [ErrTransferIncomplete]: one or more slots failed
func (b *Bank) TransferBox(src CandidateSource) (TransferReport, error) {
	err := b.usable()
	if err != nil {
		return TransferReport{}, err
	}

	legacy, err := src.IsLegacyGeneration()
	if err != nil {
		return TransferReport{}, fmt.Errorf("read generation flag: %w", err)
	}

	report := TransferReport{Legacy: legacy, Tag: TagFor(legacy)}

	var slotErrs []error

	for index := range b.format.SlotsPerBox {
		payload, ok, candErr := src.Candidate(index)

		var slotErr error

		switch {
		case candErr != nil:
			slotErr = fmt.Errorf("slot %d: read candidate: %w", index, candErr)
		case !ok:
			report.Absent = append(report.Absent, index)

			continue
		default:
			slotErr = b.writeSlot(index, report.Tag, payload)
		}

		if slotErr == nil {
			report.Written = append(report.Written, index)

			continue
		}

		report.Failed = append(report.Failed, index)

		if b.policy == FailFast {
			return report, fmt.Errorf("%w: %w", ErrTransferIncomplete, slotErr)
		}

		slotErrs = append(slotErrs, slotErr)
	}

	if len(slotErrs) > 0 {
		return report, fmt.Errorf("%w: %w", ErrTransferIncomplete, errors.Join(slotErrs...))
	}

	return report, nil
}

func (b *Bank) writeSlot(index int, tag [TagSize]byte, payload []byte) error {
	if uint64(len(payload)) != b.format.PayloadSize() {
		return fmt.Errorf("slot %d: payload is %d bytes, want %d: %w", index, len(payload), b.format.PayloadSize(), ErrInvalidInput)
	}

	offset := b.format.OffsetOf(index)

	err := b.writeAt(tag[:], offset)
	if err != nil {
		return fmt.Errorf("slot %d: tag: %w", index, err)
	}

	err = b.writeAt(payload, offset+TagSize)
	if err != nil {
		return fmt.Errorf("slot %d: payload: %w", index, err)
	}

	return nil
}
