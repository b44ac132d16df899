package bank

import "errors"

// Sentinel errors returned by bank operations.
//
// Callers should use [errors.Is] to check error types.
var (
	// ErrNotOpen indicates the underlying storage could not be opened.
	//
	// The open failure itself is available from [Bank.Err].
	ErrNotOpen = errors.New("bank: not open")

	// ErrClosed indicates the [Bank] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("bank: closed")

	// ErrInvalidInput indicates invalid arguments were provided.
	//
	// Common causes: a [Format] with an impossible layout, a slot index
	// outside the box, a payload of the wrong length.
	ErrInvalidInput = errors.New("bank: invalid input")

	// ErrTransferIncomplete indicates at least one slot of a transfer pass
	// could not be written. The joined per-slot causes follow it in the chain.
	ErrTransferIncomplete = errors.New("bank: transfer incomplete")

	// ErrExists indicates [Create] found a file already at the target path.
	ErrExists = errors.New("bank: already exists")
)
