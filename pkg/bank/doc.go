// Package bank reads and writes PKSM bank files: a 16-byte header followed by
// fixed-size slots, each holding a 4-byte generation tag and an opaque
// payload.
//
// # Basic Usage
//
//	b := bank.Open(opener, storage.Location{
//	    Namespace: storage.NamespaceExtData,
//	    Path:      "/banks/transport.bnk",
//	}, bank.Options{})
//	defer b.Close()
//
//	if !b.Validate() {
//	    // wrong magic, wrong version, too small, or the open failed
//	}
//
//	if b.IsFirstBoxEmpty() {
//	    report, err := b.TransferBox(source)
//	}
//
// # Layout
//
//	offset 0      8 bytes  magic   "PKSMBANK"
//	offset 8      4 bytes  version {3,0,0,0}
//	offset 12     4 bytes  reserved
//	offset 16     slot[0]
//	slot[i]       HeaderSize + i*SlotSize
//	each slot     4-byte generation tag, then PayloadSize payload bytes
//
// A slot is empty when its first [EmptyProbeLen] bytes are all 0xFF.
//
// # Error Handling
//
// Predicates ([Bank.Validate], [Bank.IsSlotEmpty], [Bank.IsFirstBoxEmpty])
// fail closed: a bank that failed to open, was closed, or returned a storage
// error reads as invalid or occupied. [Bank.TransferBox] reports storage
// failures according to [Options.WritePolicy].
//
// # Concurrency
//
// A [Bank] has a single owner. It is not safe for concurrent use and two
// Banks must never be open over the same file.
package bank
