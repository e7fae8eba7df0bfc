package osdp

import "errors"

// Package errors. Only terminal conditions are surfaced to the application;
// transport and frame level problems are absorbed by the retry machinery.
var (
	// ErrSetup is returned when a device context cannot be created from the
	// supplied PdInfo (bad address, bad baud rate, too many PDs, missing
	// channel).
	ErrSetup = errors.New("osdp: device setup failed")

	// ErrCommand is returned when a command cannot be accepted for delivery.
	ErrCommand = errors.New("osdp: invalid command")

	// ErrEvent is returned when an event cannot be queued.
	ErrEvent = errors.New("osdp: invalid event")

	// ErrQuery is returned when a status query is made for information the
	// device has not (yet) learned.
	ErrQuery = errors.New("osdp: query failed")

	// ErrFileTransfer is returned for file transfer sequencing failures and
	// by FileTransferStatus when no transfer is in progress.
	ErrFileTransfer = errors.New("osdp: file transfer failed")

	// ErrQueueFull is returned when the pending command queue of a PD
	// context cannot accept another entry.
	ErrQueueFull = errors.New("osdp: queue full")
)

// Frame level errors. These never escape the engine; the decoder reports
// them to the state machine which recovers by resynchronizing the stream.
var (
	// errFrameIncomplete means more bytes are needed before a frame can be
	// decoded. Not a failure.
	errFrameIncomplete = errors.New("osdp: incomplete frame")

	// errFrameMalformed is used for frames that cannot be parsed; the stream
	// resynchronizes on the next start marker.
	errFrameMalformed = errors.New("osdp: malformed frame")

	// errFrameCheck is used for checksum or CRC mismatch; treated as
	// transport noise and discarded.
	errFrameCheck = errors.New("osdp: frame integrity check failed")
)

// Secure channel errors. Fatal to the session, recoverable by re-handshake.
var (
	errSCMac        = errors.New("osdp: secure channel mac verification failed")
	errSCCryptogram = errors.New("osdp: secure channel handshake failed")
	errSCDisabled   = errors.New("osdp: secure channel not active")
)
