// Package osdp implements the Open Supervised Device Protocol
// (IEC 60839-11-5) in Go.
//
// OSDP connects one Control Panel (CP) to up to 126 Peripheral Devices (PD)
// over a shared, stream based channel (typically RS-485). The package
// implements both sides of the protocol: packet framing, the polling and
// retry state machines, the AES-128 Secure Channel, and the chunked file
// transfer sub-protocol.
//
// An application starts by implementing the Channel interface over whatever
// transport connects its devices, describes each PD with a PdInfoBuilder and
// then creates a ControlPanel or a PeripheralDevice from it. Both device
// contexts expose a non-blocking Refresh method that must be called
// periodically; to meet the OSDP timing requirements it should run at least
// once every 50ms.
//
// From there a CP can send commands (LEDs, buzzers, text, keys, files) to
// any of its PDs and receive events through a registered callback, while a
// PD receives commands through its callback and queues events (card reads,
// key presses, tamper reports) for delivery on the next poll.
package osdp
