package osdp

import (
	"bytes"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/cryptobyte"
)

// eventQueueCap bounds the PD event queue. When full, the oldest event is
// dropped so that memory stays bounded and fresh events survive.
const eventQueueCap = 64

// pdContactTimeout is how long a PD considers itself online after the last
// valid frame from its CP. Matches the CP's full retry budget.
const pdContactTimeout = responseTimeout * (maxRetries + 1)

// CommandCallback receives commands the CP sent to this PD. A nil return
// acknowledges the command; an error NAKs it in the same reply cycle.
type CommandCallback func(cmd Command) error

// PeripheralDevice is one OSDP end device. It answers polls and commands
// from its CP and queues events for delivery; the application must call
// Refresh periodically, at least once every 50ms, and may not call any
// method concurrently.
type PeripheralDevice struct {
	info   *PdInfo
	log    zerolog.Logger
	reader frameReader
	sc     *secureSession
	pdUID  [scIDLen]byte

	cmdCb  CommandCallback
	events []Event

	seq        uint8
	seqSeen    bool
	lastCmdRaw []byte // raw payload of the last processed frame
	lastReply  []byte // full encoded frame of the last reply
	txPending  []byte

	installUsed  bool // the single SCBK-D session has been consumed
	pendingRekey *[SCBKLen]byte

	fops FileOps
	file fileSession

	lastContact time.Time
	now         func() time.Time
}

// NewPeripheralDevice creates a PD context from its description.
func NewPeripheralDevice(info *PdInfo) (*PeripheralDevice, error) {
	if info == nil || info.channel == nil {
		return nil, fmt.Errorf("%w: missing channel", ErrSetup)
	}
	pd := &PeripheralDevice{
		info: info,
		log:  info.logger.With().Str("pd", info.name).Logger(),
		sc:   newSecureSession(info.scbk),
		now:  time.Now,
	}
	if info.flags&FlagEnforceSecure != 0 && pd.sc.defaultKey {
		return nil, fmt.Errorf("%w: EnforceSecure forbids SCBK-D", ErrSetup)
	}
	// identity blob used in the secure channel handshake
	id := info.id
	pd.pdUID = [scIDLen]byte{
		uint8(id.VendorCode), uint8(id.VendorCode >> 8), uint8(id.VendorCode >> 16),
		id.Model,
		uint8(id.SerialNumber), uint8(id.SerialNumber >> 8),
		uint8(id.SerialNumber >> 16), uint8(id.SerialNumber >> 24),
	}
	return pd, nil
}

// Refresh drives the PD state machine: it performs a bounded amount of
// channel I/O, answers at most the frames already received and never
// blocks.
func (pd *PeripheralDevice) Refresh() {
	if len(pd.txPending) > 0 {
		n, err := pd.info.channel.Write(pd.txPending)
		if err == nil || n > 0 {
			pd.txPending = pd.txPending[n:]
		}
		if len(pd.txPending) > 0 {
			return
		}
		_ = pd.info.channel.Flush()
	}

	var buf [512]byte
	n, err := pd.info.channel.Read(buf[:])
	if err == nil && n > 0 {
		pd.reader.feed(buf[:n])
	}
	for {
		p, err := pd.reader.next()
		if err == errFrameIncomplete {
			return
		}
		if err != nil {
			continue // noise; resynchronized already
		}
		pd.handleFrame(p)
	}
}

// SetCommandCallback registers the handler for commands from the CP.
func (pd *PeripheralDevice) SetCommandCallback(cb CommandCallback) {
	pd.cmdCb = cb
}

// SetCapabilities replaces the PD's capability report.
func (pd *PeripheralDevice) SetCapabilities(caps []PdCapability) {
	pd.info.caps = append([]PdCapability(nil), caps...)
}

// NotifyEvent queues an event for delivery on the next poll. When the
// queue is full the oldest event is dropped.
func (pd *PeripheralDevice) NotifyEvent(ev Event) error {
	if ev == nil {
		return ErrEvent
	}
	if _, err := encodeEvent(ev); err != nil {
		return ErrEvent
	}
	if len(pd.events) >= eventQueueCap {
		pd.log.Debug().Stringer("event", pd.events[0]).Msg("event queue full, dropping oldest")
		pd.events = pd.events[1:]
	}
	pd.events = append(pd.events, ev)
	return nil
}

// FlushEvents drops all queued but undelivered events and returns how many
// were dropped.
func (pd *PeripheralDevice) FlushEvents() int {
	n := len(pd.events)
	pd.events = nil
	return n
}

// IsOnline reports whether the CP has talked to us recently.
func (pd *PeripheralDevice) IsOnline() bool {
	return !pd.lastContact.IsZero() && pd.now().Sub(pd.lastContact) < pdContactTimeout
}

// IsSecureChannelActive reports whether the session keys are live.
func (pd *PeripheralDevice) IsSecureChannelActive() bool {
	return pd.sc.status == scActive
}

// RegisterFileOps installs the file access collaborator used to store
// received file transfers.
func (pd *PeripheralDevice) RegisterFileOps(fops FileOps) {
	pd.fops = fops
}

// FileTransferStatus returns the (size, offset) progress of the ongoing
// file transfer.
func (pd *PeripheralDevice) FileTransferStatus() (size, offset int, err error) {
	return pd.file.status()
}

// handleFrame validates one inbound frame and produces exactly one reply.
func (pd *PeripheralDevice) handleFrame(p *packet) {
	if p.reply {
		return // PD to CP traffic from another device on the bus
	}
	if p.address != pd.info.address && p.address != BroadcastAddress {
		return // not for us
	}

	raw := append([]byte(nil), p.payload...)

	// Sequence number legality: the expected successor, a repeat of the
	// previous value, or zero to reset.
	switch {
	case p.seq == seqReset:
		// A reset frame can itself be a retransmission of the reset frame
		// we already answered. Same rule as below: repeat the stored reply
		// for an identical copy instead of re-running the command.
		if pd.seqSeen && pd.seq == seqReset && bytes.Equal(raw, pd.lastCmdRaw) {
			pd.log.Debug().Msg("duplicate reset frame, retransmitting last reply")
			pd.transmit(pd.lastReply)
			return
		}
		pd.seqSeen = true
	case pd.seqSeen && p.seq == pd.seq:
		// Duplicate of the frame we already answered: our reply was lost.
		// Repeat the stored reply for an identical retransmission; anything
		// else under a reused sequence number forces a resync.
		if bytes.Equal(raw, pd.lastCmdRaw) {
			pd.log.Debug().Uint8("seq", p.seq).Msg("duplicate frame, retransmitting last reply")
			pd.transmit(pd.lastReply)
		} else {
			pd.log.Warn().Uint8("seq", p.seq).Msg("stale retransmit mismatch, resynchronizing")
			pd.seqSeen = false
			pd.reply(p, false, nakPayload(nakSeqNum))
		}
		return
	case pd.seqSeen && p.seq != nextSeq(pd.seq):
		pd.log.Warn().Uint8("got", p.seq).Uint8("want", nextSeq(pd.seq)).Msg("sequence error")
		pd.seqSeen = false
		pd.reply(p, false, nakPayload(nakSeqNum))
		return
	default:
		// first contact; adopt the CP's sequence
		pd.seqSeen = true
	}

	wasSecure := p.secure
	if p.secure {
		if err := pd.sc.open(p); err != nil {
			pd.log.Warn().Err(err).Msg("secure frame rejected, session invalidated")
			pd.reply(p, false, nakPayload(nakSecCond))
			return
		}
	}
	if len(p.payload) == 0 {
		return
	}
	code := p.payload[0]
	if !wasSecure && pd.sc.status == scActive && code != cmdChallenge {
		// CP lost its session state; force a re-handshake
		pd.log.Warn().Msg("plaintext command on active secure channel")
		pd.sc.reset()
		pd.reply(p, false, nakPayload(nakSecCond))
		return
	}

	payload := pd.handleCommand(code, p.payload[1:])
	pd.lastCmdRaw = raw
	pd.reply(p, wasSecure, payload)

	if pd.pendingRekey != nil {
		// applied after the KEYSET ack went out under the old session
		pd.sc.rekey(*pd.pendingRekey)
		pd.pendingRekey = nil
		pd.log.Info().Msg("SCBK replaced, session re-key required")
	}

	pd.seq = p.seq
	pd.lastContact = pd.now()
}

// reply frames, optionally seals, stores and transmits one reply payload.
func (pd *PeripheralDevice) reply(req *packet, sealed bool, payload []byte) {
	rp := &packet{
		address: pd.info.address,
		reply:   true,
		seq:     req.seq,
		useCRC:  req.useCRC,
		payload: payload,
	}
	if sealed && pd.sc.status == scActive {
		if err := pd.sc.seal(rp); err != nil {
			pd.log.Error().Err(err).Msg("reply seal failed")
			return
		}
	}
	frame := encodePacket(rp, false)
	pd.lastReply = frame
	pd.transmit(frame)
}

func (pd *PeripheralDevice) transmit(frame []byte) {
	n, err := pd.info.channel.Write(frame)
	if err != nil && n == 0 {
		pd.txPending = append([]byte(nil), frame...)
		return
	}
	if n < len(frame) {
		pd.txPending = append([]byte(nil), frame[n:]...)
		return
	}
	_ = pd.info.channel.Flush()
}

func nakPayload(reason uint8) []byte {
	return []byte{replyNak, reason}
}

func ackPayload() []byte {
	return []byte{replyAck}
}

// handleCommand dispatches one command and composes the reply payload that
// goes out in the same cycle.
func (pd *PeripheralDevice) handleCommand(code uint8, data []byte) []byte {
	switch code {
	case cmdPoll:
		if len(pd.events) > 0 {
			ev := pd.events[0]
			pd.events = pd.events[1:]
			payload, err := encodeEvent(ev)
			if err == nil {
				return payload
			}
		}
		return ackPayload()

	case cmdID:
		var b cryptobyte.Builder
		b.AddUint8(replyPdID)
		pd.info.id.encode(&b)
		out, _ := b.Bytes()
		return out

	case cmdCap:
		var b cryptobyte.Builder
		b.AddUint8(replyPdCap)
		for _, c := range pd.info.caps {
			c.encode(&b)
		}
		out, _ := b.Bytes()
		return out

	case cmdLocalStatus:
		return []byte{replyLocalStat, StatusReportLocal, 0, 0}

	case cmdChallenge:
		return pd.handleChallenge(data)

	case cmdSCrypt:
		payload, err := pd.sc.acceptSCrypt(data)
		if err != nil {
			pd.log.Warn().Msg("secure channel handshake failed")
			return nakPayload(nakSecCond)
		}
		if pd.sc.defaultKey {
			pd.installUsed = true
		}
		pd.log.Info().Msg("secure channel active")
		return payload

	case cmdKeySet:
		return pd.handleKeySet(data)

	case cmdFileTransfer:
		return pd.handleFileTransfer(data)

	case cmdOutput, cmdLED, cmdBuzzer, cmdText, cmdComSet, cmdMfg:
		return pd.handleAppCommand(code, data)

	default:
		pd.log.Debug().Uint8("code", code).Msg("unknown command")
		return nakPayload(nakCmdUnknown)
	}
}

// handleChallenge starts the responder side of the secure channel
// handshake, enforcing the install mode policy for SCBK-D.
func (pd *PeripheralDevice) handleChallenge(data []byte) []byte {
	if pd.sc.defaultKey {
		if pd.info.flags&FlagInstallMode == 0 || pd.installUsed {
			pd.log.Warn().Msg("SCBK-D handshake refused")
			return nakPayload(nakSecCond)
		}
	}
	pd.sc.reset()
	payload, err := pd.sc.acceptChallenge(data, pd.pdUID)
	if err != nil {
		return nakPayload(nakSecCond)
	}
	return payload
}

// handleKeySet applies a new SCBK pushed by the CP. Only acceptable over
// an active session; the ack still travels under the old keys, so the
// re-key is deferred until the reply is out.
func (pd *PeripheralDevice) handleKeySet(data []byte) []byte {
	if pd.sc.status != scActive {
		return nakPayload(nakSecCond)
	}
	cmd, err := decodeCommand(cmdKeySet, data)
	if err != nil {
		return nakPayload(nakCmdLength)
	}
	ks := cmd.(CommandKeySet)
	if pd.cmdCb != nil {
		if err := pd.cmdCb(ks); err != nil {
			return nakPayload(nakRecord)
		}
	}
	key := ks.Key
	pd.pendingRekey = &key
	pd.installUsed = false // key provisioned; install mode over
	return ackPayload()
}

// handleFileTransfer runs the receiving side of the file transfer
// sub-protocol.
func (pd *PeripheralDevice) handleFileTransfer(data []byte) []byte {
	fc, err := decodeFileCommand(data)
	if err != nil {
		return nakPayload(nakCmdLength)
	}
	switch fc.op {
	case fileOpStart:
		if pd.fops == nil {
			return nakPayload(nakRecord)
		}
		if pd.file.active() {
			pd.file.abort()
		}
		if _, err := pd.fops.Open(int(fc.id), false); err != nil {
			pd.log.Warn().Err(err).Int32("file", fc.id).Msg("file open failed")
			return nakPayload(nakRecord)
		}
		pd.file = fileSession{
			state:    ftTransferring,
			id:       fc.id,
			flags:    fc.flags,
			size:     fc.size,
			fragSize: pd.rxFragSize(),
			fops:     pd.fops,
		}
		if pd.cmdCb != nil {
			if err := pd.cmdCb(CommandFileTx{ID: fc.id, Flags: fc.flags}); err != nil {
				pd.file.abort()
				return nakPayload(nakRecord)
			}
		}
		pd.log.Info().Int32("file", fc.id).Int("size", fc.size).Msg("file transfer started")
		return buildFTStat(ftStatusOK, uint16(pd.file.fragSize), 0)

	case fileOpData:
		if !pd.file.active() || fc.id != pd.file.id {
			return buildFTStat(ftStatusErr, 0, 0)
		}
		if fc.offset == pd.file.offset {
			n, err := pd.file.fops.WriteAt(fc.data, int64(fc.offset))
			if err != nil {
				pd.log.Warn().Err(err).Msg("file write failed, aborting transfer")
				pd.file.abort()
				return buildFTStat(ftStatusErr, 0, 0)
			}
			pd.file.offset += n
		}
		// A fragment at an already-acknowledged offset is a retransmission;
		// report cumulative progress without writing twice. A fragment past
		// the cumulative offset is refused the same way: the CP resumes
		// from the reported offset.
		if pd.file.offset >= pd.file.size {
			pd.log.Info().Int("size", pd.file.size).Msg("file transfer complete")
			offset := pd.file.offset
			pd.file.finish()
			return buildFTStat(ftStatusDone, uint16(pd.file.fragSize), offset)
		}
		return buildFTStat(ftStatusOK, uint16(pd.file.fragSize), pd.file.offset)

	case fileOpCancel:
		if pd.file.active() {
			pd.log.Info().Int32("file", fc.id).Msg("file transfer cancelled")
			pd.file.abort()
		}
		return ackPayload()

	default:
		return nakPayload(nakCmdUnknown)
	}
}

// rxFragSize is the largest file fragment this PD accepts, taken from its
// ReceiveBufferSize capability (compliance = low byte, items = high byte)
// when present.
func (pd *PeripheralDevice) rxFragSize() int {
	for _, c := range pd.info.caps {
		if c.Function == CapReceiveBufferSize {
			if n := int(c.Compliance) | int(c.NumItems)<<8; n > 0 {
				return n
			}
		}
	}
	return defaultFragSize
}

// handleAppCommand decodes and delivers an application command, composing
// ACK/NAK (or the COM grant) from the callback's verdict.
func (pd *PeripheralDevice) handleAppCommand(code uint8, data []byte) []byte {
	cmd, err := decodeCommand(code, data)
	if err != nil {
		return nakPayload(nakCmdLength)
	}
	if pd.cmdCb != nil {
		if err := pd.cmdCb(cmd); err != nil {
			pd.log.Debug().Err(err).Stringer("command", cmd).Msg("command refused by application")
			return nakPayload(nakRecord)
		}
	}
	if cs, ok := cmd.(CommandComSet); ok {
		// grant the requested parameters in the same reply cycle
		var b cryptobyte.Builder
		b.AddUint8(replyCom)
		b.AddUint8(cs.Address)
		addUint32LE(&b, cs.BaudRate)
		out, _ := b.Bytes()
		return out
	}
	return ackPayload()
}
