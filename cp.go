package osdp

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Protocol timing. The refresh cadence the application provides bounds how
// precisely these are honored.
const (
	// pollInterval is the idle poll period per PD.
	pollInterval = 50 * time.Millisecond

	// responseTimeout is how long the CP waits for a reply before
	// retransmitting.
	responseTimeout = 200 * time.Millisecond

	// maxRetries is the number of retransmissions before a PD is marked
	// offline.
	maxRetries = 3

	// offlineRetryInterval is the backoff before re-contacting an offline PD.
	offlineRetryInterval = 1 * time.Second

	// scMaxAttempts bounds secure channel handshake attempts per contact.
	scMaxAttempts = 3

	// cmdQueueCap bounds the per-PD pending command queue.
	cmdQueueCap = 128
)

// CP per-PD protocol states.
type cpState int

const (
	cpStateOffline cpState = iota
	cpStateIDRequest
	cpStateCapRequest
	cpStateSecureHandshake
	cpStateOnline
)

func (s cpState) String() string {
	switch s {
	case cpStateOffline:
		return "offline"
	case cpStateIDRequest:
		return "id-request"
	case cpStateCapRequest:
		return "cap-request"
	case cpStateSecureHandshake:
		return "secure-handshake"
	case cpStateOnline:
		return "online"
	default:
		return "unknown"
	}
}

// EventCallback receives events a PD delivered to the CP. The pd argument
// is the offset of the PD in the PdInfo slice the CP was created with.
// Events arrive in the order the PD queued them.
type EventCallback func(pd int, event Event)

// busChannel wraps one physical channel shared by one or more PDs on a
// multi-drop bus. Inbound bytes are parsed once per refresh and dispatched
// to PD contexts by address; outbound frames that would block are carried
// over to the next refresh.
type busChannel struct {
	ch        Channel
	reader    frameReader
	txPending []byte
}

// pump flushes pending output and reads once from the channel.
func (b *busChannel) pump() {
	if len(b.txPending) > 0 {
		n, err := b.ch.Write(b.txPending)
		if err == nil || n > 0 {
			b.txPending = b.txPending[n:]
		}
		if len(b.txPending) > 0 {
			return
		}
	}
	var buf [512]byte
	n, err := b.ch.Read(buf[:])
	if err == nil && n > 0 {
		b.reader.feed(buf[:n])
	}
}

// send writes one frame, buffering any remainder. Returns false when the
// bus is still draining a previous frame.
func (b *busChannel) send(frame []byte) bool {
	if len(b.txPending) > 0 {
		return false
	}
	n, err := b.ch.Write(frame)
	if err != nil && n == 0 {
		// WouldBlock or transport error: buffer and let pump retry
		b.txPending = append([]byte(nil), frame...)
		return true
	}
	if n < len(frame) {
		b.txPending = append([]byte(nil), frame[n:]...)
	}
	_ = b.ch.Flush()
	return true
}

// cpPD is the CP-side live state for one PD.
type cpPD struct {
	info *PdInfo
	log  zerolog.Logger
	bus  *busChannel
	sc   *secureSession

	state      cpState
	online     bool
	seq        uint8
	seqInit    bool // next frame restarts the sequence with 0
	awaiting   bool // a frame is out, reply pending
	lastFrame  []byte
	lastSentAt time.Time
	lastPollAt time.Time
	retries    int
	retryAt    time.Time // next contact attempt while offline
	scAttempts int
	scNext     []byte // pending handshake payload to send

	id   *PdID
	caps []PdCapability

	cmdQ     []Command
	inFlight Command
	rekeyTo  *[SCBKLen]byte // applied when the in-flight KEYSET is acked

	fops     FileOps
	file     fileSession
	fileNext []byte // next file fragment payload
}

// ControlPanel is the OSDP bus master. It polls and commands the PDs it
// was configured with; the application must call Refresh periodically, at
// least once every 50ms, and may not call any method concurrently.
type ControlPanel struct {
	pds      []*cpPD
	channels map[int]*busChannel
	eventCb  EventCallback
	now      func() time.Time
}

// NewControlPanel creates a CP context for the described PDs. PDs sharing
// a physical bus must be given the same Channel (same channel ID).
func NewControlPanel(infos []*PdInfo) (*ControlPanel, error) {
	if len(infos) == 0 || len(infos) > maxPdCount {
		return nil, fmt.Errorf("%w: need 1..%d PDs, got %d", ErrSetup, maxPdCount, len(infos))
	}
	cp := &ControlPanel{
		channels: make(map[int]*busChannel),
		now:      time.Now,
	}
	seen := make(map[int]uint8, len(infos)) // channel id -> addresses in use
	for _, info := range infos {
		if info == nil || info.channel == nil {
			return nil, fmt.Errorf("%w: missing channel", ErrSetup)
		}
		bus, ok := cp.channels[info.channel.ID()]
		if !ok {
			bus = &busChannel{ch: info.channel}
			cp.channels[info.channel.ID()] = bus
		}
		if _, dup := seen[info.channel.ID()<<8|int(info.address)]; dup {
			return nil, fmt.Errorf("%w: duplicate address %d on channel %d",
				ErrSetup, info.address, info.channel.ID())
		}
		seen[info.channel.ID()<<8|int(info.address)] = info.address

		pd := &cpPD{
			info:  info,
			log:   info.logger.With().Str("pd", info.name).Logger(),
			bus:   bus,
			sc:    newSecureSession(info.scbk),
			state: cpStateOffline,
		}
		if info.flags&FlagEnforceSecure != 0 && pd.sc.defaultKey {
			return nil, fmt.Errorf("%w: EnforceSecure forbids SCBK-D", ErrSetup)
		}
		cp.pds = append(cp.pds, pd)
	}
	return cp, nil
}

// Refresh drives the CP state machine: it performs a bounded amount of
// channel I/O, advances every PD context and never blocks.
func (cp *ControlPanel) Refresh() {
	for _, bus := range cp.channels {
		bus.pump()
		for {
			p, err := bus.reader.next()
			if err == errFrameIncomplete {
				break
			}
			if err != nil {
				continue // noise; resynchronized already
			}
			cp.dispatch(bus, p)
		}
	}
	now := cp.now()
	for i, pd := range cp.pds {
		cp.refreshPD(i, pd, now)
	}
}

// dispatch routes an inbound frame to the PD context it belongs to.
func (cp *ControlPanel) dispatch(bus *busChannel, p *packet) {
	if !p.reply {
		return // our own echo on a half-duplex line
	}
	for i, pd := range cp.pds {
		if pd.bus == bus && pd.info.address == p.address {
			cp.handleReply(i, pd, p)
			return
		}
	}
}

// SendCommand queues a command for delivery to a PD. At most one command
// is in flight per PD; the rest wait in submission order.
func (cp *ControlPanel) SendCommand(pd int, cmd Command) error {
	ctx, err := cp.pd(pd)
	if err != nil {
		return err
	}
	if cmd == nil {
		return ErrCommand
	}
	if _, ok := cmd.(CommandFileTx); ok {
		if ctx.fops == nil {
			return fmt.Errorf("%w: no file ops registered", ErrFileTransfer)
		}
		if ctx.file.active() {
			return fmt.Errorf("%w: transfer already in progress", ErrFileTransfer)
		}
	}
	if len(ctx.cmdQ) >= cmdQueueCap {
		return ErrQueueFull
	}
	ctx.cmdQ = append(ctx.cmdQ, cmd)
	return nil
}

// FlushCommands drops a PD's queued (not yet sent) commands.
func (cp *ControlPanel) FlushCommands(pd int) error {
	ctx, err := cp.pd(pd)
	if err != nil {
		return err
	}
	ctx.cmdQ = nil
	return nil
}

// SetEventCallback registers the sink for events PDs deliver to this CP.
func (cp *ControlPanel) SetEventCallback(cb EventCallback) {
	cp.eventCb = cb
}

// SetFlag sets or clears a setup flag of a PD at runtime. Only
// FlagIgnoreUnsolicited may be toggled after setup.
func (cp *ControlPanel) SetFlag(pd int, flag Flag, value bool) error {
	ctx, err := cp.pd(pd)
	if err != nil {
		return err
	}
	if flag != FlagIgnoreUnsolicited {
		return ErrCommand
	}
	if value {
		ctx.info.flags |= flag
	} else {
		ctx.info.flags &^= flag
	}
	return nil
}

// IsOnline reports whether the PD currently answers polls.
func (cp *ControlPanel) IsOnline(pd int) bool {
	ctx, err := cp.pd(pd)
	return err == nil && ctx.online
}

// IsSecureChannelActive reports whether the PD's session keys are live.
func (cp *ControlPanel) IsSecureChannelActive(pd int) bool {
	ctx, err := cp.pd(pd)
	return err == nil && ctx.sc.status == scActive
}

// PdID returns the identity the PD reported, once known.
func (cp *ControlPanel) PdID(pd int) (PdID, error) {
	ctx, err := cp.pd(pd)
	if err != nil {
		return PdID{}, err
	}
	if ctx.id == nil {
		return PdID{}, fmt.Errorf("%w: pd id not known", ErrQuery)
	}
	return *ctx.id, nil
}

// Capability returns the PD's reported capability for a function code.
func (cp *ControlPanel) Capability(pd int, fc CapFunction) (PdCapability, error) {
	ctx, err := cp.pd(pd)
	if err != nil {
		return PdCapability{}, err
	}
	for _, c := range ctx.caps {
		if c.Function == fc {
			return c, nil
		}
	}
	return PdCapability{}, fmt.Errorf("%w: capability %v not reported", ErrQuery, fc)
}

// RegisterFileOps installs the file access collaborator used for file
// transfers to this PD.
func (cp *ControlPanel) RegisterFileOps(pd int, fops FileOps) error {
	ctx, err := cp.pd(pd)
	if err != nil {
		return err
	}
	ctx.fops = fops
	return nil
}

// FileTransferStatus returns the (size, offset) progress of the PD's
// ongoing file transfer.
func (cp *ControlPanel) FileTransferStatus(pd int) (size, offset int, err error) {
	ctx, err := cp.pd(pd)
	if err != nil {
		return 0, 0, err
	}
	return ctx.file.status()
}

// AbortFileTransfer cancels the ongoing file transfer to a PD. The cancel
// command is delivered on the next refresh cycle.
func (cp *ControlPanel) AbortFileTransfer(pd int) error {
	ctx, err := cp.pd(pd)
	if err != nil {
		return err
	}
	if !ctx.file.active() {
		return ErrFileTransfer
	}
	ctx.fileNext = buildFileCancel(ctx.file.id)
	ctx.file.abort()
	return nil
}

func (cp *ControlPanel) pd(i int) (*cpPD, error) {
	if i < 0 || i >= len(cp.pds) {
		return nil, fmt.Errorf("%w: pd %d out of range", ErrQuery, i)
	}
	return cp.pds[i], nil
}

// refreshPD advances one PD context: timeout accounting when a reply is
// pending, otherwise at most one new frame.
func (cp *ControlPanel) refreshPD(idx int, pd *cpPD, now time.Time) {
	if pd.awaiting {
		if now.Sub(pd.lastSentAt) < responseTimeout {
			return
		}
		pd.retries++
		if pd.retries > maxRetries {
			cp.markOffline(pd, now)
			return
		}
		pd.log.Debug().Int("retry", pd.retries).Msg("response timeout, retransmitting")
		if pd.bus.send(pd.lastFrame) {
			pd.lastSentAt = now
		}
		return
	}

	switch pd.state {
	case cpStateOffline:
		if now.Before(pd.retryAt) {
			return
		}
		pd.state = cpStateIDRequest
		pd.seqInit = true
		pd.scAttempts = 0
		fallthrough
	case cpStateIDRequest:
		cp.sendFrame(pd, []byte{cmdID}, now)
	case cpStateCapRequest:
		cp.sendFrame(pd, []byte{cmdCap}, now)
	case cpStateSecureHandshake:
		cp.advanceHandshake(pd, now)
	case cpStateOnline:
		switch {
		case len(pd.fileNext) > 0:
			payload := pd.fileNext
			pd.fileNext = nil
			cp.sendFrame(pd, payload, now)
		case pd.inFlight == nil && len(pd.cmdQ) > 0:
			cp.sendCommandFrame(pd, now)
		case now.Sub(pd.lastPollAt) >= pollInterval:
			pd.lastPollAt = now
			cp.sendFrame(pd, []byte{cmdPoll}, now)
		}
	}
}

// advanceHandshake sends the next secure channel handshake message, or
// gives up per flag policy when the attempt budget is spent.
func (cp *ControlPanel) advanceHandshake(pd *cpPD, now time.Time) {
	if pd.scAttempts >= scMaxAttempts {
		if pd.info.flags&FlagEnforceSecure != 0 {
			pd.log.Warn().Msg("secure channel could not be established, marking offline")
			cp.markOffline(pd, now)
			return
		}
		pd.log.Warn().Msg("secure channel could not be established, continuing in clear")
		pd.sc.reset()
		cp.goOnline(pd, now)
		return
	}
	if pd.scNext == nil {
		payload, err := pd.sc.buildChallenge()
		if err != nil {
			pd.scAttempts++
			return
		}
		pd.scNext = payload
	}
	payload := pd.scNext
	pd.scNext = nil
	cp.sendFrame(pd, payload, now)
}

// sendCommandFrame dequeues the next application command and puts it on
// the wire. File transfers expand into their own sub-protocol.
func (cp *ControlPanel) sendCommandFrame(pd *cpPD, now time.Time) {
	cmd := pd.cmdQ[0]

	if ft, ok := cmd.(CommandFileTx); ok {
		size, err := pd.fops.Open(int(ft.ID), true)
		if err != nil {
			pd.log.Warn().Err(err).Int32("file", ft.ID).Msg("file open failed")
			pd.cmdQ = pd.cmdQ[1:]
			pd.file.state = ftFailed
			return
		}
		pd.file = fileSession{
			state: ftOpen,
			id:    ft.ID,
			flags: ft.Flags,
			size:  size,
			fops:  pd.fops,
		}
		pd.cmdQ = pd.cmdQ[1:]
		pd.inFlight = cmd
		cp.sendFrame(pd, buildFileStart(ft.ID, ft.Flags, size), now)
		return
	}

	if ks, ok := cmd.(CommandKeySet); ok {
		if pd.sc.status != scActive {
			pd.log.Warn().Msg("dropping KEYSET: secure channel not active")
			pd.cmdQ = pd.cmdQ[1:]
			return
		}
		key := ks.Key
		pd.rekeyTo = &key
	}

	payload, err := encodeCommand(cmd)
	if err != nil {
		pd.log.Warn().Err(err).Msg("dropping unencodable command")
		pd.cmdQ = pd.cmdQ[1:]
		return
	}
	pd.cmdQ = pd.cmdQ[1:]
	pd.inFlight = cmd
	cp.sendFrame(pd, payload, now)
}

// sendFrame seals (when the session is active), frames and transmits one
// payload, recording it for identical retransmission.
func (cp *ControlPanel) sendFrame(pd *cpPD, payload []byte, now time.Time) {
	seq := nextSeq(pd.seq)
	if pd.seqInit {
		seq = seqReset
		pd.seqInit = false
	}
	p := &packet{
		address: pd.info.address,
		seq:     seq,
		useCRC:  true,
		payload: payload,
	}
	chain := pd.sc.rMac
	if pd.sc.status == scActive {
		if err := pd.sc.seal(p); err != nil {
			pd.log.Error().Err(err).Msg("seal failed")
			return
		}
	}
	frame := encodePacket(p, false)
	if !pd.bus.send(frame) {
		// bus busy; undo the chain advance, keep current seq and try
		// again next refresh
		pd.sc.rMac = chain
		pd.seqInit = seq == seqReset
		return
	}
	pd.seq = seq
	pd.lastFrame = frame
	pd.lastSentAt = now
	pd.awaiting = true
}

// handleReply processes one reply frame addressed to pd.
func (cp *ControlPanel) handleReply(idx int, pd *cpPD, p *packet) {
	now := cp.now()
	if !pd.awaiting {
		if pd.info.flags&FlagIgnoreUnsolicited == 0 {
			pd.log.Warn().Uint8("code", replyCodeOf(p)).Msg("unsolicited reply ignored")
		}
		return
	}
	if p.seq != pd.seq {
		if p.seq == prevSeq(pd.seq) {
			// PD missed our previous ack; repeat the identical frame
			pd.log.Debug().Msg("stale reply sequence, retransmitting last frame")
			if pd.bus.send(pd.lastFrame) {
				pd.lastSentAt = now
			}
			return
		}
		pd.log.Debug().Uint8("got", p.seq).Uint8("want", pd.seq).Msg("reply sequence mismatch")
		return
	}

	if p.secure {
		if err := pd.sc.open(p); err != nil {
			pd.log.Warn().Err(err).Msg("secure channel reply rejected, re-keying")
			cp.restartHandshake(pd)
			return
		}
	} else if pd.sc.status == scActive {
		// plaintext reply inside an active session is not acceptable
		pd.log.Warn().Msg("plaintext reply on active secure channel")
		cp.restartHandshake(pd)
		return
	}

	if len(p.payload) == 0 {
		return
	}
	code, data := p.payload[0], p.payload[1:]

	pd.awaiting = false
	pd.retries = 0

	switch code {
	case replyNak:
		cp.handleNak(pd, data, now)
	case replyPdID:
		id, err := decodePdID(data)
		if err != nil {
			return
		}
		pd.id = &id
		if pd.state == cpStateIDRequest {
			pd.state = cpStateCapRequest
		}
	case replyPdCap:
		caps, err := decodePdCapabilities(data)
		if err != nil {
			return
		}
		pd.caps = caps
		if pd.state == cpStateCapRequest {
			if cp.wantSecureChannel(pd) {
				pd.state = cpStateSecureHandshake
			} else {
				cp.goOnline(pd, now)
			}
		}
	case replyCCrypt:
		next, err := pd.sc.acceptCCrypt(data)
		if err != nil {
			pd.log.Warn().Msg("secure channel handshake failed")
			pd.scAttempts++
			return
		}
		pd.scNext = next
	case replyRMacI:
		if err := pd.sc.acceptRMacI(data); err != nil {
			pd.log.Warn().Msg("secure channel handshake failed")
			pd.scAttempts++
			return
		}
		pd.log.Info().Msg("secure channel active")
		cp.goOnline(pd, now)
	case replyAck:
		cp.handleAck(pd)
	case replyCom:
		pd.inFlight = nil
	case replyFTStat:
		cp.handleFTStat(pd, data)
	case replyRaw, replyKeypad, replyLocalStat, replyMfg:
		ev, err := decodeEvent(code, data)
		if err != nil {
			return
		}
		if cp.eventCb != nil {
			cp.eventCb(idx, ev)
		}
	default:
		if pd.info.flags&FlagIgnoreUnsolicited == 0 {
			pd.log.Warn().Uint8("code", code).Msg("unexpected reply code")
		}
	}

	if pd.state == cpStateOnline && !pd.online {
		cp.goOnline(pd, now)
	}
}

func replyCodeOf(p *packet) uint8 {
	if len(p.payload) > 0 {
		return p.payload[0]
	}
	return 0
}

// wantSecureChannel decides whether the CP should negotiate a session for
// this PD after discovery.
func (cp *ControlPanel) wantSecureChannel(pd *cpPD) bool {
	if pd.info.flags&FlagEnforceSecure != 0 {
		return true
	}
	if pd.sc.defaultKey {
		// provisioning handshake with SCBK-D only when asked for
		return pd.info.flags&FlagInstallMode != 0
	}
	return true
}

func (cp *ControlPanel) handleNak(pd *cpPD, data []byte, now time.Time) {
	var reason uint8
	if len(data) > 0 {
		reason = data[0]
	}
	pd.log.Debug().Uint8("reason", reason).Msg("NAK")
	switch {
	case pd.state == cpStateSecureHandshake:
		pd.scAttempts++
		pd.sc.reset()
		pd.scNext = nil
	case reason == nakSeqNum:
		pd.seqInit = true
	default:
		if pd.inFlight != nil {
			pd.log.Warn().Uint8("reason", reason).Stringer("command", pd.inFlight).Msg("command rejected")
			pd.inFlight = nil
			pd.rekeyTo = nil
		}
		if pd.file.active() {
			pd.file.abort()
			pd.fileNext = nil
		}
	}
}

func (cp *ControlPanel) handleAck(pd *cpPD) {
	if pd.rekeyTo != nil {
		// PD accepted the KEYSET; both sides re-key and re-handshake
		pd.log.Info().Msg("KEYSET acknowledged, re-keying")
		pd.sc.rekey(*pd.rekeyTo)
		pd.rekeyTo = nil
		pd.state = cpStateSecureHandshake
		pd.scAttempts = 0
	}
	pd.inFlight = nil
}

// handleFTStat advances the CP side of a file transfer from the PD's
// cumulative progress report.
func (cp *ControlPanel) handleFTStat(pd *cpPD, data []byte) {
	pd.inFlight = nil
	if !pd.file.active() {
		return
	}
	st, err := decodeFTStat(data)
	if err != nil || st.status == ftStatusErr {
		pd.log.Warn().Msg("file transfer aborted by PD")
		pd.file.abort()
		pd.fileNext = nil
		return
	}

	if pd.file.state == ftOpen {
		frag := int(st.rxSize)
		if max := maxPayload(true) - 10 - scMacLen; frag > max {
			frag = max
		}
		if frag <= 0 {
			frag = defaultFragSize
		}
		pd.file.fragSize = frag
		pd.file.state = ftTransferring
	}

	pd.file.offset = st.offset
	if st.status == ftStatusDone || pd.file.offset >= pd.file.size {
		pd.log.Info().Int("size", pd.file.size).Msg("file transfer complete")
		pd.file.finish()
		pd.fileNext = nil
		return
	}

	n := pd.file.size - pd.file.offset
	if n > pd.file.fragSize {
		n = pd.file.fragSize
	}
	buf := make([]byte, n)
	rn, err := pd.file.fops.ReadAt(buf, int64(pd.file.offset))
	if err != nil || rn == 0 {
		pd.log.Warn().Err(err).Msg("file read failed, aborting transfer")
		pd.file.abort()
		pd.fileNext = buildFileCancel(pd.file.id)
		return
	}
	pd.fileNext = buildFileData(pd.file.id, pd.file.offset, buf[:rn])
}

// restartHandshake forces a session re-key after a MAC failure.
func (cp *ControlPanel) restartHandshake(pd *cpPD) {
	pd.sc.reset()
	pd.scNext = nil
	pd.awaiting = false
	pd.scAttempts++
	pd.state = cpStateSecureHandshake
	pd.online = false
	if pd.file.active() {
		pd.file.abort()
		pd.fileNext = nil
	}
}

func (cp *ControlPanel) goOnline(pd *cpPD, now time.Time) {
	if !pd.online {
		pd.log.Info().Stringer("state", pd.state).Msg("PD online")
	}
	pd.state = cpStateOnline
	pd.online = true
	pd.retries = 0
	pd.lastPollAt = now.Add(-pollInterval) // poll immediately
}

// markOffline transitions a PD to offline and schedules the next contact
// attempt. Discovery restarts from the identity request.
func (cp *ControlPanel) markOffline(pd *cpPD, now time.Time) {
	if pd.online || pd.state != cpStateOffline {
		pd.log.Warn().Msg("PD offline")
	}
	pd.state = cpStateOffline
	pd.online = false
	pd.awaiting = false
	pd.retries = 0
	pd.retryAt = now.Add(offlineRetryInterval)
	pd.seqInit = true
	pd.sc.reset()
	pd.scNext = nil
	pd.inFlight = nil
	pd.rekeyTo = nil
	if pd.file.active() {
		pd.file.abort()
		pd.fileNext = nil
	}
}
