package osdp

import "encoding/binary"

// Wire framing constants.
const (
	frameMark uint8 = 0xff // idle line filler, optional before SOM
	frameSOM  uint8 = 0x53 // start of message

	// BroadcastAddress is the reserved PD address all PDs respond to.
	BroadcastAddress uint8 = 0x7f

	replyAddressBit uint8 = 0x80 // set on PD to CP frames

	ctrlSeqMask uint8 = 0x0f // 4-bit sequence number
	ctrlUseCRC  uint8 = 0x10 // trailing CRC-16 instead of checksum
	ctrlSecure  uint8 = 0x20 // payload carries a secure channel block

	// seqReset (0) restarts the sequence; live frames cycle 1..seqMax.
	seqReset uint8 = 0
	seqMax   uint8 = 15

	frameHeaderLen = 5    // SOM + address + length (2) + control
	frameMaxLen    = 1024 // whole frame, SOM through integrity field
)

// nextSeq advances a 4-bit frame sequence number. Zero is reserved for
// sequence reset, so live traffic cycles through 1..15.
func nextSeq(seq uint8) uint8 {
	if seq >= seqMax {
		return 1
	}
	return seq + 1
}

// prevSeq is the inverse of nextSeq.
func prevSeq(seq uint8) uint8 {
	if seq <= 1 {
		return seqMax
	}
	return seq - 1
}

// packet is one decoded OSDP frame. Transient: built and consumed within a
// single refresh cycle.
type packet struct {
	address uint8 // 7-bit device address, reply bit stripped
	reply   bool  // PD to CP direction
	seq     uint8
	useCRC  bool
	secure  bool   // frame belongs to an active secure channel session
	payload []byte // command/reply code followed by its data
}

// maxPayload is the payload capacity of a single frame.
func maxPayload(useCRC bool) int {
	n := frameMaxLen - frameHeaderLen - 1
	if useCRC {
		n--
	}
	return n
}

// encodePacket serializes p, prepending a mark byte unless skipMark is set.
// The length field counts every byte from SOM through the integrity field.
func encodePacket(p *packet, skipMark bool) []byte {
	ilen := 1
	if p.useCRC {
		ilen = 2
	}
	flen := frameHeaderLen + len(p.payload) + ilen

	b := make([]byte, 0, flen+1)
	if !skipMark {
		b = append(b, frameMark)
	}
	start := len(b)

	addr := p.address
	if p.reply {
		addr |= replyAddressBit
	}
	ctrl := p.seq & ctrlSeqMask
	if p.useCRC {
		ctrl |= ctrlUseCRC
	}
	if p.secure {
		ctrl |= ctrlSecure
	}

	b = append(b, frameSOM, addr)
	b = binary.LittleEndian.AppendUint16(b, uint16(flen))
	b = append(b, ctrl)
	b = append(b, p.payload...)

	if p.useCRC {
		b = binary.LittleEndian.AppendUint16(b, crc16(b[start:]))
	} else {
		b = append(b, checksum8(b[start:]))
	}
	return b
}

// frameReader accumulates raw channel bytes and extracts whole frames.
// One instance exists per channel; resynchronization after garbage is done
// by scanning for the next start marker.
type frameReader struct {
	buf []byte
}

func (r *frameReader) feed(b []byte) {
	r.buf = append(r.buf, b...)
}

// next extracts the next complete frame from the buffer.
//
// It returns errFrameIncomplete when more bytes are needed and
// errFrameCheck when a frame sized correctly failed its integrity check
// (the offending bytes are consumed either way). Mark bytes and line noise
// before the start marker are skipped silently.
func (r *frameReader) next() (*packet, error) {
	// discard until a start marker
	i := 0
	for i < len(r.buf) && r.buf[i] != frameSOM {
		i++
	}
	r.buf = r.buf[i:]

	if len(r.buf) < frameHeaderLen {
		return nil, errFrameIncomplete
	}

	flen := int(binary.LittleEndian.Uint16(r.buf[2:4]))
	ctrl := r.buf[4]
	ilen := 1
	if ctrl&ctrlUseCRC != 0 {
		ilen = 2
	}
	if flen < frameHeaderLen+ilen || flen > frameMaxLen {
		// bogus length; drop this SOM and resync on the next one
		r.buf = r.buf[1:]
		return nil, errFrameMalformed
	}
	if len(r.buf) < flen {
		return nil, errFrameIncomplete
	}

	frame := r.buf[:flen]
	r.buf = r.buf[flen:]

	body, trailer := frame[:flen-ilen], frame[flen-ilen:]
	if ctrl&ctrlUseCRC != 0 {
		if crc16(body) != binary.LittleEndian.Uint16(trailer) {
			return nil, errFrameCheck
		}
	} else {
		if checksum8(body) != trailer[0] {
			return nil, errFrameCheck
		}
	}

	addr := frame[1]
	p := &packet{
		address: addr &^ replyAddressBit,
		reply:   addr&replyAddressBit != 0,
		seq:     ctrl & ctrlSeqMask,
		useCRC:  ctrl&ctrlUseCRC != 0,
		secure:  ctrl&ctrlSecure != 0,
		payload: append([]byte(nil), body[frameHeaderLen:]...),
	}
	return p, nil
}
