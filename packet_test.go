package osdp

import (
	"bytes"
	"errors"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	cases := []packet{
		{address: 0, seq: 0, useCRC: true, payload: []byte{cmdPoll}},
		{address: 101, seq: 7, useCRC: true, payload: []byte{cmdBuzzer, 0, 1, 2, 3, 4}},
		{address: 101, reply: true, seq: 7, useCRC: true, secure: true,
			payload: []byte{replyAck, 0xde, 0xad, 0xbe, 0xef}},
		{address: BroadcastAddress, seq: 15, useCRC: false, payload: []byte{cmdLocalStatus}},
		{address: 3, reply: true, seq: 1, useCRC: false, payload: []byte{replyNak, nakSeqNum}},
	}
	for _, want := range cases {
		for _, skipMark := range []bool{false, true} {
			var r frameReader
			r.feed(encodePacket(&want, skipMark))
			got, err := r.next()
			if err != nil {
				t.Fatalf("next() = %v for % x", err, want.payload)
			}
			if got.address != want.address || got.reply != want.reply ||
				got.seq != want.seq || got.useCRC != want.useCRC ||
				got.secure != want.secure || !bytes.Equal(got.payload, want.payload) {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
			}
			if len(r.buf) != 0 {
				t.Errorf("%d bytes left in reader after a full frame", len(r.buf))
			}
		}
	}
}

func TestFrameReaderPartial(t *testing.T) {
	p := &packet{address: 5, seq: 2, useCRC: true, payload: []byte{cmdPoll}}
	raw := encodePacket(p, false)
	var r frameReader
	for i := 0; i < len(raw)-1; i++ {
		r.feed(raw[i : i+1])
		if _, err := r.next(); !errors.Is(err, errFrameIncomplete) {
			t.Fatalf("after %d bytes: err = %v, want incomplete", i+1, err)
		}
	}
	r.feed(raw[len(raw)-1:])
	got, err := r.next()
	if err != nil {
		t.Fatalf("next() = %v after full frame", err)
	}
	if got.address != 5 || got.seq != 2 {
		t.Errorf("got address %d seq %d", got.address, got.seq)
	}
}

func TestFrameReaderResync(t *testing.T) {
	p := &packet{address: 9, seq: 3, useCRC: true, payload: []byte{cmdID, 0}}
	raw := encodePacket(p, true)

	var r frameReader
	// leading line noise, then mark filler, then the frame
	r.feed([]byte{0x00, 0x12, 0xab, frameMark, frameMark})
	r.feed(raw)
	got, err := r.next()
	if err != nil {
		t.Fatalf("next() = %v, want frame after noise", err)
	}
	if got.address != 9 {
		t.Errorf("address = %d, want 9", got.address)
	}
}

func TestFrameReaderBogusLength(t *testing.T) {
	// An SOM followed by an absurd length must be dropped so that the real
	// frame behind it still parses.
	p := &packet{address: 2, seq: 1, useCRC: true, payload: []byte{cmdPoll}}
	var r frameReader
	r.feed([]byte{frameSOM, 0x02, 0xff, 0xff, 0x10})
	r.feed(encodePacket(p, false))

	if _, err := r.next(); !errors.Is(err, errFrameMalformed) {
		t.Fatalf("err = %v, want malformed", err)
	}
	got, err := r.next()
	if err != nil {
		t.Fatalf("next() after resync = %v", err)
	}
	if got.address != 2 || got.seq != 1 {
		t.Errorf("got address %d seq %d after resync", got.address, got.seq)
	}
}

func TestFrameReaderBadIntegrity(t *testing.T) {
	p := &packet{address: 4, seq: 6, useCRC: true, payload: []byte{cmdCap, 0}}
	raw := encodePacket(p, true)
	for i := 1; i < len(raw); i++ { // skip SOM itself
		var r frameReader
		tampered := append([]byte{}, raw...)
		tampered[i] ^= 0x40
		r.feed(tampered)
		if _, err := r.next(); err == nil {
			t.Errorf("byte %d flipped: frame accepted", i)
		}
	}
}

func TestSequenceCycle(t *testing.T) {
	seq := uint8(seqReset)
	seen := map[uint8]bool{}
	for i := 0; i < 30; i++ {
		seq = nextSeq(seq)
		if seq == seqReset {
			t.Fatal("nextSeq produced the reset value")
		}
		if seq > seqMax {
			t.Fatalf("nextSeq produced %d", seq)
		}
		seen[seq] = true
		if prevSeq(nextSeq(seq)) != seq {
			t.Fatalf("prevSeq(nextSeq(%d)) != %d", seq, seq)
		}
	}
	if len(seen) != int(seqMax) {
		t.Errorf("cycle visited %d values, want %d", len(seen), seqMax)
	}
}

func TestMaxPayload(t *testing.T) {
	if maxPayload(true) != frameMaxLen-frameHeaderLen-2 {
		t.Errorf("maxPayload(crc) = %d", maxPayload(true))
	}
	if maxPayload(false) != frameMaxLen-frameHeaderLen-1 {
		t.Errorf("maxPayload(checksum) = %d", maxPayload(false))
	}
	p := &packet{address: 1, seq: 1, useCRC: true, payload: make([]byte, maxPayload(true))}
	if got := len(encodePacket(p, true)); got != frameMaxLen {
		t.Errorf("full frame is %d bytes, want %d", got, frameMaxLen)
	}
}
