package osdp

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"

	"golang.org/x/crypto/cryptobyte"
)

// scbkDefault is SCBK-D, the well known default key used for exactly one
// provisioning handshake when a PD has no key material (install mode).
var scbkDefault = [SCBKLen]byte{
	0x30, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37,
	0x38, 0x39, 0x3a, 0x3b, 0x3c, 0x3d, 0x3e, 0x3f,
}

const (
	scNonceLen = 8 // RND.A / RND.B
	scIDLen    = 8 // CP and PD identity blobs in the handshake
	scMacLen   = 4 // truncated per-frame MAC trailer
)

// Secure channel session status.
type scStatus int

const (
	scInactive scStatus = iota
	scHandshake
	scActive
)

// Key derivation labels. The first byte separates the key classes, the
// second is a domain separator against other CMAC uses of the base key.
var (
	scLabelEnc = []byte{0x01, 0x82}
	scLabelMac = []byte{0x01, 0x01}
)

// cmacAES computes the AES-128 CMAC (RFC 4493) of msg under key.
//
// Implemented in-repo: the ecosystem carries no maintained CMAC package and
// the construction is a page of code over crypto/aes.
func cmacAES(key, msg []byte) [16]byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		// key sizes are fixed at 16 bytes by construction
		panic("osdp: " + err.Error())
	}

	// subkey generation
	var l [16]byte
	block.Encrypt(l[:], l[:])
	k1 := cmacShift(l)
	k2 := cmacShift(k1)

	n := (len(msg) + 15) / 16
	var last [16]byte
	if n > 0 && len(msg)%16 == 0 {
		copy(last[:], msg[len(msg)-16:])
		for i := range last {
			last[i] ^= k1[i]
		}
		msg = msg[:len(msg)-16]
	} else {
		rem := msg
		if n > 1 {
			rem = msg[(n-1)*16:]
			msg = msg[:(n-1)*16]
		} else {
			msg = nil
		}
		copy(last[:], rem)
		last[len(rem)] = 0x80
		for i := range last {
			last[i] ^= k2[i]
		}
	}

	var x [16]byte
	for len(msg) > 0 {
		for i := 0; i < 16; i++ {
			x[i] ^= msg[i]
		}
		block.Encrypt(x[:], x[:])
		msg = msg[16:]
	}
	for i := range x {
		x[i] ^= last[i]
	}
	block.Encrypt(x[:], x[:])
	return x
}

// cmacShift is the doubling step of CMAC subkey generation in GF(2^128).
func cmacShift(in [16]byte) [16]byte {
	var out [16]byte
	var carry byte
	for i := 15; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	if carry != 0 {
		out[15] ^= 0x87
	}
	return out
}

// secureSession holds the per-PD secure channel state. It is mutated only
// by the handshake and packet protection paths and reset to inactive on any
// MAC failure, timeout or explicit re-key.
type secureSession struct {
	status scStatus

	scbk       [SCBKLen]byte
	defaultKey bool // session rides on SCBK-D (install mode)

	rndA [scNonceLen]byte // CP nonce
	rndB [scNonceLen]byte // PD nonce
	cpID [scIDLen]byte

	sEnc [16]byte // session encryption key
	sMac [16]byte // session MAC key
	rMac [16]byte // rolling MAC, chains frame IVs and MAC inputs
}

// newSecureSession prepares session state from the PD's configured base
// key. A nil key selects SCBK-D and marks the session as install mode.
func newSecureSession(scbk *[SCBKLen]byte) *secureSession {
	s := &secureSession{}
	if scbk == nil {
		s.scbk = scbkDefault
		s.defaultKey = true
	} else {
		s.scbk = *scbk
	}
	return s
}

// reset invalidates the session. Key material derived for the old session
// is cleared; the base key survives for the next handshake.
func (s *secureSession) reset() {
	s.status = scInactive
	s.rndA = [scNonceLen]byte{}
	s.rndB = [scNonceLen]byte{}
	s.sEnc = [16]byte{}
	s.sMac = [16]byte{}
	s.rMac = [16]byte{}
}

// rekey replaces the base key (KEYSET) and invalidates the session.
func (s *secureSession) rekey(key [SCBKLen]byte) {
	s.scbk = key
	s.defaultKey = false
	s.reset()
}

// derive computes the session keys from the base key and both nonces. Both
// sides call this independently and must arrive at identical keys.
func (s *secureSession) derive() {
	var seed [2 + 2*scNonceLen]byte
	copy(seed[2:], s.rndA[:])
	copy(seed[2+scNonceLen:], s.rndB[:])

	copy(seed[:2], scLabelEnc)
	s.sEnc = cmacAES(s.scbk[:], seed[:])
	copy(seed[:2], scLabelMac)
	s.sMac = cmacAES(s.scbk[:], seed[:])

	var chainSeed [2 * scNonceLen]byte
	copy(chainSeed[:], s.rndA[:])
	copy(chainSeed[scNonceLen:], s.rndB[:])
	s.rMac = cmacAES(s.sEnc[:], chainSeed[:])
}

// clientCryptogram is the PD's proof of base key possession, sent in the
// CCRYPT reply. The CP computes the same value to verify it.
func (s *secureSession) clientCryptogram() [16]byte {
	var m [2 * scNonceLen]byte
	copy(m[:], s.rndA[:])
	copy(m[scNonceLen:], s.rndB[:])
	return cmacAES(s.sMac[:], m[:])
}

// cpCryptogram is the CP's proof, sent in the SCRYPT command.
func (s *secureSession) cpCryptogram() [16]byte {
	var m [2 * scNonceLen]byte
	copy(m[:], s.rndB[:])
	copy(m[scNonceLen:], s.rndA[:])
	return cmacAES(s.sMac[:], m[:])
}

// initialReplyMac confirms session establishment in the RMAC-I reply.
func (s *secureSession) initialReplyMac() [16]byte {
	cg := s.cpCryptogram()
	return cmacAES(s.sMac[:], cg[:])
}

// packetIV builds the CTR counter block for one frame. The top of the
// block comes from the rolling MAC, so the keystream never repeats when
// the 4-bit sequence number wraps; direction and sequence number further
// separate the two halves of one exchange.
func (s *secureSession) packetIV(seq uint8, reply bool) [16]byte {
	var iv [16]byte
	copy(iv[:12], s.rMac[:12])
	if reply {
		iv[12] = 0x80
	}
	iv[13] = seq
	// iv[14:16] left zero: CTR block counter space within one frame
	return iv
}

// headerBytes reconstructs the five frame header bytes the MAC covers.
func headerBytes(p *packet, payloadLen int) [frameHeaderLen]byte {
	flen := frameHeaderLen + payloadLen + 2 // secure frames always use CRC
	addr := p.address
	if p.reply {
		addr |= replyAddressBit
	}
	ctrl := p.seq&ctrlSeqMask | ctrlUseCRC | ctrlSecure
	var h [frameHeaderLen]byte
	h[0] = frameSOM
	h[1] = addr
	binary.LittleEndian.PutUint16(h[2:4], uint16(flen))
	h[4] = ctrl
	return h
}

// macMessage assembles the MAC input for one frame: the previous frame's
// MAC, the header bytes and the ciphertext. Carrying the chain value makes
// a replayed frame fail verification once the session has moved past it.
func macMessage(chain [16]byte, h [frameHeaderLen]byte, ct []byte) []byte {
	m := make([]byte, 0, len(chain)+frameHeaderLen+len(ct))
	m = append(m, chain[:]...)
	m = append(m, h[:]...)
	return append(m, ct...)
}

// seal encrypts p's payload in place, appends the MAC trailer and advances
// the rolling MAC. Only valid on an active session. A sealed frame must not
// be re-sealed for retransmission; resend the stored bytes.
func (s *secureSession) seal(p *packet) error {
	if s.status != scActive {
		return errSCDisabled
	}
	block, _ := aes.NewCipher(s.sEnc[:])
	iv := s.packetIV(p.seq, p.reply)

	ct := make([]byte, len(p.payload), len(p.payload)+scMacLen)
	cipher.NewCTR(block, iv[:]).XORKeyStream(ct, p.payload)

	h := headerBytes(p, len(ct)+scMacLen)
	mac := cmacAES(s.sMac[:], macMessage(s.rMac, h, ct))
	s.rMac = mac

	p.payload = append(ct, mac[:scMacLen]...)
	p.secure = true
	p.useCRC = true
	return nil
}

// open verifies and decrypts a sealed packet in place, advancing the
// rolling MAC on success. Duplicate frames must be filtered out before
// open is called. Any MAC failure invalidates the session; the caller
// must force a re-handshake.
func (s *secureSession) open(p *packet) error {
	if s.status != scActive {
		return errSCDisabled
	}
	if len(p.payload) < scMacLen+1 {
		s.reset()
		return errSCMac
	}
	ct := p.payload[:len(p.payload)-scMacLen]
	trailer := p.payload[len(p.payload)-scMacLen:]

	h := headerBytes(p, len(p.payload))
	mac := cmacAES(s.sMac[:], macMessage(s.rMac, h, ct))
	if subtle.ConstantTimeCompare(mac[:scMacLen], trailer) != 1 {
		s.reset()
		return errSCMac
	}

	block, _ := aes.NewCipher(s.sEnc[:])
	iv := s.packetIV(p.seq, p.reply)
	pt := make([]byte, len(ct))
	cipher.NewCTR(block, iv[:]).XORKeyStream(pt, ct)
	p.payload = pt
	s.rMac = mac
	return nil
}

// Handshake payloads.

// buildChallenge creates the CHLNG payload: the CP's identity blob and a
// fresh RND.A. Called on the CP side; starts a new handshake.
func (s *secureSession) buildChallenge() ([]byte, error) {
	s.reset()
	if _, err := rand.Read(s.rndA[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(s.cpID[:]); err != nil {
		return nil, err
	}
	s.status = scHandshake

	var b cryptobyte.Builder
	b.AddUint8(cmdChallenge)
	b.AddBytes(s.cpID[:])
	b.AddBytes(s.rndA[:])
	return b.Bytes()
}

// acceptChallenge processes a CHLNG on the PD side and produces the CCRYPT
// reply payload. The PD derives session keys speculatively; they become
// live only after the CP's cryptogram checks out.
func (s *secureSession) acceptChallenge(data []byte, pdUID [scIDLen]byte) ([]byte, error) {
	var str = cryptobyte.String(data)
	if !str.CopyBytes(s.cpID[:]) || !str.CopyBytes(s.rndA[:]) || !str.Empty() {
		return nil, errFrameMalformed
	}
	if _, err := rand.Read(s.rndB[:]); err != nil {
		return nil, err
	}
	s.derive()
	s.status = scHandshake

	cg := s.clientCryptogram()
	var b cryptobyte.Builder
	b.AddUint8(replyCCrypt)
	b.AddBytes(pdUID[:])
	b.AddBytes(s.rndB[:])
	b.AddBytes(cg[:])
	return b.Bytes()
}

// acceptCCrypt verifies the PD's cryptogram on the CP side and produces the
// SCRYPT payload. A mismatch resets the session without disclosing why.
func (s *secureSession) acceptCCrypt(data []byte) ([]byte, error) {
	var pdUID [scIDLen]byte
	var cg [16]byte
	str := cryptobyte.String(data)
	if !str.CopyBytes(pdUID[:]) || !str.CopyBytes(s.rndB[:]) ||
		!str.CopyBytes(cg[:]) || !str.Empty() {
		s.reset()
		return nil, errFrameMalformed
	}
	s.derive()
	want := s.clientCryptogram()
	if subtle.ConstantTimeCompare(want[:], cg[:]) != 1 {
		s.reset()
		return nil, errSCCryptogram
	}

	cp := s.cpCryptogram()
	var b cryptobyte.Builder
	b.AddUint8(cmdSCrypt)
	b.AddBytes(cp[:])
	return b.Bytes()
}

// acceptSCrypt verifies the CP's cryptogram on the PD side, activates the
// session and produces the RMAC-I reply payload.
func (s *secureSession) acceptSCrypt(data []byte) ([]byte, error) {
	var cg [16]byte
	str := cryptobyte.String(data)
	if !str.CopyBytes(cg[:]) || !str.Empty() {
		s.reset()
		return nil, errFrameMalformed
	}
	want := s.cpCryptogram()
	if subtle.ConstantTimeCompare(want[:], cg[:]) != 1 {
		s.reset()
		return nil, errSCCryptogram
	}
	s.status = scActive

	rmac := s.initialReplyMac()
	s.rMac = rmac
	var b cryptobyte.Builder
	b.AddUint8(replyRMacI)
	b.AddBytes(rmac[:])
	return b.Bytes()
}

// acceptRMacI verifies the PD's session confirmation on the CP side and
// activates the session.
func (s *secureSession) acceptRMacI(data []byte) error {
	var rmac [16]byte
	str := cryptobyte.String(data)
	if !str.CopyBytes(rmac[:]) || !str.Empty() {
		s.reset()
		return errFrameMalformed
	}
	want := s.initialReplyMac()
	if !bytes.Equal(want[:], rmac[:]) {
		s.reset()
		return errSCCryptogram
	}
	s.rMac = want
	s.status = scActive
	return nil
}
