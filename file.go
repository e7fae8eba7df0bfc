package osdp

import (
	"golang.org/x/crypto/cryptobyte"
)

// FileOps is the file access collaborator for the file transfer
// sub-protocol. The engine never touches files itself; it only sequences
// offsets and sizes through this interface.
//
// ReadAt and WriteAt follow the io.ReaderAt/io.WriterAt contracts.
type FileOps interface {
	// Open prepares the file with the pre-agreed ID for a transfer and
	// returns its size. The source side opens read-only, the sink side
	// opens for writing (size is advisory there).
	Open(id int, readOnly bool) (size int, err error)

	// ReadAt reads from the open file at the given offset.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes to the open file at the given offset.
	WriteAt(p []byte, off int64) (int, error)

	// Close releases the open file. Called on completion, cancellation or
	// error.
	Close() error
}

// File transfer operation codes, carried as the first payload byte of a
// file transfer command.
const (
	fileOpStart  uint8 = 0x01
	fileOpData   uint8 = 0x02
	fileOpCancel uint8 = 0x03
)

// FTSTAT status codes.
const (
	ftStatusOK   uint16 = 0x0000
	ftStatusDone uint16 = 0x0001
	ftStatusErr  uint16 = 0xffff
)

// defaultFragSize is the fragment size a PD advertises when it has no
// ReceiveBufferSize capability configured.
const defaultFragSize = 128

// File transfer session states.
type ftState int

const (
	ftIdle ftState = iota
	ftOpen
	ftTransferring
	ftComplete
	ftFailed
)

// fileSession is the per-PD file transfer state, used on both sides: the
// CP reads from its FileOps and sends fragments, the PD writes received
// fragments through its own.
type fileSession struct {
	state    ftState
	id       int32
	flags    uint32
	size     int
	offset   int
	fragSize int
	fops     FileOps
}

// active reports whether the session currently owns the poll slot.
func (f *fileSession) active() bool {
	return f.state == ftOpen || f.state == ftTransferring
}

// abort releases the file handle and marks the session failed.
func (f *fileSession) abort() {
	if f.state == ftOpen || f.state == ftTransferring {
		_ = f.fops.Close()
	}
	f.state = ftFailed
}

// finish releases the file handle after a completed transfer.
func (f *fileSession) finish() {
	_ = f.fops.Close()
	f.state = ftComplete
}

// status returns the (size, offset) progress pair of the transfer.
func (f *fileSession) status() (int, int, error) {
	if f.state == ftIdle {
		return 0, 0, ErrFileTransfer
	}
	return f.size, f.offset, nil
}

// buildFileStart builds the start command payload announcing file ID and
// total size.
func buildFileStart(id int32, flags uint32, size int) []byte {
	var b cryptobyte.Builder
	b.AddUint8(cmdFileTransfer)
	b.AddUint8(fileOpStart)
	addUint32LE(&b, uint32(id))
	addUint32LE(&b, flags)
	addUint32LE(&b, uint32(size))
	out, _ := b.Bytes()
	return out
}

// buildFileData builds one data fragment at an explicit offset.
func buildFileData(id int32, offset int, frag []byte) []byte {
	var b cryptobyte.Builder
	b.AddUint8(cmdFileTransfer)
	b.AddUint8(fileOpData)
	addUint32LE(&b, uint32(id))
	addUint32LE(&b, uint32(offset))
	b.AddBytes(frag)
	out, _ := b.Bytes()
	return out
}

// buildFileCancel builds an explicit transfer abort.
func buildFileCancel(id int32) []byte {
	var b cryptobyte.Builder
	b.AddUint8(cmdFileTransfer)
	b.AddUint8(fileOpCancel)
	addUint32LE(&b, uint32(id))
	out, _ := b.Bytes()
	return out
}

// fileCommand is a decoded file transfer command payload.
type fileCommand struct {
	op     uint8
	id     int32
	flags  uint32 // start only
	size   int    // start only
	offset int    // data only
	data   []byte // data only
}

func decodeFileCommand(data []byte) (*fileCommand, error) {
	var fc fileCommand
	var id uint32
	s := cryptobyte.String(data)
	if !s.ReadUint8(&fc.op) || !readUint32LE(&s, &id) {
		return nil, errFrameMalformed
	}
	fc.id = int32(id)
	switch fc.op {
	case fileOpStart:
		var size uint32
		if !readUint32LE(&s, &fc.flags) || !readUint32LE(&s, &size) || !s.Empty() {
			return nil, errFrameMalformed
		}
		fc.size = int(size)
	case fileOpData:
		var off uint32
		if !readUint32LE(&s, &off) {
			return nil, errFrameMalformed
		}
		fc.offset = int(off)
		fc.data = append([]byte(nil), s...)
	case fileOpCancel:
		if !s.Empty() {
			return nil, errFrameMalformed
		}
	default:
		return nil, errFrameMalformed
	}
	return &fc, nil
}

// buildFTStat builds the PD's transfer status reply: current status, the
// largest fragment the PD accepts, and its cumulative received offset.
func buildFTStat(status uint16, rxSize uint16, offset int) []byte {
	var b cryptobyte.Builder
	b.AddUint8(replyFTStat)
	addUint16LE(&b, status)
	addUint16LE(&b, rxSize)
	addUint32LE(&b, uint32(offset))
	out, _ := b.Bytes()
	return out
}

// ftStat is a decoded FTSTAT reply.
type ftStat struct {
	status uint16
	rxSize uint16
	offset int
}

func decodeFTStat(data []byte) (*ftStat, error) {
	var st ftStat
	var off uint32
	s := cryptobyte.String(data)
	if !readUint16LE(&s, &st.status) || !readUint16LE(&s, &st.rxSize) ||
		!readUint32LE(&s, &off) || !s.Empty() {
		return nil, errFrameMalformed
	}
	st.offset = int(off)
	return &st, nil
}
