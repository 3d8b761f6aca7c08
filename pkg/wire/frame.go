package wire

import (
	"encoding/binary"

	"github.com/drawspace/drawsync/pkg/errors"
)

// Frames on the wire are a big-endian uint32 payload length followed by
// exactly that many payload bytes. Payloads are opaque here; one frame
// carries one encoded event.

const FrameHeaderSize = 4

const DefaultMaxFrameSize = 16 * 1024 * 1024

// AppendFrame appends one complete frame for payload to dst and returns the
// extended slice. The payload bytes are never modified.
func AppendFrame(dst []byte, payload []byte) []byte {
	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	dst = append(dst, header[:]...)
	return append(dst, payload...)
}

// EncodeFrame returns a fresh buffer holding one complete frame for payload.
func EncodeFrame(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, FrameHeaderSize+len(payload)), payload)
}

// FrameDecoder turns an inbound byte stream into a sequence of complete
// payloads, buffering incomplete tails across reads. A zero-byte read from
// the socket signals peer close and must be handled by the caller - it is
// not fed here.
type FrameDecoder struct {
	MaxFrameSize int

	buf []byte
}

func CreateFrameDecoder(maxFrameSize int) *FrameDecoder {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &FrameDecoder{
		MaxFrameSize: maxFrameSize,
		buf:          nil,
	}
}

// Feed consumes the next chunk of the stream and returns every payload that
// is now complete, in arrival order. An oversized length prefix poisons the
// stream and returns a FrameTooLarge error; the connection should be closed,
// since the decoder can no longer find a frame boundary.
func (d *FrameDecoder) Feed(chunk []byte) ([][]byte, error) {
	d.buf = append(d.buf, chunk...)

	var payloads [][]byte
	for {
		if len(d.buf) < FrameHeaderSize {
			return payloads, nil
		}

		payloadLen := int(binary.BigEndian.Uint32(d.buf[:FrameHeaderSize]))
		if payloadLen > d.MaxFrameSize {
			return payloads, &errors.FrameTooLarge{
				FrameSize: payloadLen,
				MaxSize:   d.MaxFrameSize,
			}
		}

		if len(d.buf) < FrameHeaderSize+payloadLen {
			return payloads, nil
		}

		// Copy out - d.buf is reused across reads.
		payload := make([]byte, payloadLen)
		copy(payload, d.buf[FrameHeaderSize:FrameHeaderSize+payloadLen])
		payloads = append(payloads, payload)

		d.buf = d.buf[FrameHeaderSize+payloadLen:]
	}
}

// PendingBytes reports how many buffered bytes are waiting for the rest of
// their frame.
func (d *FrameDecoder) PendingBytes() int {
	return len(d.buf)
}
