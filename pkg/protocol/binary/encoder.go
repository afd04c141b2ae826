package binary

import (
	"encoding/binary"
	"io"

	"github.com/valyala/bytebufferpool"
)

// Encoder serializes responses onto a connection. It reuses a pooled byte
// buffer per Encode call instead of allocating fresh scratch space for
// every packet, which matters under the connection-per-goroutine model
// where thousands of these run concurrently.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w for writing encoded responses.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes resp as a single framed packet: header, then extras
// (flags for a Get-family response), then key (GetK family only), then
// value/text/counter payload.
func (e *Encoder) Encode(resp *Response) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	extrasLen, bodyLen := resp.layout()
	resp.Header.ExtrasLength = extrasLen
	resp.Header.KeyLength = uint16(len(resp.Key))
	resp.Header.BodyLength = bodyLen
	resp.Header.DataType = dataTypeRawBytes

	writeHeader(buf, resp.Header)

	switch {
	case resp.Header.Status != StatusSuccess:
		// An error response always carries its message as a plain body,
		// never the opcode's normal extras/value shape — the original
		// opcode is preserved on the header, but the payload is the error
		// text regardless of which command failed.
		_, _ = buf.WriteString(resp.Text)
	case resp.Header.Opcode == OpGet || resp.Header.Opcode == OpGetQ ||
		resp.Header.Opcode == OpGetK || resp.Header.Opcode == OpGetKQ:
		var flagBytes [4]byte
		binary.BigEndian.PutUint32(flagBytes[:], resp.Flags)
		_, _ = buf.Write(flagBytes[:])
		if len(resp.Key) > 0 {
			_, _ = buf.Write(resp.Key)
		}
		_, _ = buf.Write(resp.Value)
	case resp.Header.Opcode == OpIncrement || resp.Header.Opcode == OpIncrementQ ||
		resp.Header.Opcode == OpDecrement || resp.Header.Opcode == OpDecrementQ:
		var counterBytes [8]byte
		binary.BigEndian.PutUint64(counterBytes[:], resp.Counter)
		_, _ = buf.Write(counterBytes[:])
	case resp.Header.Opcode == OpVersion:
		_, _ = buf.WriteString(resp.Text)
	default:
		if resp.Text != "" {
			_, _ = buf.WriteString(resp.Text)
		}
	}

	_, err := e.w.Write(buf.B)
	return err
}

// layout computes the extras and total body length a response will carry,
// so the header can be filled in before the body is appended. An error
// response (non-success status) always carries just its message, regardless
// of which opcode it's responding to — it never gets the opcode's normal
// extras.
func (r *Response) layout() (extrasLen uint8, bodyLen uint32) {
	if r.Header.Status != StatusSuccess {
		return 0, uint32(len(r.Text))
	}

	switch r.Header.Opcode {
	case OpGet, OpGetQ, OpGetK, OpGetKQ:
		extrasLen = 4
		bodyLen = uint32(extrasLen) + uint32(len(r.Key)) + uint32(len(r.Value))
	case OpIncrement, OpIncrementQ, OpDecrement, OpDecrementQ:
		bodyLen = 8
	case OpVersion:
		bodyLen = uint32(len(r.Text))
	default:
		bodyLen = uint32(len(r.Text))
	}
	return extrasLen, bodyLen
}

func writeHeader(buf *bytebufferpool.ByteBuffer, h ResponseHeader) {
	var hdr [headerLen]byte
	hdr[0] = byte(h.Magic)
	hdr[1] = byte(h.Opcode)
	binary.BigEndian.PutUint16(hdr[2:4], h.KeyLength)
	hdr[4] = h.ExtrasLength
	hdr[5] = h.DataType
	binary.BigEndian.PutUint16(hdr[6:8], uint16(h.Status))
	binary.BigEndian.PutUint32(hdr[8:12], h.BodyLength)
	binary.BigEndian.PutUint32(hdr[12:16], h.Opaque)
	binary.BigEndian.PutUint64(hdr[16:24], h.CAS)
	_, _ = buf.Write(hdr[:])
}
