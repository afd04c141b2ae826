package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidHeader is returned when a packet's fixed header fails the
// structural checks every request must satisfy before its body is parsed.
var ErrInvalidHeader = errors.New("binary: invalid request header")

const maxKeyLength = 250
const maxExtrasLength = 20

// Decoder reads successive request packets off a connection. It holds no
// buffered lookahead of its own; callers typically wrap conn in a
// *bufio.Reader so short reads don't make a syscall per field.
type Decoder struct {
	r             io.Reader
	itemSizeLimit uint32
}

// NewDecoder returns a decoder that rejects any body larger than
// itemSizeLimit by draining and reporting it, rather than buffering it.
func NewDecoder(r io.Reader, itemSizeLimit uint32) *Decoder {
	return &Decoder{r: r, itemSizeLimit: itemSizeLimit}
}

// Decode reads one full request packet, blocking until the header and body
// are available or the underlying reader errors (including io.EOF on a
// clean connection close between packets).
func (d *Decoder) Decode() (*Request, error) {
	header, err := d.readHeader()
	if err != nil {
		return nil, err
	}

	if header.BodyLength > d.itemSizeLimit {
		if err := d.drain(int64(header.BodyLength)); err != nil {
			return nil, err
		}
		return &Request{Header: header, TooLarge: true}, nil
	}

	body, err := d.readExact(int(header.BodyLength))
	if err != nil {
		return nil, err
	}

	return d.parseBody(header, body)
}

func (d *Decoder) readHeader() (RequestHeader, error) {
	raw, err := d.readExact(headerLen)
	if err != nil {
		return RequestHeader{}, err
	}

	h := RequestHeader{
		Magic:        Magic(raw[0]),
		Opcode:       Opcode(raw[1]),
		KeyLength:    binary.BigEndian.Uint16(raw[2:4]),
		ExtrasLength: raw[4],
		DataType:     raw[5],
		VBucketID:    binary.BigEndian.Uint16(raw[6:8]),
		BodyLength:   binary.BigEndian.Uint32(raw[8:12]),
		Opaque:       binary.BigEndian.Uint32(raw[12:16]),
		CAS:          binary.BigEndian.Uint64(raw[16:24]),
	}

	if err := validateHeader(h); err != nil {
		return RequestHeader{}, err
	}
	return h, nil
}

func validateHeader(h RequestHeader) error {
	if h.Magic != MagicRequest {
		return fmt.Errorf("%w: magic 0x%02x", ErrInvalidHeader, h.Magic)
	}
	if h.Opcode >= opCodeMax {
		return fmt.Errorf("%w: opcode 0x%02x", ErrInvalidHeader, h.Opcode)
	}
	if h.DataType != dataTypeRawBytes {
		return fmt.Errorf("%w: data type 0x%02x", ErrInvalidHeader, h.DataType)
	}
	if h.ExtrasLength > maxExtrasLength {
		return fmt.Errorf("%w: extras length %d", ErrInvalidHeader, h.ExtrasLength)
	}
	if h.KeyLength > maxKeyLength {
		return fmt.Errorf("%w: key length %d", ErrInvalidHeader, h.KeyLength)
	}
	if h.BodyLength < uint32(h.KeyLength)+uint32(h.ExtrasLength) {
		return fmt.Errorf("%w: body length %d shorter than key+extras", ErrInvalidHeader, h.BodyLength)
	}
	return nil
}

// parseBody splits body into extras/key/value according to opcode and
// fills in a Request. body's length has already been checked to equal
// header.BodyLength by the caller.
func (d *Decoder) parseBody(h RequestHeader, body []byte) (*Request, error) {
	key := body[h.ExtrasLength : uint32(h.ExtrasLength)+uint32(h.KeyLength)]
	value := body[uint32(h.ExtrasLength)+uint32(h.KeyLength):]
	extras := body[:h.ExtrasLength]

	switch h.Opcode {
	case OpGet, OpGetQ, OpGetK, OpGetKQ, OpDelete, OpDeleteQ,
		OpQuit, OpQuitQ, OpNoop, OpVersion, OpStat:
		if len(key) == 0 && h.Opcode != OpQuit && h.Opcode != OpQuitQ &&
			h.Opcode != OpNoop && h.Opcode != OpVersion && h.Opcode != OpStat {
			return nil, fmt.Errorf("%w: missing key for opcode 0x%02x", ErrInvalidHeader, h.Opcode)
		}
		return &Request{Header: h, Key: key}, nil

	case OpSet, OpSetQ, OpAdd, OpAddQ, OpReplace, OpReplaceQ:
		if len(extras) != 8 {
			return nil, fmt.Errorf("%w: set extras length %d", ErrInvalidHeader, len(extras))
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("%w: missing key for opcode 0x%02x", ErrInvalidHeader, h.Opcode)
		}
		return &Request{
			Header:     h,
			Key:        key,
			Value:      value,
			Flags:      binary.BigEndian.Uint32(extras[0:4]),
			Expiration: binary.BigEndian.Uint32(extras[4:8]),
		}, nil

	case OpAppend, OpAppendQ, OpPrepend, OpPrependQ:
		if len(key) == 0 {
			return nil, fmt.Errorf("%w: missing key for opcode 0x%02x", ErrInvalidHeader, h.Opcode)
		}
		return &Request{Header: h, Key: key, Value: value}, nil

	case OpIncrement, OpIncrementQ, OpDecrement, OpDecrementQ:
		if len(extras) != 20 {
			return nil, fmt.Errorf("%w: incr/decr extras length %d", ErrInvalidHeader, len(extras))
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("%w: missing key for opcode 0x%02x", ErrInvalidHeader, h.Opcode)
		}
		return &Request{
			Header:     h,
			Key:        key,
			Delta:      binary.BigEndian.Uint64(extras[0:8]),
			Initial:    binary.BigEndian.Uint64(extras[8:16]),
			Expiration: binary.BigEndian.Uint32(extras[16:20]),
		}, nil

	case OpFlush, OpFlushQ:
		var expiration uint32
		if len(extras) == 4 {
			expiration = binary.BigEndian.Uint32(extras[0:4])
		}
		return &Request{Header: h, Expiration: expiration}, nil

	case OpTouch, OpGetAndTouch, OpGetAndTouchQ, OpGetAndTouchK, OpGetAndTouchKQ:
		if len(extras) != 4 {
			return nil, fmt.Errorf("%w: touch extras length %d", ErrInvalidHeader, len(extras))
		}
		return &Request{
			Header:     h,
			Key:        key,
			Expiration: binary.BigEndian.Uint32(extras[0:4]),
		}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported opcode 0x%02x", ErrInvalidHeader, h.Opcode)
	}
}

func (d *Decoder) readExact(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Decoder) drain(n int64) error {
	_, err := io.CopyN(io.Discard, d.r, n)
	return err
}
