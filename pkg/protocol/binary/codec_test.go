package binary

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

var errShortResponse = errors.New("binary: response shorter than header")

// TestRequestRoundTrip exercises the invariant that decoding a request and
// re-encoding an equivalent response preserves the opaque token and CAS
// (spec invariant: "opaque is echoed unchanged on every response").
func TestRequestRoundTrip(t *testing.T) {
	extras := make([]byte, 8)
	packet := buildPacket(t, OpSet, extras, []byte("roundtrip"), []byte("payload"), 0)

	req, err := NewDecoder(bytes.NewReader(packet), 1<<20).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	resp := NewResponse(req.Opcode(), req.Header.Opaque, 77)

	var out bytes.Buffer
	if err := NewEncoder(&out).Encode(&resp); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decodedResp, err := decodeResponseForTest(out.Bytes())
	if err != nil {
		t.Fatalf("decodeResponseForTest: %v", err)
	}
	if decodedResp.Opaque != req.Header.Opaque {
		t.Fatalf("opaque mismatch: got %d, want %d", decodedResp.Opaque, req.Header.Opaque)
	}
	if decodedResp.CAS != 77 {
		t.Fatalf("expected cas 77, got %d", decodedResp.CAS)
	}
}

// decodeResponseForTest is a minimal response-header reader used only to
// verify what Encoder actually wrote, independent of the Decoder (which only
// understands request headers).
func decodeResponseForTest(raw []byte) (ResponseHeader, error) {
	if len(raw) < headerLen {
		return ResponseHeader{}, errShortResponse
	}
	return ResponseHeader{
		Magic:        Magic(raw[0]),
		Opcode:       Opcode(raw[1]),
		KeyLength:    binary.BigEndian.Uint16(raw[2:4]),
		ExtrasLength: raw[4],
		DataType:     raw[5],
		Status:       Status(binary.BigEndian.Uint16(raw[6:8])),
		BodyLength:   binary.BigEndian.Uint32(raw[8:12]),
		Opaque:       binary.BigEndian.Uint32(raw[12:16]),
		CAS:          binary.BigEndian.Uint64(raw[16:24]),
	}, nil
}
