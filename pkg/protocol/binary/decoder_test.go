package binary

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildPacket(t *testing.T, opcode Opcode, extras, key, value []byte, cas uint64) []byte {
	t.Helper()
	body := append(append(append([]byte{}, extras...), key...), value...)
	var hdr [headerLen]byte
	hdr[0] = byte(MagicRequest)
	hdr[1] = byte(opcode)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(key)))
	hdr[4] = uint8(len(extras))
	hdr[5] = dataTypeRawBytes
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	binary.BigEndian.PutUint64(hdr[16:24], cas)
	return append(hdr[:], body...)
}

func TestDecodeGet(t *testing.T) {
	packet := buildPacket(t, OpGet, nil, []byte("mykey"), nil, 0)
	req, err := NewDecoder(bytes.NewReader(packet), 1<<20).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.Opcode() != OpGet || string(req.Key) != "mykey" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestDecodeSet(t *testing.T) {
	extras := make([]byte, 8)
	binary.BigEndian.PutUint32(extras[0:4], 0xCAFE)
	binary.BigEndian.PutUint32(extras[4:8], 300)
	packet := buildPacket(t, OpSet, extras, []byte("k"), []byte("value"), 7)

	req, err := NewDecoder(bytes.NewReader(packet), 1<<20).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.Flags != 0xCAFE || req.Expiration != 300 || string(req.Value) != "value" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Header.CAS != 7 {
		t.Fatalf("expected cas 7, got %d", req.Header.CAS)
	}
}

func TestDecodeIncrDecr(t *testing.T) {
	extras := make([]byte, 20)
	binary.BigEndian.PutUint64(extras[0:8], 5)
	binary.BigEndian.PutUint64(extras[8:16], 100)
	binary.BigEndian.PutUint32(extras[16:20], 0)
	packet := buildPacket(t, OpIncrement, extras, []byte("counter"), nil, 0)

	req, err := NewDecoder(bytes.NewReader(packet), 1<<20).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.Delta != 5 || req.Initial != 100 {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	packet := buildPacket(t, OpGet, nil, []byte("k"), nil, 0)
	packet[0] = 0x00
	if _, err := NewDecoder(bytes.NewReader(packet), 1<<20).Decode(); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeItemTooLarge(t *testing.T) {
	extras := make([]byte, 8)
	value := make([]byte, 1024)
	packet := buildPacket(t, OpSet, extras, []byte("k"), value, 0)

	req, err := NewDecoder(bytes.NewReader(packet), 16).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !req.ItemTooLarge() {
		t.Fatalf("expected ItemTooLarge request, got opcode 0x%02x", req.Opcode())
	}
}

func TestDecodeRejectsEmptyKey(t *testing.T) {
	setExtras := make([]byte, 8)
	incrExtras := make([]byte, 20)

	cases := []struct {
		name   string
		opcode Opcode
		extras []byte
		value  []byte
	}{
		{"Set", OpSet, setExtras, []byte("v")},
		{"Add", OpAdd, setExtras, []byte("v")},
		{"Replace", OpReplace, setExtras, []byte("v")},
		{"Append", OpAppend, nil, []byte("v")},
		{"Prepend", OpPrepend, nil, []byte("v")},
		{"Increment", OpIncrement, incrExtras, nil},
		{"Decrement", OpDecrement, incrExtras, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			packet := buildPacket(t, tc.opcode, tc.extras, nil, tc.value, 0)
			if _, err := NewDecoder(bytes.NewReader(packet), 1<<20).Decode(); err == nil {
				t.Fatalf("expected error for empty key on opcode 0x%02x", tc.opcode)
			}
		})
	}
}

func TestDecodeNoopHasNoKey(t *testing.T) {
	packet := buildPacket(t, OpNoop, nil, nil, nil, 0)
	req, err := NewDecoder(bytes.NewReader(packet), 1<<20).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.Opcode() != OpNoop {
		t.Fatalf("unexpected opcode 0x%02x", req.Opcode())
	}
}
