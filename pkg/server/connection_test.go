package server

import (
	"context"
	encbinary "encoding/binary"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mevdschee/bincache/pkg/cache"
	"github.com/mevdschee/bincache/pkg/protocol/binary"
)

// buildSetPacket assembles a raw wire-format Set request, mirroring the
// protocol package's own decoder test fixtures since requests are never
// built through the (response-only) Encoder.
func buildSetPacket(key, value string) []byte {
	extras := make([]byte, 8)
	body := append(append([]byte{}, extras...), append([]byte(key), []byte(value)...)...)

	hdr := make([]byte, binary.HeaderLen)
	hdr[0] = byte(binary.MagicRequest)
	hdr[1] = byte(binary.OpSet)
	encbinary.BigEndian.PutUint16(hdr[2:4], uint16(len(key)))
	hdr[4] = uint8(len(extras))
	encbinary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	return append(hdr, body...)
}

func TestConnServeRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	dispatcher := NewDispatcher(cache.NewShardedEngine(cache.NewManualClock(), 2))
	conn := NewConn(server, dispatcher, ConnConfig{ItemSizeLimit: 1 << 20}, zap.NewNop())

	finished := make(chan struct{})
	go func() {
		conn.Serve(context.Background())
		close(finished)
	}()

	packet := buildSetPacket("foo", "bar")
	go func() {
		client.Write(packet)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	header := make([]byte, binary.HeaderLen)
	if _, err := readFull(client, header); err != nil {
		t.Fatalf("read response header: %v", err)
	}
	if header[0] != byte(binary.MagicResponse) {
		t.Errorf("response magic = %#x, want %#x", header[0], binary.MagicResponse)
	}
	status := encbinary.BigEndian.Uint16(header[6:8])
	if status != uint16(binary.StatusSuccess) {
		t.Errorf("status = %#x, want success", status)
	}

	select {
	case <-finished:
		t.Fatal("Serve returned after a single Set, want it to keep serving")
	default:
	}
}

func TestConnServeClosesOnQuit(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	dispatcher := NewDispatcher(cache.NewShardedEngine(cache.NewManualClock(), 2))
	conn := NewConn(server, dispatcher, ConnConfig{ItemSizeLimit: 1 << 20}, zap.NewNop())

	finished := make(chan struct{})
	go func() {
		conn.Serve(context.Background())
		close(finished)
	}()

	hdr := make([]byte, binary.HeaderLen)
	hdr[0] = byte(binary.MagicRequest)
	hdr[1] = byte(binary.OpQuit)
	go func() {
		client.Write(hdr)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := make([]byte, binary.HeaderLen)
	if _, err := readFull(client, resp); err != nil {
		t.Fatalf("read quit response: %v", err)
	}

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Quit")
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
