package server

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"

	wire "github.com/mevdschee/bincache/pkg/protocol/binary"
)

// EventListener is the single-thread-per-worker runtime backend (C13): an
// event-driven server built on gnet, as an alternative to PooledListener's
// one-goroutine(-from-a-pool)-per-connection model. gnet hands every
// connection's readable events to a fixed number of event loops instead of
// blocking a goroutine per connection on a read, which matters at very high
// connection counts with mostly-idle clients.
type EventListener struct {
	cfg        ListenerConfig
	dispatcher *Dispatcher
	logger     *zap.Logger
	gnet.BuiltinEventEngine
}

// NewEventListener builds a gnet-backed listener ready to Run.
func NewEventListener(cfg ListenerConfig, dispatcher *Dispatcher, logger *zap.Logger) *EventListener {
	return &EventListener{cfg: cfg, dispatcher: dispatcher, logger: logger}
}

// Run starts the gnet event loops and blocks until ctx is canceled.
func (e *EventListener) Run(ctx context.Context) error {
	addr := "tcp://" + e.cfg.Addr
	if len(e.cfg.Addr) > 0 && e.cfg.Addr[0] == '/' {
		addr = "unix://" + e.cfg.Addr
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- gnet.Run(e, addr,
			gnet.WithMulticore(true),
			gnet.WithTCPNoDelay(gnet.TCPNoDelay),
			gnet.WithTCPKeepAlive(0),
		)
	}()

	select {
	case <-ctx.Done():
		return gnet.Stop(context.Background(), addr)
	case err := <-errCh:
		return err
	}
}

// OnBoot logs startup.
func (e *EventListener) OnBoot(eng gnet.Engine) gnet.Action {
	e.logger.Info("gnet engine booted", zap.String("addr", e.cfg.Addr),
		zap.Int64("max_connections", e.cfg.MaxConnections))
	return gnet.None
}

// OnTraffic decodes and dispatches as many complete frames as are already
// buffered for c, leaving any partial trailing frame for the next event.
func (e *EventListener) OnTraffic(c gnet.Conn) gnet.Action {
	for {
		header, err := c.Peek(wire.HeaderLen)
		if err != nil {
			if err == io.ErrShortBuffer {
				return gnet.None
			}
			return gnet.Close
		}

		bodyLen := binary.BigEndian.Uint32(header[8:12])
		frameLen := wire.HeaderLen + int(bodyLen)

		frame, err := c.Peek(frameLen)
		if err != nil {
			if err == io.ErrShortBuffer {
				return gnet.None
			}
			return gnet.Close
		}

		req, decodeErr := decodeGnetFrame(frame, e.cfg.Conn.ItemSizeLimit)
		if _, discardErr := c.Discard(frameLen); discardErr != nil {
			return gnet.Close
		}
		if decodeErr != nil {
			e.logger.Warn("malformed frame, closing connection", zap.Error(decodeErr))
			return gnet.Close
		}

		if req.Opcode() == wire.OpQuitQ {
			return gnet.Close
		}

		resp := e.dispatcher.Dispatch(req)
		if resp != nil {
			if err := wire.NewEncoder(c).Encode(resp); err != nil {
				return gnet.Close
			}
		}

		if req.Opcode() == wire.OpQuit {
			return gnet.Close
		}
	}
}

// decodeGnetFrame parses one already-fully-buffered frame, reusing the
// blocking Decoder against an in-memory reader so the header validation and
// per-opcode body layout logic isn't duplicated between runtime backends.
func decodeGnetFrame(frame []byte, itemSizeLimit uint32) (*wire.Request, error) {
	return wire.NewDecoder(&byteReader{b: frame}, itemSizeLimit).Decode()
}

// byteReader adapts a fully-buffered byte slice to io.Reader for reuse by
// wire.Decoder, which normally reads off a blocking net.Conn.
type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
