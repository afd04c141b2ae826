package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/mevdschee/bincache/pkg/protocol/binary"
)

const connBufferSize = 65536

// ConnConfig controls per-connection limits shared by every listener backend.
type ConnConfig struct {
	// ItemSizeLimit is the largest request body the decoder will buffer
	// before draining and reporting ValueTooLarge.
	ItemSizeLimit uint32
	// IdleTimeout disconnects a connection that sends nothing for this long.
	// Zero disables the timeout.
	IdleTimeout time.Duration
}

// Conn serves one client connection to completion: decode, dispatch, encode,
// repeat, until the peer disconnects, sends Quit, or the idle timeout fires.
// It mirrors the buffered-IO setup the teacher's Server.handleConnection
// used; there is no binary-vs-text sniff, only the binary protocol is served.
type Conn struct {
	raw        net.Conn
	dispatcher *Dispatcher
	cfg        ConnConfig
	logger     *zap.Logger
}

// NewConn wraps raw for binary-protocol service.
func NewConn(raw net.Conn, dispatcher *Dispatcher, cfg ConnConfig, logger *zap.Logger) *Conn {
	return &Conn{raw: raw, dispatcher: dispatcher, cfg: cfg, logger: logger}
}

// Serve runs the connection's read/dispatch/write loop until it ends, either
// because the peer disconnected, sent a Quit command, idled out, or ctx was
// canceled (server shutdown). ctx is checked before each request is read; a
// read already waiting for the next request is not interrupted by it.
func (c *Conn) Serve(ctx context.Context) {
	defer c.raw.Close()

	if tcpConn, ok := c.raw.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	reader := bufio.NewReaderSize(c.raw, connBufferSize)
	writer := bufio.NewWriterSize(c.raw, connBufferSize)
	decoder := binary.NewDecoder(reader, c.cfg.ItemSizeLimit)
	encoder := binary.NewEncoder(writer)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.cfg.IdleTimeout > 0 {
			c.raw.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}

		req, err := decoder.Decode()
		if err != nil {
			c.logReadError(err)
			return
		}

		// QuitQuietly closes the connection immediately without involving
		// the dispatcher at all, matching the teacher-grounded Rust client
		// handler's special case for this one opcode.
		if req.Opcode() == binary.OpQuitQ {
			return
		}

		resp := c.dispatcher.Dispatch(req)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				c.logger.Warn("encode response failed", zap.Error(err), zap.String("remote", c.raw.RemoteAddr().String()))
				return
			}
			if err := writer.Flush(); err != nil {
				c.logger.Warn("flush response failed", zap.Error(err), zap.String("remote", c.raw.RemoteAddr().String()))
				return
			}
		}

		if req.Opcode() == binary.OpQuit {
			return
		}
	}
}

func (c *Conn) logReadError(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.logger.Info("connection idle timeout", zap.String("remote", c.raw.RemoteAddr().String()))
		return
	}
	c.logger.Warn("decode request failed", zap.Error(err), zap.String("remote", c.raw.RemoteAddr().String()))
}
