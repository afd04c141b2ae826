package server

import (
	"github.com/mevdschee/bincache/internal/version"
	"github.com/mevdschee/bincache/pkg/cache"
	"github.com/mevdschee/bincache/pkg/protocol/binary"
)

// Dispatcher turns decoded requests into encoded responses against a single
// cache engine. It holds no per-connection state, so one Dispatcher is
// shared by every connection on a listener.
type Dispatcher struct {
	engine cache.Engine
}

// NewDispatcher builds a dispatcher fronting engine.
func NewDispatcher(engine cache.Engine) *Dispatcher {
	return &Dispatcher{engine: engine}
}

// Dispatch handles one request and returns the response to send, or nil if
// the request's quiet-variant suppression rules mean nothing should be
// written back (spec §4 quiet-variant suppression).
func (d *Dispatcher) Dispatch(req *binary.Request) *binary.Response {
	opcode := req.Opcode()

	if req.ItemTooLarge() {
		resp := errorResponse(opcode, req.Header.Opaque, cache.ErrValueTooLarge)
		return &resp
	}

	switch opcode {
	case binary.OpGet, binary.OpGetK:
		resp := d.get(req)
		return &resp
	case binary.OpGetQ, binary.OpGetKQ:
		return suppressIfNotFound(d.get(req))

	case binary.OpSet:
		resp := d.set(req)
		return &resp
	case binary.OpSetQ:
		return suppressIfSuccess(d.set(req))

	case binary.OpAdd:
		resp := d.addReplace(req, true)
		return &resp
	case binary.OpAddQ:
		return suppressIfSuccess(d.addReplace(req, true))

	case binary.OpReplace:
		resp := d.addReplace(req, false)
		return &resp
	case binary.OpReplaceQ:
		return suppressIfSuccess(d.addReplace(req, false))

	case binary.OpAppend:
		resp := d.appendPrepend(req, false)
		return &resp
	case binary.OpAppendQ:
		return suppressIfSuccess(d.appendPrepend(req, false))

	case binary.OpPrepend:
		resp := d.appendPrepend(req, true)
		return &resp
	case binary.OpPrependQ:
		return suppressIfSuccess(d.appendPrepend(req, true))

	case binary.OpDelete:
		resp := d.delete(req)
		return &resp
	case binary.OpDeleteQ:
		return suppressIfSuccess(d.delete(req))

	case binary.OpIncrement:
		resp := d.incrDecr(req, true)
		return &resp
	case binary.OpIncrementQ:
		return suppressIfSuccess(d.incrDecr(req, true))

	case binary.OpDecrement:
		resp := d.incrDecr(req, false)
		return &resp
	case binary.OpDecrementQ:
		return suppressIfSuccess(d.incrDecr(req, false))

	case binary.OpFlush:
		resp := d.flush(req)
		return &resp
	case binary.OpFlushQ:
		return suppressIfSuccess(d.flush(req))

	case binary.OpNoop:
		resp := binary.NewResponse(opcode, req.Header.Opaque, 0)
		return &resp

	case binary.OpVersion:
		resp := binary.NewResponse(opcode, req.Header.Opaque, 0)
		resp.Text = version.String
		return &resp

	case binary.OpStat:
		resp := binary.NewResponse(opcode, req.Header.Opaque, 0)
		return &resp

	case binary.OpQuit:
		resp := binary.NewResponse(opcode, req.Header.Opaque, 0)
		return &resp
	case binary.OpQuitQ:
		return nil

	case binary.OpTouch, binary.OpGetAndTouch, binary.OpGetAndTouchK:
		resp := errorResponse(opcode, req.Header.Opaque, cache.ErrNotSupported)
		return &resp
	case binary.OpGetAndTouchQ, binary.OpGetAndTouchKQ:
		return suppressIfSuccess(errorResponse(opcode, req.Header.Opaque, cache.ErrNotSupported))

	default:
		resp := errorResponse(opcode, req.Header.Opaque, cache.ErrUnknownCommand)
		return &resp
	}
}

// suppressIfNotFound drops a quiet Get's response on the usual NotFound
// error, the same condition most clients use to mean "key absent, don't tell me".
func suppressIfNotFound(resp binary.Response) *binary.Response {
	if resp.Header.Status == binary.StatusKeyNotFound {
		return nil
	}
	return &resp
}

// suppressIfSuccess drops a quiet mutation's response on success, surfacing
// only errors.
func suppressIfSuccess(resp binary.Response) *binary.Response {
	if resp.Header.Status == binary.StatusSuccess {
		return nil
	}
	return &resp
}

func (d *Dispatcher) get(req *binary.Request) binary.Response {
	record, err := d.engine.Get(string(req.Key))
	if err != nil {
		return errorResponse(req.Opcode(), req.Header.Opaque, err)
	}

	resp := binary.NewResponse(req.Opcode(), req.Header.Opaque, record.Metadata.CAS)
	resp.Flags = record.Metadata.Flags
	resp.Value = record.Value
	if req.Opcode().ReturnsKey() {
		resp.Key = req.Key
	}
	return resp
}

func (d *Dispatcher) set(req *binary.Request) binary.Response {
	record := cache.Record{
		Metadata: cache.Metadata{CAS: req.Header.CAS, Flags: req.Flags, Expiration: req.Expiration},
		Value:    req.Value,
	}
	status, err := d.engine.Set(string(req.Key), record)
	if err != nil {
		return errorResponse(req.Opcode(), req.Header.Opaque, err)
	}
	return binary.NewResponse(req.Opcode(), req.Header.Opaque, status.CAS)
}

func (d *Dispatcher) addReplace(req *binary.Request, add bool) binary.Response {
	record := cache.Record{
		Metadata: cache.Metadata{CAS: req.Header.CAS, Flags: req.Flags, Expiration: req.Expiration},
		Value:    req.Value,
	}
	var status cache.SetStatus
	var err error
	if add {
		status, err = d.engine.Add(string(req.Key), record)
	} else {
		status, err = d.engine.Replace(string(req.Key), record)
	}
	if err != nil {
		return errorResponse(req.Opcode(), req.Header.Opaque, err)
	}
	return binary.NewResponse(req.Opcode(), req.Header.Opaque, status.CAS)
}

func (d *Dispatcher) appendPrepend(req *binary.Request, prepend bool) binary.Response {
	var status cache.SetStatus
	var err error
	if prepend {
		status, err = d.engine.Prepend(string(req.Key), req.Value, req.Header.CAS)
	} else {
		status, err = d.engine.Append(string(req.Key), req.Value, req.Header.CAS)
	}
	if err != nil {
		return errorResponse(req.Opcode(), req.Header.Opaque, err)
	}
	return binary.NewResponse(req.Opcode(), req.Header.Opaque, status.CAS)
}

func (d *Dispatcher) delete(req *binary.Request) binary.Response {
	_, err := d.engine.Delete(string(req.Key), req.Header.CAS)
	if err != nil {
		return errorResponse(req.Opcode(), req.Header.Opaque, err)
	}
	return binary.NewResponse(req.Opcode(), req.Header.Opaque, 0)
}

func (d *Dispatcher) flush(req *binary.Request) binary.Response {
	d.engine.Flush(req.Expiration)
	return binary.NewResponse(req.Opcode(), req.Header.Opaque, 0)
}

func (d *Dispatcher) incrDecr(req *binary.Request, incr bool) binary.Response {
	result, err := d.engine.IncrDecr(string(req.Key), int64(req.Delta), req.Initial, req.Expiration, req.Header.CAS, incr)
	if err != nil {
		return errorResponse(req.Opcode(), req.Header.Opaque, err)
	}
	resp := binary.NewResponse(req.Opcode(), req.Header.Opaque, result.CAS)
	resp.Counter = result.Value
	return resp
}

// errorResponse maps a cache.Error (or any error) onto a wire status code.
func errorResponse(opcode binary.Opcode, opaque uint32, err error) binary.Response {
	status, message := translateError(err)
	return binary.NewErrorResponse(opcode, opaque, status, message)
}

// translateError maps a cache.Error onto its wire status. cache.Error's
// numeric values were deliberately chosen to equal the corresponding
// binary.Status codes (spec §4.2/§6.1 share the one taxonomy), so this is a
// direct conversion rather than a lookup table; any other error type (one
// a future Engine implementation might return, but none do today) falls
// back to an internal-error status.
func translateError(err error) (binary.Status, string) {
	cacheErr, ok := err.(cache.Error)
	if !ok {
		return binary.StatusInternalError, err.Error()
	}
	return binary.Status(cacheErr.Status()), cacheErr.Error()
}
