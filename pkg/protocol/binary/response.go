package binary

// Response is an encoded-server packet in waiting. Like Request, one struct
// shape serves every command; the dispatcher only sets the fields a given
// command's wire format actually uses.
type Response struct {
	Header  ResponseHeader
	Flags   uint32
	Key     []byte
	Value   []byte
	Text    string // Version string, or the error message for an Error response
	Counter uint64 // Incr/Decr result
}

// NewResponse builds a bare success response for opcode/opaque with the
// given CAS, ready for a handler to attach a key/value/text/counter payload.
func NewResponse(opcode Opcode, opaque uint32, cas uint64) Response {
	h := NewResponseHeader(opcode, opaque)
	h.CAS = cas
	return Response{Header: h}
}

// NewErrorResponse builds an error response carrying status and message in
// the body, with no key/value/extras (spec §7).
func NewErrorResponse(opcode Opcode, opaque uint32, status Status, message string) Response {
	h := NewResponseHeader(opcode, opaque)
	h.Status = status
	return Response{Header: h, Text: message}
}
