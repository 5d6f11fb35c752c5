package httpuv

// WebApplication is the collaborator contract the embedding program
// implements. All methods are invoked from the owning Connection's
// goroutine; an application must not block for long, since doing so stalls
// that connection (and only that connection).
type WebApplication interface {
	// OnHeaders is called once the request headers are fully parsed. It may
	// return a non-nil Response to reply immediately without waiting for the
	// body (a premature response) — e.g. to reject a request.
	OnHeaders(c *Connection) *Response

	// OnBodyData delivers one chunk of the request body as it arrives.
	OnBodyData(c *Connection, data []byte)

	// GetResponse is called once the full request (headers and, if present,
	// body) has been received, and must return the Response to send.
	GetResponse(c *Connection) *Response

	// OnWSOpen fires once a WebSocket upgrade has completed.
	OnWSOpen(c *Connection)

	// OnWSMessage delivers one complete (possibly reassembled) WebSocket
	// message.
	OnWSMessage(c *Connection, binary bool, data []byte)

	// OnWSClose fires when the WebSocket connection has closed, in either
	// direction.
	OnWSClose(c *Connection)
}
