package httpuv

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// connProtocol is which wire protocol a Connection is currently decoding.
type connProtocol int

const (
	protocolHTTP connProtocol = iota
	protocolWebSocket
)

const readBufferSize = 65536

// Connection is a per-connection orchestrator: one goroutine owns its
// net.Conn, its HTTP parser state, its WebSocket socket state (once
// upgraded), and all response writing for that connection.
type Connection struct {
	ID   uuid.UUID
	conn net.Conn

	server *Server
	app    WebApplication
	opts   *Options
	log    zerolog.Logger

	protocol      connProtocol
	ignoreNewData bool

	parser    *requestParser
	reqHdrs   *Header
	isUpgrade bool

	ws *wsSocket

	closeOnce sync.Once
	closed    chan struct{}
}

// newConnection wraps an accepted net.Conn for the per-connection read loop.
func newConnection(conn net.Conn, server *Server, app WebApplication, opts *Options, log zerolog.Logger) *Connection {
	id := uuid.New()
	c := &Connection{
		ID:     id,
		conn:   conn,
		server: server,
		app:    app,
		opts:   opts,
		log:    log.With().Str("conn_id", id.String()).Logger(),
		closed: make(chan struct{}),
	}
	c.parser = newRequestParser()
	c.parser.maxHeaderBytes = opts.maxHeaderBytes()
	c.wireParserCallbacks()
	return c
}

func (c *Connection) wireParserCallbacks() {
	c.parser.OnHeadersComplete = c.onHeadersComplete
	c.parser.OnBody = func(b []byte) {
		c.app.OnBodyData(c, b)
	}
	c.parser.OnMessageComplete = c.onMessageComplete
	c.parser.OnError = func(err error) {
		c.server.metrics().parseError()
		c.log.Warn().Err(err).Msg("http parse error")
		c.Close()
	}
}

// Method returns the current request's HTTP method.
func (c *Connection) Method() string { return c.parser.method }

// URL returns the current request's request-target.
func (c *Connection) URL() string { return c.parser.url }

// Headers returns the current request's headers.
func (c *Connection) Headers() *Header { return c.reqHdrs }

// RemoteAddr returns the peer's network address.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// SendWSMessage sends a complete WebSocket message. It returns an error if
// the connection has not been upgraded.
func (c *Connection) SendWSMessage(binary bool, data []byte) error {
	if c.ws == nil {
		return errors.New("httpuv: connection is not a websocket")
	}
	return c.ws.SendMessage(binary, data)
}

// CloseWSSocket sends a Close frame (if one hasn't been sent) and then
// closes the underlying connection without waiting for the peer's reply.
func (c *Connection) CloseWSSocket() {
	if c.ws != nil && c.ws.state&wsCloseSent == 0 {
		_ = c.ws.SendClose(closeStatusPayload(closeStatusNormal))
	}
	c.Close()
}

// serve runs the connection's read loop until EOF, a read error, or Close.
// It is the body of the goroutine the Server spawns per accepted connection.
func (c *Connection) serve() {
	c.server.metrics().connectionOpened()
	defer c.server.metrics().connectionClosed()
	defer c.teardown()

	buf := make([]byte, readBufferSize)
	for {
		if deadline, ok := c.nextReadDeadline(); ok {
			_ = c.conn.SetReadDeadline(deadline)
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.handleData(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.log.Debug().Msg("connection closed by peer")
			} else if !isClosedConnErr(err) {
				c.log.Warn().Err(err).Msg("read error")
			}
			return
		}
		select {
		case <-c.closed:
			return
		default:
		}
	}
}

// nextReadDeadline computes the deadline for the next Read: ReadTimeout and
// IdleTimeout are both measured from now, i.e. they bound the wait for the
// next bytes, not for a whole request or message; when both are set, the
// tighter of the two applies.
func (c *Connection) nextReadDeadline() (deadline time.Time, ok bool) {
	now := time.Now()
	if c.opts.ReadTimeout > 0 {
		deadline = now.Add(c.opts.ReadTimeout)
		ok = true
	}
	if c.opts.IdleTimeout > 0 {
		idleDeadline := now.Add(c.opts.IdleTimeout)
		if !ok || idleDeadline.Before(deadline) {
			deadline = idleDeadline
			ok = true
		}
	}
	return deadline, ok
}

func isClosedConnErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// handleData implements the per-read protocol state machine: while
// ignoreNewData is set, bytes are silently dropped (the connection is
// already winding down after a premature response); otherwise bytes are fed
// to the active protocol's parser, with an HTTP-to-WebSocket upgrade handing
// any leftover bytes from the same read straight to the WS parser.
func (c *Connection) handleData(data []byte) {
	if c.ignoreNewData {
		return
	}

	switch c.protocol {
	case protocolHTTP:
		consumed := c.parser.Feed(data)
		if c.protocol == protocolWebSocket {
			remainder := data[consumed:]
			if len(remainder) > 0 {
				c.ws.Feed(remainder)
			}
		}
	case protocolWebSocket:
		c.ws.Feed(data)
	}
}

// onHeadersComplete is the requestParser.OnHeadersComplete callback: it
// implements the upgrade handshake, premature-response, and
// Expect: 100-continue branches of the protocol state machine.
func (c *Connection) onHeadersComplete(h *Header, upgrade bool) (skipBody bool) {
	c.reqHdrs = h
	c.isUpgrade = upgrade

	if upgrade {
		c.handleUpgrade(h)
		return true
	}

	if resp := c.app.OnHeaders(c); resp != nil {
		_, hasCL := h.Get("Content-Length")
		chunked := h.ContainsToken("Transfer-Encoding", "chunked")
		if hasCL || chunked {
			resp.CloseAfterWritten()
			c.ignoreNewData = true
		}
		c.applyCompressionPolicy(resp)
		c.writeResponse(resp)
		return true
	}

	if h.ContainsToken("Expect", "100-continue") {
		continueResp := NewResponse(100, "Continue", h)
		c.writeResponse(continueResp)
	}
	return false
}

// handleUpgrade validates and completes a WebSocket upgrade handshake.
func (c *Connection) handleUpgrade(h *Header) {
	key, haveKey := h.Get("Sec-WebSocket-Key")
	if !h.ContainsToken("Upgrade", "websocket") || !haveKey {
		c.Close()
		return
	}
	if c.opts.CheckOrigin != nil && !c.opts.CheckOrigin(h) {
		c.Close()
		return
	}

	resp := NewResponse(101, "Switching Protocols", h)
	resp.SetHeader("Upgrade", "websocket")
	resp.SetHeader("Connection", "Upgrade")
	resp.SetHeader("Sec-WebSocket-Accept", CreateHandshakeResponse(key))

	c.writeResponse(resp)

	c.protocol = protocolWebSocket
	c.ws = newWSSocket(c.sendWSFrame)
	c.ws.onMessage = func(binary bool, data []byte) {
		c.app.OnWSMessage(c, binary, data)
	}
	c.ws.onClose = func() {
		c.app.OnWSClose(c)
		c.Close()
	}
	c.ws.onError = func(err error) {
		c.server.metrics().parseError()
		c.log.Warn().Err(err).Msg("websocket parse error")
		c.Close()
	}
	c.server.metrics().connectionUpgraded()
	c.app.OnWSOpen(c)
}

// sendWSFrame writes one already-assembled WebSocket frame synchronously on
// the connection's own goroutine.
func (c *Connection) sendWSFrame(opcode Opcode, fin bool, payload []byte) error {
	header := CreateFrameHeader(opcode, fin, int64(len(payload)))
	bufs := net.Buffers{header, payload}
	n, err := bufs.WriteTo(c.conn)
	c.server.metrics().wroteBytes(int(n))
	return err
}

// onMessageComplete is the requestParser.OnMessageComplete callback: for a
// non-upgrade request it asks the application for the final response and
// writes it; an upgrade request already had its response written (and the
// application already notified) inside onHeadersComplete.
func (c *Connection) onMessageComplete() {
	if c.isUpgrade {
		return
	}
	resp := c.app.GetResponse(c)
	if resp != nil {
		c.applyCompressionPolicy(resp)
		c.writeResponse(resp)
	}
}

// applyCompressionPolicy enforces Options.DisableCompression/CompressionLevel
// on a response the application handed back, before it is written.
func (c *Connection) applyCompressionPolicy(resp *Response) {
	if c.opts.DisableCompression {
		resp.DisableCompression()
		return
	}
	resp.SetCompressionLevel(c.opts.CompressionLevel)
}

// writeResponse writes resp synchronously, closing the connection afterward
// if resp requested it or the write failed.
func (c *Connection) writeResponse(resp *Response) {
	done := make(chan struct{})
	var writeErr error
	resp.Write(c.conn, func(err error) {
		writeErr = err
		close(done)
	})
	<-done
	if writeErr != nil {
		c.log.Warn().Err(writeErr).Msg("response write error")
		c.Close()
		return
	}
	if resp.closeAfterWritten {
		c.Close()
	}
}

// Close tears down the connection exactly once; safe to call from any
// goroutine, though in practice it is always called from this connection's
// own goroutine or from Server.Close's shutdown path.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// teardown runs once the read loop exits: notifies the application of a
// WebSocket close if the handshake never fully completed, and deregisters
// from the Server.
func (c *Connection) teardown() {
	if c.protocol == protocolWebSocket && c.ws != nil {
		if c.ws.state != wsClosed {
			c.app.OnWSClose(c)
		}
		c.server.metrics().connectionDowngraded()
	}
	c.server.deregister(c)
}
