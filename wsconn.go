package httpuv

import (
	"encoding/binary"
	"errors"
)

// errMessageTooBig is reported when a reassembled fragmented message would
// exceed maxMessageBytes; it maps to close status 1009 rather than the
// generic protocol-error status.
var errMessageTooBig = errors.New("httpuv: reassembled message exceeds maxMessageBytes")

// wsState tracks the close handshake per RFC 6455 §7.1.2 as a small bitmask:
// a close is complete once both a Close frame has been received and one has
// been sent.
type wsState int

const (
	wsOpen          wsState = 0
	wsCloseReceived wsState = 1 << 0
	wsCloseSent     wsState = 1 << 1
	wsClosed                = wsCloseReceived | wsCloseSent
)

// maxMessageBytes bounds how large a reassembled fragmented message may grow
// before the connection is dropped, protecting against an unbounded
// accumulation attack from a peer that never sends a fin fragment.
const maxMessageBytes = 64 << 20

// wsSocket drives a WebSocketParser for one upgraded connection, reassembling
// fragmented messages and answering control frames.
type wsSocket struct {
	parser *WebSocketParser
	state  wsState

	fragOpcode Opcode
	fragBuf    []byte
	fragActive bool

	// ctrlBuf accumulates the payload of the control frame currently being
	// parsed. Control frames may legally interleave between the fragments
	// of a data message, so they get their own buffer rather than sharing
	// fragBuf.
	ctrlBuf []byte

	// sendFrame writes a complete, already-framed server frame to the peer.
	sendFrame func(opcode Opcode, fin bool, payload []byte) error

	onMessage func(binary bool, data []byte)
	onClose   func()
	onError   func(error)
}

func newWSSocket(sendFrame func(opcode Opcode, fin bool, payload []byte) error) *wsSocket {
	s := &wsSocket{
		state:     wsOpen,
		sendFrame: sendFrame,
	}
	s.parser = NewWebSocketParser()
	s.parser.OnHeaderComplete = s.onHeaderComplete
	s.parser.OnPayload = s.onPayload
	s.parser.OnFrameComplete = s.onFrameComplete
	s.parser.OnError = s.onParseError
	return s
}

// Feed pushes newly-read bytes from the connection into the frame parser.
func (s *wsSocket) Feed(data []byte) {
	s.parser.Feed(data)
}

func (s *wsSocket) onHeaderComplete(fh *WSFrameHeader) {
	if fh.Opcode.isControl() {
		s.ctrlBuf = s.ctrlBuf[:0]
		return
	}
	if fh.Opcode == OpContinuation {
		if !s.fragActive {
			s.fail(errMalformedFrameHeader)
		}
		return
	}
	// Start of a new data message.
	if s.fragActive {
		s.fail(errMalformedFrameHeader)
		return
	}
	s.fragActive = !fh.Fin
	s.fragOpcode = fh.Opcode
	s.fragBuf = s.fragBuf[:0]
}

func (s *wsSocket) onPayload(data []byte) {
	fh := s.parser.current
	if fh != nil && fh.Opcode.isControl() {
		s.ctrlBuf = append(s.ctrlBuf, data...)
		return
	}
	if int64(len(s.fragBuf)+len(data)) > maxMessageBytes {
		s.fail(errMessageTooBig)
		return
	}
	s.fragBuf = append(s.fragBuf, data...)
}

func (s *wsSocket) onFrameComplete() {
	fh := s.parser.current
	if fh == nil {
		return
	}

	switch fh.Opcode {
	case OpPing:
		payload := append([]byte{}, s.ctrlBuf...)
		if err := s.sendFrame(OpPong, true, payload); err != nil && s.onError != nil {
			s.onError(err)
		}
		return
	case OpPong:
		return
	case OpClose:
		payload := append([]byte{}, s.ctrlBuf...)
		s.handleClose(payload)
		return
	}

	if !fh.Fin {
		// Continuation expected; wait for more fragments.
		return
	}

	// Final fragment of a data message (or an unfragmented one).
	msg := s.fragBuf
	s.fragBuf = nil
	s.fragActive = false
	binary := s.fragOpcode == OpBinary
	if s.onMessage != nil {
		s.onMessage(binary, msg)
	}
}

func (s *wsSocket) onParseError(err error) {
	s.fail(err)
}

// fail runs the connection-layer close handshake for a protocol violation:
// a Close frame carrying the matching status code is sent (unless one
// already went out), before onError tears down the TCP connection.
func (s *wsSocket) fail(err error) {
	if s.state&wsCloseSent == 0 {
		_ = s.SendClose(closeStatusPayload(closeStatusCodeFor(err)))
	}
	if s.onError != nil {
		s.onError(err)
	}
}

// closeStatusCodeFor maps an internal wsSocket error to the RFC 6455 §7.4
// close status code a peer should be told about.
func closeStatusCodeFor(err error) uint16 {
	if errors.Is(err, errMessageTooBig) {
		return closeStatusMessageTooBig
	}
	return closeStatusProtocolErr
}

// handleClose implements the RFC 6455 §7 close handshake: the first Close
// frame seen from either side triggers an echoed Close reply (unless we
// already sent one), and once both directions have seen a Close the
// connection's onClose fires.
func (s *wsSocket) handleClose(payload []byte) {
	s.state |= wsCloseReceived
	if s.state&wsCloseSent == 0 {
		s.SendClose(payload)
	}
	if s.onClose != nil {
		s.onClose()
	}
}

// SendClose sends a Close frame to the peer, marking the sent half of the
// close handshake. payload, if non-empty, should begin with a 2-byte status
// code per RFC 6455 §7.4.
func (s *wsSocket) SendClose(payload []byte) error {
	s.state |= wsCloseSent
	return s.sendFrame(OpClose, true, payload)
}

// SendMessage frames and sends a complete, unfragmented data message.
func (s *wsSocket) SendMessage(binaryMsg bool, data []byte) error {
	op := OpText
	if binaryMsg {
		op = OpBinary
	}
	return s.sendFrame(op, true, data)
}

// closeStatusPayload renders a 2-byte big-endian close status code, per
// RFC 6455 §7.4, with no reason text.
func closeStatusPayload(code uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, code)
	return buf
}

// Close status codes used internally when the server initiates closure.
const (
	closeStatusNormal        = 1000
	closeStatusGoingAway     = 1001
	closeStatusProtocolErr   = 1002
	closeStatusMessageTooBig = 1009
)
