package httpuv

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// requestParserState is the stage of request-line/header/body decoding, in
// the same shape as a typical byte-incremental protocol decoder: one stage
// for the start line, one for folding header fields, one for draining the
// body.
type requestParserState int

const (
	stateRequestLine requestParserState = iota
	stateHeaderField
	stateHeaderValue
	stateHeadersDone
	stateBodyContentLength
	stateBodyChunkSize
	stateBodyChunkData
	stateBodyChunkCRLF
	stateBodyChunkTrailer
	stateMessageComplete
)

var (
	errParseRequestLine = errors.New("httpuv: malformed request line")
	errParseHeaderLine  = errors.New("httpuv: malformed header line")
	errParseChunkSize   = errors.New("httpuv: malformed chunk size")
	errHeadersTooLarge  = errors.New("httpuv: request line and headers exceed MaxHeaderBytes")
)

// requestParser is an incremental, byte-fed HTTP/1.1 request decoder. Feed
// may be called with any split of the input; the callback sequence this
// produces does not depend on how the bytes were chunked across calls.
//
// It reports the number of input bytes it consumed from each Feed call via
// its return value, so a caller that detects an Upgrade can hand the
// unconsumed remainder straight to a different protocol's decoder for the
// HTTP→WebSocket handoff.
type requestParser struct {
	state requestParserState
	line  []byte // accumulated bytes of the current line

	// maxHeaderBytes, if non-zero, bounds the combined size of the request
	// line and header block; headerBytesSeen tracks bytes consumed so far
	// while in those stages.
	maxHeaderBytes  int
	headerBytesSeen int

	method        string
	url           string
	headers       *Header
	isUpgrade     bool
	contentLength int64
	haveCL        bool
	chunked       bool
	bodyRemaining int64
	chunkSizeLine []byte
	failed        bool

	OnMessageBegin    func()
	OnURL             func(method, url string)
	OnHeaderField     func(name string)
	OnHeaderValue     func(value string)
	OnHeadersComplete func(h *Header, upgrade bool) (skipBody bool)
	OnBody            func([]byte)
	OnMessageComplete func()
	OnError           func(error)
}

// newRequestParser returns a parser reset to decode a fresh request.
func newRequestParser() *requestParser {
	p := &requestParser{}
	p.reset()
	return p
}

// reset prepares the parser to decode the next pipelined request.
func (p *requestParser) reset() {
	p.state = stateRequestLine
	p.line = p.line[:0]
	p.headerBytesSeen = 0
	p.method = ""
	p.url = ""
	p.headers = NewHeader()
	p.isUpgrade = false
	p.contentLength = 0
	p.haveCL = false
	p.chunked = false
	p.bodyRemaining = 0
	p.chunkSizeLine = p.chunkSizeLine[:0]
	p.failed = false
}

// Feed decodes as much of data as forms complete request-line/header/body
// elements, invoking callbacks as they become available, and returns the
// number of bytes it consumed. Once OnMessageComplete fires mid-buffer
// (pipelining) the parser resets and continues with the remainder in the
// same call.
func (p *requestParser) Feed(data []byte) (consumed int) {
	i := 0
	// The headers-done and message-complete stages consume no bytes, so they
	// still run once data is exhausted.
	for i < len(data) || p.state == stateHeadersDone || p.state == stateMessageComplete {
		if p.failed {
			return i
		}
		switch p.state {
		case stateRequestLine, stateHeaderField, stateHeaderValue:
			n, done := p.feedLine(data[i:])
			i += n
			if !done {
				return i
			}
		case stateHeadersDone:
			if !p.finishHeaders() {
				return i
			}
		case stateBodyContentLength:
			n := p.feedContentLengthBody(data[i:])
			i += n
			if p.bodyRemaining > 0 {
				return i
			}
			p.state = stateMessageComplete
		case stateBodyChunkSize:
			n, done := p.feedChunkSizeLine(data[i:])
			i += n
			if !done {
				return i
			}
		case stateBodyChunkData:
			n := p.feedChunkData(data[i:])
			i += n
			if p.bodyRemaining > 0 {
				return i
			}
			p.state = stateBodyChunkCRLF
		case stateBodyChunkCRLF:
			n, done := p.feedChunkCRLF(data[i:])
			i += n
			if !done {
				return i
			}
		case stateBodyChunkTrailer:
			n, done := p.feedChunkTrailer(data[i:])
			i += n
			if !done {
				return i
			}
		case stateMessageComplete:
			if p.OnMessageComplete != nil {
				p.OnMessageComplete()
			}
			if p.isUpgrade {
				return i
			}
			p.reset()
		}
	}
	return i
}

// feedLine accumulates bytes up to and including the next "\r\n", then
// dispatches the completed line according to the current stage.
func (p *requestParser) feedLine(data []byte) (consumed int, done bool) {
	for idx, b := range data {
		p.headerBytesSeen++
		if p.maxHeaderBytes > 0 && p.headerBytesSeen > p.maxHeaderBytes {
			p.fail(errHeadersTooLarge)
			return idx + 1, true
		}
		if b == '\n' {
			line := p.line
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			p.line = p.line[:0]
			p.dispatchLine(line)
			return idx + 1, true
		}
		p.line = append(p.line, b)
	}
	return len(data), false
}

func (p *requestParser) dispatchLine(line []byte) {
	switch p.state {
	case stateRequestLine:
		p.parseRequestLine(line)
	case stateHeaderField, stateHeaderValue:
		p.parseHeaderLine(line)
	}
}

func (p *requestParser) parseRequestLine(line []byte) {
	if p.OnMessageBegin != nil {
		p.OnMessageBegin()
	}
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) != 3 {
		p.fail(errParseRequestLine)
		return
	}
	p.method = parts[0]
	p.url = parts[1]
	if !strings.HasPrefix(parts[2], "HTTP/1.") {
		p.fail(errParseRequestLine)
		return
	}
	if p.OnURL != nil {
		p.OnURL(p.method, p.url)
	}
	p.state = stateHeaderField
}

// parseHeaderLine handles one header-block line: empty means headers are
// done, otherwise it's "Name: Value" (folding/obs-fold continuations are not
// accepted, per RFC 7230 §3.2.4).
func (p *requestParser) parseHeaderLine(line []byte) {
	if len(line) == 0 {
		p.state = stateHeadersDone
		return
	}
	colon := indexByte(line, ':')
	if colon <= 0 {
		p.fail(errParseHeaderLine)
		return
	}
	name := strings.TrimSpace(string(line[:colon]))
	value := strings.TrimSpace(string(line[colon+1:]))
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		p.fail(errParseHeaderLine)
		return
	}
	if p.OnHeaderField != nil {
		p.OnHeaderField(name)
	}
	if p.OnHeaderValue != nil {
		p.OnHeaderValue(value)
	}
	p.headers.Combine(name, value)
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// finishHeaders runs once the blank line terminating the header block has
// been seen: it classifies the body framing and reports headers-complete.
func (p *requestParser) finishHeaders() bool {
	if v, ok := p.headers.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			p.fail(errParseRequestLine)
			return false
		}
		p.contentLength = n
		p.haveCL = true
	}
	p.chunked = p.headers.ContainsToken("Transfer-Encoding", "chunked")
	p.isUpgrade = p.headers.ContainsToken("Connection", "upgrade")

	skipBody := false
	if p.OnHeadersComplete != nil {
		skipBody = p.OnHeadersComplete(p.headers, p.isUpgrade)
	}

	switch {
	case p.isUpgrade:
		p.state = stateMessageComplete
	case skipBody:
		p.state = stateMessageComplete
	case p.chunked:
		p.bodyRemaining = 0
		p.state = stateBodyChunkSize
	case p.haveCL && p.contentLength > 0:
		p.bodyRemaining = p.contentLength
		p.state = stateBodyContentLength
	default:
		p.state = stateMessageComplete
	}
	return true
}

func (p *requestParser) feedContentLengthBody(data []byte) int {
	n := int64(len(data))
	if n > p.bodyRemaining {
		n = p.bodyRemaining
	}
	if n > 0 && p.OnBody != nil {
		p.OnBody(data[:n])
	}
	p.bodyRemaining -= n
	return int(n)
}

func (p *requestParser) feedChunkSizeLine(data []byte) (consumed int, done bool) {
	for idx, b := range data {
		if b == '\n' {
			line := p.chunkSizeLine
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			p.chunkSizeLine = p.chunkSizeLine[:0]
			// Drop chunk extensions (";name=value") per RFC 7230 §4.1.1.
			if semi := indexByte(line, ';'); semi >= 0 {
				line = line[:semi]
			}
			size, err := strconv.ParseInt(strings.TrimSpace(string(line)), 16, 64)
			if err != nil || size < 0 {
				p.fail(errParseChunkSize)
				return idx + 1, false
			}
			p.bodyRemaining = size
			if size == 0 {
				p.state = stateBodyChunkTrailer
			} else {
				p.state = stateBodyChunkData
			}
			return idx + 1, true
		}
		p.chunkSizeLine = append(p.chunkSizeLine, b)
	}
	return len(data), false
}

func (p *requestParser) feedChunkData(data []byte) int {
	n := int64(len(data))
	if n > p.bodyRemaining {
		n = p.bodyRemaining
	}
	if n > 0 && p.OnBody != nil {
		p.OnBody(data[:n])
	}
	p.bodyRemaining -= n
	return int(n)
}

// feedChunkCRLF consumes the "\r\n" that follows each chunk's data.
func (p *requestParser) feedChunkCRLF(data []byte) (consumed int, done bool) {
	for idx, b := range data {
		if b == '\n' {
			p.state = stateBodyChunkSize
			return idx + 1, true
		}
	}
	return len(data), false
}

// feedChunkTrailer consumes the (usually empty) trailer section following
// the terminal zero-size chunk, up to and including the final blank line.
func (p *requestParser) feedChunkTrailer(data []byte) (consumed int, done bool) {
	for idx, b := range data {
		if b == '\n' {
			line := p.chunkSizeLine
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			p.chunkSizeLine = p.chunkSizeLine[:0]
			if len(line) == 0 {
				p.state = stateMessageComplete
				return idx + 1, true
			}
			continue
		}
		p.chunkSizeLine = append(p.chunkSizeLine, b)
	}
	return len(data), false
}

func (p *requestParser) fail(err error) {
	p.failed = true
	if p.OnError != nil {
		p.OnError(err)
	}
}
