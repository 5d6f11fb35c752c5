package httpuv

import (
	"net"
	"strconv"
	"strings"
)

// tinyBodyInlineThreshold is the cutoff for a 101 response: bodies under
// this size are appended directly to the header buffer instead of being
// streamed separately.
const tinyBodyInlineThreshold = 256

// Response is an HTTP/1.1 response under construction: a status line, a
// header list, and an optional body DataSource.
type Response struct {
	StatusCode int
	Reason     string
	headers    *Header
	body       DataSource

	requestHeaders *Header // the originating request's headers, for gzip negotiation

	closeAfterWritten bool

	compressionEnabled bool
	compressionLevel   int

	onWritten func(err error)
}

// NewResponse starts a response with the given status line and no body.
// Gzip negotiation is enabled by default; a Connection with
// Options.DisableCompression set disables it via DisableCompression before
// writing.
func NewResponse(statusCode int, reason string, requestHeaders *Header) *Response {
	return &Response{
		StatusCode:         statusCode,
		Reason:             reason,
		headers:            NewHeader(),
		requestHeaders:     requestHeaders,
		compressionEnabled: true,
	}
}

// DisableCompression turns off gzip negotiation for this response
// regardless of the request's Accept-Encoding header.
func (r *Response) DisableCompression() {
	r.compressionEnabled = false
}

// SetCompressionLevel sets the gzip level used if this response ends up
// gzip-eligible (see klauspost/compress/gzip's level constants). Zero keeps
// the encoder's default.
func (r *Response) SetCompressionLevel(level int) {
	r.compressionLevel = level
}

// SetBody attaches a body DataSource to the response.
func (r *Response) SetBody(body DataSource) {
	r.body = body
}

// AddHeader appends name/value as a new header line, even if name is
// already present — used for headers like Set-Cookie that may repeat.
func (r *Response) AddHeader(name, value string) {
	r.headers.Add(name, value)
}

// SetHeader removes any existing header matching name (case-insensitively)
// and appends name/value as the sole entry.
func (r *Response) SetHeader(name, value string) {
	r.headers.Set(name, value)
}

// CloseAfterWritten marks the response so the connection closes once the
// header/body write finishes, and injects a Connection: close header.
func (r *Response) CloseAfterWritten() {
	r.closeAfterWritten = true
	r.SetHeader("Connection", "close")
}

// Write renders and sends the response over conn, following the procedure:
// render the status line, pass through caller headers (excluding
// Content-Length, which is tracked separately), decide gzip eligibility,
// decide transfer framing (101 / chunked / fixed Content-Length / neither),
// and — for a 101 response with a small body — inline the body bytes into
// the same write. onDone is invoked once the header write (and, if
// streaming, the body write) completes.
func (r *Response) Write(conn net.Conn, onDone func(err error)) {
	r.onWritten = onDone

	savedContentLength := ""
	hasContentEncoding := false
	rendered := NewHeader()
	for _, p := range r.headers.Pairs() {
		switch {
		case strings.EqualFold(p.name, "Content-Length"):
			savedContentLength = p.value
		case strings.EqualFold(p.name, "Content-Encoding"):
			hasContentEncoding = true
			rendered.Add(p.name, p.value)
		default:
			rendered.Add(p.name, p.value)
		}
	}

	bodyPresent := r.body != nil
	chunked := false

	gzipEligible := r.compressionEnabled &&
		!hasContentEncoding &&
		r.StatusCode != 101 &&
		bodyPresent &&
		r.requestHeaders != nil &&
		r.requestHeaders.ContainsSubstring("Accept-Encoding", "gzip")

	if gzipEligible {
		rendered.Add("Content-Encoding", "gzip")
		chunked = true
		r.body = NewGZipDataSource(r.body, r.compressionLevel)
	}

	var bodySize int64
	var bodyKnownSize bool
	if bodyPresent && !chunked {
		bodySize, bodyKnownSize = r.body.Size()
		if !bodyKnownSize && r.StatusCode != 101 {
			chunked = true
		}
	}

	switch {
	case r.StatusCode == 101:
		// Neither Content-Length nor Transfer-Encoding.
	case chunked:
		rendered.Add("Transfer-Encoding", "chunked")
	case savedContentLength != "":
		rendered.Add("Content-Length", savedContentLength)
	case bodyPresent:
		rendered.Add("Content-Length", strconv.FormatInt(bodySize, 10))
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, "HTTP/1.1 "...)
	buf = append(buf, strconv.Itoa(r.StatusCode)...)
	buf = append(buf, ' ')
	buf = append(buf, r.Reason...)
	buf = append(buf, "\r\n"...)
	for _, p := range rendered.Pairs() {
		buf = append(buf, p.name...)
		buf = append(buf, ": "...)
		buf = append(buf, p.value...)
		buf = append(buf, "\r\n"...)
	}
	buf = append(buf, "\r\n"...)

	inlinedBody := false
	if r.StatusCode == 101 && bodyPresent && bodyKnownSize && bodySize < tinyBodyInlineThreshold {
		data, err := r.body.GetData(int(bodySize))
		if err == nil {
			buf = append(buf, data...)
			r.body.FreeData(data)
			inlinedBody = true
		}
	}

	_, err := conn.Write(buf)
	r.onResponseWritten(conn, err, bodyPresent && !inlinedBody, chunked)
}

// onResponseWritten follows the header-write-completion procedure: a write
// error, or no body left to stream, ends the response here; otherwise an
// extendedWriter takes over, also when closeAfterWritten is set.
func (r *Response) onResponseWritten(conn net.Conn, writeErr error, bodyRemains bool, chunked bool) {
	if writeErr != nil {
		if r.onWritten != nil {
			r.onWritten(writeErr)
		}
		return
	}
	if r.closeAfterWritten && !bodyRemains {
		if r.onWritten != nil {
			r.onWritten(nil)
		}
		return
	}
	if !bodyRemains {
		if r.onWritten != nil {
			r.onWritten(nil)
		}
		return
	}
	w := newExtendedWriter(conn, r.body, chunked, func(err error) {
		if r.onWritten != nil {
			r.onWritten(err)
		}
	})
	w.begin()
}

