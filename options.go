package httpuv

import "time"

// Options configures a Server, following the plain-struct-passed-to-the-
// constructor convention rather than a package-level global.
type Options struct {
	// Addr is the TCP address to listen on, e.g. ":8080".
	Addr string

	// ReadTimeout, if non-zero, is applied via SetReadDeadline before each
	// read on every connection. Zero disables the deadline.
	ReadTimeout time.Duration

	// IdleTimeout, if non-zero, is also applied via SetReadDeadline before
	// each read, so it bounds the gap between reads (within a message as well
	// as between messages). When both timeouts are set, the earlier deadline
	// wins.
	IdleTimeout time.Duration

	// MaxHeaderBytes caps the size of the request line + header block. Zero
	// means DefaultMaxHeaderBytes.
	MaxHeaderBytes int

	// DisableCompression turns off gzip-encoding of eligible HTTP responses
	// (the Accept-Encoding negotiation in Response.Write normally applies).
	// The zero value leaves compression on: gzip eligibility is driven by the
	// request's Accept-Encoding header alone unless an embedder opts out.
	DisableCompression bool

	// CompressionLevel is passed to the gzip encoder when compression is
	// enabled. Zero means the gzip package's default level.
	CompressionLevel int

	// CheckOrigin, if set, is consulted during the WebSocket handshake; a
	// false result rejects the upgrade. A nil CheckOrigin accepts every
	// origin.
	CheckOrigin func(requestHeaders *Header) bool
}

// DefaultMaxHeaderBytes is used when Options.MaxHeaderBytes is zero.
const DefaultMaxHeaderBytes = 1 << 20

func (o *Options) maxHeaderBytes() int {
	if o.MaxHeaderBytes > 0 {
		return o.MaxHeaderBytes
	}
	return DefaultMaxHeaderBytes
}
