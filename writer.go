package httpuv

import (
	"fmt"
	"net"
)

// chunkTrailer terminates a chunked-transfer body.
const chunkTrailer = "0\r\n\r\n"

// extendedWriter streams a DataSource to a net.Conn, optionally applying
// chunked transfer-encoding framing, one 64 KiB read/write cycle at a time.
// Because net.Conn.Write blocks until the kernel has accepted the bytes,
// there is structurally never more than one write in flight: next() is never
// called again until the previous Write returned.
type extendedWriter struct {
	conn    net.Conn
	source  DataSource
	chunked bool

	errored   bool
	completed bool

	onComplete func(err error)
}

// newExtendedWriter constructs a writer over conn for source. If chunked is
// true, each read from source is framed as one chunked-transfer chunk.
func newExtendedWriter(conn net.Conn, source DataSource, chunked bool, onComplete func(err error)) *extendedWriter {
	return &extendedWriter{
		conn:       conn,
		source:     source,
		chunked:    chunked,
		onComplete: onComplete,
	}
}

// begin starts the write loop, running until the source is drained, an
// error occurs, or the connection write fails.
func (w *extendedWriter) begin() {
	w.next()
}

// next implements the core pump: pull up to 64 KiB from the source, frame it
// if chunked, and write it; repeat until the source reports end-of-data.
func (w *extendedWriter) next() {
	for {
		if w.errored || w.completed {
			closeErr := w.source.Close()
			var reportErr error
			if w.errored {
				reportErr = closeErr
				if reportErr == nil {
					reportErr = errDataSourceFailed
				}
			}
			if w.onComplete != nil {
				w.onComplete(reportErr)
			}
			return
		}

		buf, err := w.source.GetData(65536)
		if err != nil {
			w.errored = true
			continue
		}
		if len(buf) == 0 {
			w.completed = true
		}

		var prefix, suffix []byte
		switch {
		case w.chunked && len(buf) == 0:
			suffix = []byte(chunkTrailer)
		case w.chunked && len(buf) > 0:
			prefix = []byte(fmt.Sprintf("%X\r\n", len(buf)))
			suffix = []byte("\r\n")
		}

		if len(prefix) == 0 && len(buf) == 0 && len(suffix) == 0 {
			// Nothing to write this round; loop back to next() rather
			// than issuing a zero-buffer write.
			continue
		}

		bufs := make(net.Buffers, 0, 3)
		if len(prefix) > 0 {
			bufs = append(bufs, prefix)
		}
		if len(buf) > 0 {
			bufs = append(bufs, buf)
		}
		if len(suffix) > 0 {
			bufs = append(bufs, suffix)
		}

		_, writeErr := bufs.WriteTo(w.conn)
		w.source.FreeData(buf)
		if writeErr != nil {
			w.errored = true
			continue
		}
	}
}

var errDataSourceFailed = fmt.Errorf("httpuv: data source failed to produce body data")
