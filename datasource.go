package httpuv

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// DataSource is a pull-model body producer for a Response. Size reports the
// total byte count if known ahead of time, or (0, false) when it cannot be
// (forcing chunked transfer). GetData returns up to n bytes; FreeData
// releases a slice previously returned by GetData; Close releases any
// underlying resources.
type DataSource interface {
	Size() (size int64, known bool)
	GetData(n int) ([]byte, error)
	FreeData([]byte)
	Close() error
}

// InMemoryDataSource serves a fixed byte buffer, tracking a read cursor.
type InMemoryDataSource struct {
	buf []byte
	pos int
}

// NewInMemoryDataSource wraps buf for streaming. buf is not copied; the
// caller must not mutate it afterward.
func NewInMemoryDataSource(buf []byte) *InMemoryDataSource {
	return &InMemoryDataSource{buf: buf}
}

// Add appends more bytes to the end of the buffer, for building a body
// incrementally before it is streamed.
func (d *InMemoryDataSource) Add(p []byte) {
	d.buf = append(d.buf, p...)
}

func (d *InMemoryDataSource) Size() (int64, bool) {
	return int64(len(d.buf)), true
}

// GetData returns up to n bytes starting at the current cursor, advancing
// it. It never errors: an in-memory buffer cannot fail to produce bytes.
func (d *InMemoryDataSource) GetData(n int) ([]byte, error) {
	remaining := len(d.buf) - d.pos
	if remaining <= 0 {
		return nil, nil
	}
	if n > remaining {
		n = remaining
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

// FreeData is a no-op: GetData returns sub-slices of the owned buffer, which
// the garbage collector reclaims once the Response releases its reference.
func (d *InMemoryDataSource) FreeData([]byte) {}

// Close discards the buffer.
func (d *InMemoryDataSource) Close() error {
	d.buf = nil
	d.pos = len(d.buf)
	return nil
}

// GZipDataSource wraps an inner DataSource, streaming its bytes through a
// gzip encoder. Its encoded size is never known ahead of time, so a Response
// using it must switch to chunked transfer encoding.
type GZipDataSource struct {
	pr   *io.PipeReader
	pw   *io.PipeWriter
	gz   *gzip.Writer
	done chan struct{}
}

// NewGZipDataSource returns a DataSource that gzip-compresses inner's bytes
// at the given level (see gzip.NoCompression..gzip.BestCompression; 0 keeps
// gzip.DefaultCompression). inner is read to completion on a background
// goroutine started immediately, bridging gzip.Writer's push-based API to
// the pull-based DataSource contract via an io.Pipe.
func NewGZipDataSource(inner DataSource, level int) *GZipDataSource {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	pr, pw := io.Pipe()
	gz, err := gzip.NewWriterLevel(pw, level)
	if err != nil {
		gz = gzip.NewWriter(pw)
	}
	d := &GZipDataSource{
		pr:   pr,
		pw:   pw,
		gz:   gz,
		done: make(chan struct{}),
	}
	d.start(inner)
	return d
}

func (d *GZipDataSource) Size() (int64, bool) {
	return 0, false
}

func (d *GZipDataSource) start(inner DataSource) {
	go func() {
		defer close(d.done)
		defer inner.Close()
		for {
			chunk, err := inner.GetData(65536)
			if err != nil {
				d.pw.CloseWithError(err)
				return
			}
			if len(chunk) == 0 {
				break
			}
			if _, err := d.gz.Write(chunk); err != nil {
				d.pw.CloseWithError(err)
				return
			}
			inner.FreeData(chunk)
		}
		if err := d.gz.Close(); err != nil {
			d.pw.CloseWithError(err)
			return
		}
		d.pw.Close()
	}()
}

// GetData blocks until up to n compressed bytes are available, or the gzip
// stream ends (returning io.EOF as a nil, nil result per the DataSource
// contract: an empty slice with no error signals end of stream).
func (d *GZipDataSource) GetData(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := d.pr.Read(buf)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return buf[:read], nil
}

func (d *GZipDataSource) FreeData([]byte) {}

func (d *GZipDataSource) Close() error {
	return d.pr.Close()
}
