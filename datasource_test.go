package httpuv

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDataSourceGetDataInChunks(t *testing.T) {
	d := NewInMemoryDataSource([]byte("hello world"))
	size, known := d.Size()
	require.True(t, known)
	assert.EqualValues(t, 11, size)

	first, err := d.GetData(5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(first))

	rest, err := d.GetData(100)
	require.NoError(t, err)
	assert.Equal(t, " world", string(rest))

	end, err := d.GetData(10)
	require.NoError(t, err)
	assert.Empty(t, end)
}

func TestInMemoryDataSourceAddAppends(t *testing.T) {
	d := NewInMemoryDataSource([]byte("a"))
	d.Add([]byte("b"))
	all, err := d.GetData(10)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(all))
}

func TestGZipDataSourceSizeUnknown(t *testing.T) {
	d := NewGZipDataSource(NewInMemoryDataSource([]byte("payload")), 0)
	_, known := d.Size()
	assert.False(t, known)
}

func TestGZipDataSourceRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 100)
	d := NewGZipDataSource(NewInMemoryDataSource(append([]byte{}, original...)), gzip.BestSpeed)

	var compressed []byte
	for {
		chunk, err := d.GetData(4096)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		compressed = append(compressed, chunk...)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	decoded, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}
