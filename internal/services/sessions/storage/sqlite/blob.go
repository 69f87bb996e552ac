package sqlite

import (
	"fmt"
	"io"
)

// chunkFetcher returns n bytes of a stored blob starting at the zero-based offset.
type chunkFetcher func(offset, n int) ([]byte, error)

// blobReader streams a blob of known size through fixed-size fetches.
type blobReader struct {
	fetch   chunkFetcher
	size    int
	chunk   int
	offset  int
	pending []byte
}

func newBlobReader(fetch chunkFetcher, size, chunk int) *blobReader {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &blobReader{fetch: fetch, size: size, chunk: chunk}
}

// next fetches the following chunk; a short chunk means the blob ended early.
func (r *blobReader) next() ([]byte, error) {
	want := min(r.chunk, r.size-r.offset)
	data, err := r.fetch(r.offset, want)
	if err != nil {
		return nil, err
	}
	if len(data) < want {
		return nil, io.ErrUnexpectedEOF
	}
	if len(data) > want {
		return nil, fmt.Errorf("chunk at offset %d: got %d bytes, want %d", r.offset, len(data), want)
	}
	r.offset += want
	return data, nil
}

func (r *blobReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		if r.offset >= r.size {
			return 0, io.EOF
		}
		data, err := r.next()
		if err != nil {
			return 0, err
		}
		r.pending = data
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// WriteTo hands each fetched chunk straight to w.
func (r *blobReader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	if len(r.pending) > 0 {
		n, err := w.Write(r.pending)
		total += int64(n)
		r.pending = nil
		if err != nil {
			return total, err
		}
	}
	for r.offset < r.size {
		data, err := r.next()
		if err != nil {
			return total, err
		}
		n, err := w.Write(data)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
