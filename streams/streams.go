// Package streams adapts readable byte sources to the crypto engine and
// exposes lazily-decrypted publication content as a stream.
package streams

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wudi/lcpkit/profiles"
)

// ReadableStream is the engine's source collaborator: chunked reads plus
// a known total size.
type ReadableStream interface {
	io.Reader
	Size() int64
}

// ErrSizeUndetermined reports that the decrypted length cannot be known
// without consuming a forward-only source.
var ErrSizeUndetermined = errors.New("decrypted size not determinable for forward-only source")

type readerStream struct {
	r    io.Reader
	size int64
}

func (s *readerStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *readerStream) Size() int64                { return s.size }

// NewReaderStream wraps a forward-only reader with a known size.
func NewReaderStream(r io.Reader, size int64) ReadableStream {
	return &readerStream{r: r, size: size}
}

type bytesStream struct {
	*bytes.Reader
	size int64
}

func (s *bytesStream) Size() int64 { return s.size }

// NewBytesStream wraps an in-memory buffer; the result supports random
// access and exact decrypted-length computation.
func NewBytesStream(data []byte) ReadableStream {
	return &bytesStream{Reader: bytes.NewReader(data), size: int64(len(data))}
}

type fileStream struct {
	f    *os.File
	size int64
}

func (s *fileStream) Read(p []byte) (int, error)                 { return s.f.Read(p) }
func (s *fileStream) ReadAt(p []byte, off int64) (int, error)    { return s.f.ReadAt(p, off) }
func (s *fileStream) Size() int64                                { return s.size }
func (s *fileStream) Close() error                               { return s.f.Close() }

// NewFileStream wraps an open file.
func NewFileStream(f *os.File) (ReadableStream, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat stream source: %w", err)
	}
	return &fileStream{f: f, size: info.Size()}, nil
}

// EncryptedStream reads decrypted publication content on demand from an
// encrypted source. Consumption is forward-only; cipher state is carried
// across reads. Source read errors and cipher errors stay distinct:
// cipher failures match profiles.ErrCipher.
type EncryptedStream struct {
	src  ReadableStream
	algo profiles.SymmetricAlgorithm
	dec  io.Reader
}

// NewEncryptedStream binds a symmetric algorithm instance to src. Nothing
// is decrypted until the first read.
func NewEncryptedStream(algo profiles.SymmetricAlgorithm, src ReadableStream) *EncryptedStream {
	return &EncryptedStream{src: src, algo: algo, dec: algo.NewDecrypter(src)}
}

func (s *EncryptedStream) Read(p []byte) (int, error) { return s.dec.Read(p) }

// EncryptedSize is the size of the underlying ciphertext.
func (s *EncryptedStream) EncryptedSize() int64 { return s.src.Size() }

// DecryptedSize computes the exact plaintext length when the source
// offers random access; forward-only sources report ErrSizeUndetermined.
func (s *EncryptedStream) DecryptedSize() (int64, error) {
	ld, ok := s.algo.(profiles.LengthDecrypter)
	if !ok {
		return 0, ErrSizeUndetermined
	}
	ra, ok := s.src.(io.ReaderAt)
	if !ok {
		return 0, ErrSizeUndetermined
	}
	return ld.DecryptedLength(ra, s.src.Size())
}
