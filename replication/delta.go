package replication

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/alpacahq/colstore/utils/errs"
)

const (
	// HeaderSize is the size of a delta header on the wire.
	HeaderSize = 12
	// DefaultChunkSize is the largest single write or read on a channel.
	DefaultChunkSize = 64 * 1024
	// maxZeroWrites bounds consecutive writes that make no progress.
	maxZeroWrites = 16
)

// Header precedes the index and data tails of a delta. All fields are
// little-endian int32 in the order rows, index bytes, data bytes.
type Header struct {
	Rows       int32
	IndexBytes int32
	DataBytes  int32
}

// Encode writes the header into b, which must hold HeaderSize bytes.
func (h Header) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], uint32(h.Rows))
	binary.LittleEndian.PutUint32(b[4:], uint32(h.IndexBytes))
	binary.LittleEndian.PutUint32(b[8:], uint32(h.DataBytes))
}

// DecodeHeader parses a header from b, which must hold HeaderSize bytes.
func DecodeHeader(b []byte) Header {
	return Header{
		Rows:       int32(binary.LittleEndian.Uint32(b[0:])),
		IndexBytes: int32(binary.LittleEndian.Uint32(b[4:])),
		DataBytes:  int32(binary.LittleEndian.Uint32(b[8:])),
	}
}

// Validate rejects negative counts.
func (h Header) Validate() error {
	if h.Rows < 0 || h.IndexBytes < 0 || h.DataBytes < 0 {
		return errs.New(errs.ErrCorruptData, "replication.header",
			"negative counts: rows %d, index %d, data %d", h.Rows, h.IndexBytes, h.DataBytes)
	}
	return nil
}

// writeFull writes p to w in chunks of at most chunk bytes, retrying short
// writes. Channel failures are reported as errs.ErrIO.
func writeFull(w io.Writer, p []byte, chunk int) (int64, error) {
	var (
		total int64
		zero  int
	)
	for len(p) > 0 {
		n := len(p)
		if n > chunk {
			n = chunk
		}
		m, err := w.Write(p[:n])
		total += int64(m)
		p = p[m:]
		if err != nil {
			return total, errs.Wrap(errs.ErrIO, "replication.write", err)
		}
		if m == 0 {
			if zero++; zero >= maxZeroWrites {
				return total, errs.Wrap(errs.ErrIO, "replication.write", io.ErrShortWrite)
			}
			continue
		}
		zero = 0
	}
	return total, nil
}

// readFull fills p from r. A stream that ends early is a protocol error,
// any other failure an I/O error.
func readFull(r io.Reader, p []byte) error {
	if _, err := io.ReadFull(r, p); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errs.Wrap(errs.ErrProtocol, "replication.read", io.ErrUnexpectedEOF)
		}
		return errs.Wrap(errs.ErrIO, "replication.read", err)
	}
	return nil
}

func chunkSize(n int) int {
	if n <= 0 {
		return DefaultChunkSize
	}
	return n
}

// maxDeltaBytes is the most a single delta may carry in either tail.
const maxDeltaBytes = math.MaxInt32
