package replication

import (
	"io"

	"github.com/alpacahq/colstore/column"
	"github.com/alpacahq/colstore/utils/log"
)

// exchange is the state of one delta being applied.
type exchange struct {
	header  Header
	read    int64
	applied int64
}

// Consumer applies deltas read from a channel to a replica column. Applied
// rows are staged; the caller commits them once every delta of an exchange
// has been read in full.
type Consumer struct {
	c *column.VarColumn
	// ChunkSize caps each read from the channel.
	ChunkSize int

	ex  exchange
	buf []byte
}

// NewConsumer returns a consumer for c.
func NewConsumer(c *column.VarColumn) *Consumer {
	return &Consumer{c: c, ChunkSize: DefaultChunkSize}
}

// Watermark returns the committed extent the replica reports to a producer.
func (cs *Consumer) Watermark() column.Watermark { return cs.c.Watermark() }

// Reset starts a fresh exchange, discarding anything staged by an earlier one.
func (cs *Consumer) Reset() {
	cs.ex = exchange{}
	cs.c.Rollback()
}

// Applied returns the number of rows staged in the current exchange.
func (cs *Consumer) Applied() int64 { return cs.ex.applied }

// BytesRead returns the number of channel bytes consumed in the current
// exchange.
func (cs *Consumer) BytesRead() int64 { return cs.ex.read }

// ReadFrom implements io.ReaderFrom. It reads one delta from r and stages its
// rows on the column. Any failure rolls back every row staged on the column,
// leaving committed rows intact.
func (cs *Consumer) ReadFrom(r io.Reader) (n int64, err error) {
	defer func() {
		cs.ex.read += n
		if err != nil {
			log.Warn("discarding delta after %d bytes: %v", n, err)
			cs.ex.applied = 0
			cs.c.Rollback()
		}
	}()

	var hdr [HeaderSize]byte
	if err := readFull(r, hdr[:]); err != nil {
		return 0, err
	}
	n = HeaderSize
	h := DecodeHeader(hdr[:])
	if err := h.Validate(); err != nil {
		return n, err
	}
	raw, err := cs.c.BeginRaw(int64(h.Rows), int64(h.IndexBytes), int64(h.DataBytes))
	if err != nil {
		return n, err
	}
	cs.ex.header = h

	m, err := cs.copy(r, int64(h.IndexBytes), raw.WriteIndex)
	n += m
	if err != nil {
		return n, err
	}
	m, err = cs.copy(r, int64(h.DataBytes), raw.WriteData)
	n += m
	if err != nil {
		return n, err
	}
	if err := raw.Finish(); err != nil {
		return n, err
	}
	cs.ex.applied += int64(h.Rows)
	log.Debug("staged %d rows from a %d byte delta", h.Rows, n)
	return n, nil
}

// copy moves exactly n bytes from r into write.
func (cs *Consumer) copy(r io.Reader, n int64, write func([]byte) (int, error)) (int64, error) {
	chunk := chunkSize(cs.ChunkSize)
	if len(cs.buf) < chunk {
		cs.buf = make([]byte, chunk)
	}
	var total int64
	for total < n {
		p := cs.buf[:chunk]
		if rest := n - total; rest < int64(chunk) {
			p = p[:rest]
		}
		if err := readFull(r, p); err != nil {
			return total, err
		}
		if _, err := write(p); err != nil {
			return total, err
		}
		total += int64(len(p))
	}
	return total, nil
}

// Commit publishes the rows staged in the current exchange and starts a
// fresh one.
func (cs *Consumer) Commit() error {
	if err := cs.c.Commit(); err != nil {
		return err
	}
	cs.ex = exchange{}
	return nil
}
