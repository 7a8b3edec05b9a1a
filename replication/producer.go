package replication

import (
	"io"
	"sort"

	"github.com/alpacahq/colstore/column"
	"github.com/alpacahq/colstore/region"
	"github.com/alpacahq/colstore/utils/errs"
	"github.com/alpacahq/colstore/utils/log"
)

// Producer computes deltas of a source column for replicas. Because the
// column is append-only, a replica's row count and data size fully describe
// what it is missing: the index and data tails past that point.
type Producer struct {
	c *column.VarColumn
	// ChunkSize caps each write to the channel.
	ChunkSize int
	// MaxDeltaBytes caps each tail of a single delta. Larger divergence is
	// shipped as several deltas.
	MaxDeltaBytes int64
}

// NewProducer returns a producer for c.
func NewProducer(c *column.VarColumn) *Producer {
	return &Producer{c: c, ChunkSize: DefaultChunkSize, MaxDeltaBytes: maxDeltaBytes}
}

// Configure negotiates one exchange with a replica holding remoteRows rows
// in remoteDataSize data bytes. A replica ahead of, or diverged from, the
// source is a protocol error.
func (p *Producer) Configure(remoteRows, remoteDataSize int64) (*Delta, error) {
	localRows := p.c.Size()
	if remoteRows < 0 || remoteDataSize < 0 {
		return nil, errs.New(errs.ErrProtocol, "producer.configure",
			"negative replica watermark: rows %d, data %d", remoteRows, remoteDataSize)
	}
	if remoteRows > localRows {
		return nil, errs.New(errs.ErrProtocol, "producer.configure",
			"replica has %d rows, source only %d", remoteRows, localRows)
	}
	dataOff, err := p.c.DataOffset(remoteRows)
	if err != nil {
		return nil, err
	}
	if dataOff != remoteDataSize {
		return nil, errs.New(errs.ErrProtocol, "producer.configure",
			"replica data size %d at row %d, source has %d", remoteDataSize, remoteRows, dataOff)
	}
	to, err := p.limit(remoteRows, localRows, dataOff)
	if err != nil {
		return nil, err
	}
	dataEnd, err := p.c.DataOffset(to)
	if err != nil {
		return nil, err
	}
	d := &Delta{
		c:         p.c,
		chunkSize: chunkSize(p.ChunkSize),
		From:      remoteRows,
		To:        to,
		DataOff:   dataOff,
		DataEnd:   dataEnd,
	}
	log.Debug("configured delta rows [%d, %d) data [%d, %d) of %d rows",
		d.From, d.To, d.DataOff, d.DataEnd, localRows)
	return d, nil
}

// limit returns the last row (exclusive) a single delta may carry.
func (p *Producer) limit(from, to, dataOff int64) (int64, error) {
	max := p.MaxDeltaBytes
	if max <= 0 || max > maxDeltaBytes {
		max = maxDeltaBytes
	}
	if rows := max / column.IndexEntrySize; to-from > rows {
		to = from + rows
	}
	end, err := p.c.DataOffset(to)
	if err != nil {
		return 0, err
	}
	if end-dataOff <= max {
		return to, nil
	}
	var searchErr error
	n := sort.Search(int(to-from), func(k int) bool {
		off, err := p.c.DataOffset(from + int64(k) + 1)
		if err != nil {
			searchErr = err
			return true
		}
		return off-dataOff > max
	})
	if searchErr != nil {
		return 0, searchErr
	}
	if n == 0 {
		return 0, errs.New(errs.ErrProtocol, "producer.configure",
			"row %d alone exceeds the %d byte delta limit", from, max)
	}
	return from + int64(n), nil
}

// Delta is one negotiated exchange: rows [From, To) of the source column,
// whose records occupy data bytes [DataOff, DataEnd).
type Delta struct {
	c         *column.VarColumn
	chunkSize int

	From    int64
	To      int64
	DataOff int64
	DataEnd int64
}

// HasContent reports whether the replica is missing any rows.
func (d *Delta) HasContent() bool { return d.To > d.From }

// Rows returns the number of rows carried.
func (d *Delta) Rows() int64 { return d.To - d.From }

// Header returns the wire header of the delta.
func (d *Delta) Header() Header {
	return Header{
		Rows:       int32(d.Rows()),
		IndexBytes: int32(d.Rows() * column.IndexEntrySize),
		DataBytes:  int32(d.DataEnd - d.DataOff),
	}
}

// Size returns the number of bytes WriteTo sends.
func (d *Delta) Size() int64 {
	if !d.HasContent() {
		return 0
	}
	h := d.Header()
	return HeaderSize + int64(h.IndexBytes) + int64(h.DataBytes)
}

// WriteTo implements io.WriterTo. It sends the header, the index tail and the
// data tail, or nothing at all when the delta has no content.
func (d *Delta) WriteTo(w io.Writer) (int64, error) {
	if !d.HasContent() {
		return 0, nil
	}
	var hdr [HeaderSize]byte
	d.Header().Encode(hdr[:])
	total, err := writeFull(w, hdr[:], d.chunkSize)
	if err != nil {
		return total, err
	}
	indexOff := d.From * column.IndexEntrySize
	tails := []*region.SliceIterator{
		d.c.IndexRegion().Slices(indexOff, d.To*column.IndexEntrySize-indexOff),
		d.c.DataRegion().Slices(d.DataOff, d.DataEnd-d.DataOff),
	}
	for _, it := range tails {
		for it.Next() {
			n, err := writeFull(w, it.Bytes(), d.chunkSize)
			total += n
			if err != nil {
				return total, err
			}
		}
		if err := it.Err(); err != nil {
			return total, err
		}
	}
	return total, nil
}
