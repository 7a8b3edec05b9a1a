package replication_test

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/colstore/column"
	"github.com/alpacahq/colstore/replication"
	"github.com/alpacahq/colstore/utils/errs"
)

func openColumn(t *testing.T, dataBitHint, indexBitHint int) *column.VarColumn {
	t.Helper()
	c, err := column.Open(t.TempDir(), "col", dataBitHint, indexBitHint)
	require.Nil(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func putStrings(t *testing.T, c *column.VarColumn, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		require.Nil(t, c.PutString("test123"+strconv.Itoa(i)))
	}
	require.Nil(t, c.Commit())
}

func assertConverged(t *testing.T, src, dst *column.VarColumn) {
	t.Helper()
	require.Equal(t, src.Size(), dst.Size())
	require.Equal(t, src.DataSize(), dst.DataSize())
	for i := int64(0); i < src.Size(); i++ {
		want, err := src.GetBytes(i)
		require.Nil(t, err)
		got, err := dst.GetBytes(i)
		require.Nil(t, err)
		if !assert.Equal(t, want, got, "row %d", i) {
			return
		}
	}
	require.Nil(t, dst.Verify())
}

func TestHeader_EncodeLittleEndian(t *testing.T) {
	t.Parallel()

	var b [replication.HeaderSize]byte
	replication.Header{Rows: 1, IndexBytes: 8, DataBytes: 0x0102}.Encode(b[:])
	assert.Equal(t, []byte{1, 0, 0, 0, 8, 0, 0, 0, 2, 1, 0, 0}, b[:])
	assert.Equal(t, replication.Header{Rows: 1, IndexBytes: 8, DataBytes: 0x0102}, replication.DecodeHeader(b[:]))
}

func TestSync_EmptyReplica(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 22, 18)
	dst := openColumn(t, 22, 18)
	putStrings(t, src, 0, 150000)

	n, err := replication.Sync(replication.NewProducer(src), replication.NewConsumer(dst))
	require.Nil(t, err)
	assert.Equal(t, replication.HeaderSize+150000*column.IndexEntrySize+src.DataSize(), n)
	assert.Equal(t, int64(150000), dst.Size())
	for _, i := range []int64{0, 1, 65535, 99999, 149999} {
		s, ok, err := dst.GetString(i)
		require.Nil(t, err)
		assert.True(t, ok)
		assert.Equal(t, "test123"+strconv.FormatInt(i, 10), s)
	}
	assertConverged(t, src, dst)
}

func TestSync_PartialReplica(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 16, 12)
	dst := openColumn(t, 16, 12)
	putStrings(t, src, 0, 100000)
	putStrings(t, dst, 0, 100000)
	replicaData := dst.DataSize()
	putStrings(t, src, 100000, 150000)

	d, err := replication.NewProducer(src).Configure(dst.Size(), dst.DataSize())
	require.Nil(t, err)
	require.True(t, d.HasContent())
	assert.Equal(t, int64(50000), d.Rows())
	assert.Equal(t, replicaData, d.DataOff)

	n, err := replication.Sync(replication.NewProducer(src), replication.NewConsumer(dst))
	require.Nil(t, err)
	assert.Equal(t, d.Size(), n)
	assert.Equal(t, replication.HeaderSize+50000*column.IndexEntrySize+src.DataSize()-replicaData, n)
	assertConverged(t, src, dst)
}

func TestSync_NoContent(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 16, 12)
	dst := openColumn(t, 16, 12)

	// both empty
	d, err := replication.NewProducer(src).Configure(0, 0)
	require.Nil(t, err)
	assert.False(t, d.HasContent())

	putStrings(t, src, 0, 1000)
	putStrings(t, dst, 0, 1000)
	d, err = replication.NewProducer(src).Configure(dst.Size(), dst.DataSize())
	require.Nil(t, err)
	assert.False(t, d.HasContent())
	assert.Equal(t, int64(0), d.Size())

	var buf bytes.Buffer
	n, err := d.WriteTo(&buf)
	require.Nil(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, 0, buf.Len())

	n, err = replication.Sync(replication.NewProducer(src), replication.NewConsumer(dst))
	require.Nil(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSync_RepeatedTransfersNothing(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 16, 12)
	dst := openColumn(t, 16, 12)
	p, cs := replication.NewProducer(src), replication.NewConsumer(dst)
	putStrings(t, src, 0, 5000)

	n, err := replication.Sync(p, cs)
	require.Nil(t, err)
	assert.True(t, n > 0)

	n, err = replication.Sync(p, cs)
	require.Nil(t, err)
	assert.Equal(t, int64(0), n)
	assertConverged(t, src, dst)
}

func TestSync_SourceKeepsGrowing(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 18, 14)
	dst := openColumn(t, 18, 14)
	p, cs := replication.NewProducer(src), replication.NewConsumer(dst)

	putStrings(t, src, 0, 150000)
	_, err := replication.Sync(p, cs)
	require.Nil(t, err)
	assertConverged(t, src, dst)

	putStrings(t, src, 150000, 151000)
	n, err := replication.Sync(p, cs)
	require.Nil(t, err)
	assert.True(t, n > 1000*column.IndexEntrySize)
	assert.Equal(t, int64(151000), dst.Size())
	assertConverged(t, src, dst)
}

func TestSync_NullEmptyAndBinaryRows(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 8, 8)
	dst := openColumn(t, 8, 8)

	payload := make([]byte, 2560)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.Nil(t, src.PutString("first"))
	require.Nil(t, src.PutNull())
	require.Nil(t, src.PutBytes([]byte{}))
	w, err := src.PutBin()
	require.Nil(t, err)
	_, err = w.Write(payload)
	require.Nil(t, err)
	require.Nil(t, w.Close())
	require.Nil(t, src.PutString("last"))
	require.Nil(t, src.Commit())

	_, err = replication.Sync(replication.NewProducer(src), replication.NewConsumer(dst))
	require.Nil(t, err)
	assertConverged(t, src, dst)

	null, err := dst.IsNull(1)
	require.Nil(t, err)
	assert.True(t, null)
	empty, err := dst.GetBytes(2)
	require.Nil(t, err)
	assert.NotNil(t, empty)
	assert.Len(t, empty, 0)

	r, err := dst.StreamBinary(3)
	require.Nil(t, err)
	got := make([]byte, 300)
	n, err := r.CopyTo(got, 641, 300)
	require.Nil(t, err)
	assert.Equal(t, int64(300), n)
	assert.Equal(t, payload[641:941], got)
}

func TestProducer_ReplicaAhead(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 16, 12)
	dst := openColumn(t, 16, 12)
	putStrings(t, src, 0, 10)
	putStrings(t, dst, 0, 20)

	_, err := replication.NewProducer(src).Configure(dst.Size(), dst.DataSize())
	assert.True(t, errors.Is(err, errs.ErrProtocol))

	n, err := replication.Sync(replication.NewProducer(src), replication.NewConsumer(dst))
	assert.True(t, errors.Is(err, errs.ErrProtocol))
	assert.Equal(t, int64(0), n)
	assert.Equal(t, int64(20), dst.Size())
}

func TestProducer_DivergedReplica(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 16, 12)
	putStrings(t, src, 0, 10)

	p := replication.NewProducer(src)
	_, err := p.Configure(5, 3)
	assert.True(t, errors.Is(err, errs.ErrProtocol))
	_, err = p.Configure(-1, 0)
	assert.True(t, errors.Is(err, errs.ErrProtocol))
}

func TestProducer_MaxDeltaBytesSplitsExchange(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 12, 10)
	dst := openColumn(t, 12, 10)
	putStrings(t, src, 0, 3000)

	p := replication.NewProducer(src)
	p.MaxDeltaBytes = 1024
	d, err := p.Configure(0, 0)
	require.Nil(t, err)
	assert.True(t, d.Rows() < src.Size())
	assert.True(t, d.DataEnd-d.DataOff <= 1024)
	assert.True(t, d.Rows()*column.IndexEntrySize <= 1024)

	_, err = replication.Sync(p, replication.NewConsumer(dst))
	require.Nil(t, err)
	assertConverged(t, src, dst)
}

func TestProducer_RowLargerThanDeltaLimit(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 12, 10)
	require.Nil(t, src.PutBytes(make([]byte, 100)))
	require.Nil(t, src.Commit())

	p := replication.NewProducer(src)
	p.MaxDeltaBytes = 64
	_, err := p.Configure(0, 0)
	assert.True(t, errors.Is(err, errs.ErrProtocol))
}

type trickleWriter struct {
	w   io.Writer
	max int
}

func (tw *trickleWriter) Write(p []byte) (int, error) {
	if len(p) > tw.max {
		p = p[:tw.max]
	}
	return tw.w.Write(p)
}

type stuckWriter struct{}

func (stuckWriter) Write([]byte) (int, error) { return 0, nil }

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestDelta_WriteToRetriesShortWrites(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 8, 8)
	dst := openColumn(t, 8, 8)
	putStrings(t, src, 0, 500)

	p := replication.NewProducer(src)
	p.ChunkSize = 100
	d, err := p.Configure(0, 0)
	require.Nil(t, err)

	var buf bytes.Buffer
	n, err := d.WriteTo(&trickleWriter{w: &buf, max: 7})
	require.Nil(t, err)
	assert.Equal(t, d.Size(), n)
	assert.Equal(t, d.Size(), int64(buf.Len()))

	cs := replication.NewConsumer(dst)
	cs.ChunkSize = 33
	m, err := cs.ReadFrom(iotest.OneByteReader(&buf))
	require.Nil(t, err)
	assert.Equal(t, n, m)
	assert.Equal(t, int64(500), cs.Applied())
	assert.Equal(t, int64(0), dst.Size(), "staged rows stay invisible until commit")
	require.Nil(t, cs.Commit())
	assertConverged(t, src, dst)
}

func TestDelta_WriteToChannelFailure(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 8, 8)
	putStrings(t, src, 0, 10)
	d, err := replication.NewProducer(src).Configure(0, 0)
	require.Nil(t, err)

	_, err = d.WriteTo(stuckWriter{})
	assert.True(t, errors.Is(err, errs.ErrIO))
	assert.True(t, errors.Is(err, io.ErrShortWrite))

	_, err = d.WriteTo(brokenWriter{})
	assert.True(t, errors.Is(err, errs.ErrIO))
}

func encodedDelta(t *testing.T, src *column.VarColumn, rows, dataSize int64) []byte {
	t.Helper()
	d, err := replication.NewProducer(src).Configure(rows, dataSize)
	require.Nil(t, err)
	var buf bytes.Buffer
	_, err = d.WriteTo(&buf)
	require.Nil(t, err)
	return buf.Bytes()
}

func TestConsumer_TruncatedStream(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 8, 8)
	dst := openColumn(t, 8, 8)
	putStrings(t, src, 0, 100)
	putStrings(t, dst, 0, 40)
	b := encodedDelta(t, src, dst.Size(), dst.DataSize())

	for _, cut := range []int{0, 5, replication.HeaderSize, replication.HeaderSize + 60*8, len(b) - 1} {
		cs := replication.NewConsumer(dst)
		_, err := cs.ReadFrom(bytes.NewReader(b[:cut]))
		assert.True(t, errors.Is(err, errs.ErrProtocol), "cut at %d: %v", cut, err)
		assert.Equal(t, int64(0), dst.Pending())
		assert.Equal(t, int64(0), cs.Applied())
		require.Nil(t, cs.Commit())
		assert.Equal(t, int64(40), dst.Size())
	}

	// the whole stream still applies afterwards
	cs := replication.NewConsumer(dst)
	_, err := cs.ReadFrom(bytes.NewReader(b))
	require.Nil(t, err)
	require.Nil(t, cs.Commit())
	assertConverged(t, src, dst)
}

func TestConsumer_MalformedHeader(t *testing.T) {
	t.Parallel()

	dst := openColumn(t, 8, 8)
	tests := []struct {
		name   string
		header replication.Header
	}{
		{name: "negative rows", header: replication.Header{Rows: -1}},
		{name: "negative data", header: replication.Header{Rows: 1, IndexBytes: 8, DataBytes: -4}},
		{name: "index bytes disagree with rows", header: replication.Header{Rows: 2, IndexBytes: 8, DataBytes: 8}},
		{name: "data too short for rows", header: replication.Header{Rows: 2, IndexBytes: 16, DataBytes: 4}},
	}
	for _, tt := range tests {
		var b [replication.HeaderSize]byte
		tt.header.Encode(b[:])
		_, err := replication.NewConsumer(dst).ReadFrom(bytes.NewReader(b[:]))
		assert.True(t, errors.Is(err, errs.ErrCorruptData), "%s: %v", tt.name, err)
	}
	assert.Equal(t, int64(0), dst.Size())
}

func TestConsumer_CorruptIndexTail(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 8, 8)
	dst := openColumn(t, 8, 8)
	putStrings(t, src, 0, 10)
	b := encodedDelta(t, src, 0, 0)

	// second index entry points one byte too far
	b[replication.HeaderSize+8]++
	cs := replication.NewConsumer(dst)
	_, err := cs.ReadFrom(bytes.NewReader(b))
	assert.True(t, errors.Is(err, errs.ErrCorruptData))
	assert.Equal(t, int64(0), dst.Pending())
	require.Nil(t, cs.Commit())
	assert.Equal(t, int64(0), dst.Size())
}

func TestConsumer_SeveralDeltasOneCommit(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 8, 8)
	dst := openColumn(t, 8, 8)
	putStrings(t, src, 0, 30)
	first := encodedDelta(t, src, 0, 0)
	wm := src.Watermark()
	putStrings(t, src, 30, 75)
	second := encodedDelta(t, src, wm.Rows, wm.DataSize)

	cs := replication.NewConsumer(dst)
	cs.Reset()
	_, err := cs.ReadFrom(bytes.NewReader(first))
	require.Nil(t, err)
	_, err = cs.ReadFrom(bytes.NewReader(second))
	require.Nil(t, err)
	assert.Equal(t, int64(75), cs.Applied())
	assert.Equal(t, int64(len(first)+len(second)), cs.BytesRead())
	assert.Equal(t, int64(0), dst.Size())

	require.Nil(t, cs.Commit())
	assertConverged(t, src, dst)
}

func TestConsumer_ResetDiscardsStagedRows(t *testing.T) {
	t.Parallel()

	src := openColumn(t, 8, 8)
	dst := openColumn(t, 8, 8)
	putStrings(t, src, 0, 30)

	cs := replication.NewConsumer(dst)
	_, err := cs.ReadFrom(bytes.NewReader(encodedDelta(t, src, 0, 0)))
	require.Nil(t, err)
	assert.Equal(t, int64(30), dst.Pending())

	cs.Reset()
	assert.Equal(t, int64(0), dst.Pending())
	assert.Equal(t, int64(0), cs.Applied())
	require.Nil(t, cs.Commit())
	assert.Equal(t, int64(0), dst.Size())
}
