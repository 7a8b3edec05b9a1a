package column_test

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"github.com/alpacahq/colstore/column"
	"github.com/alpacahq/colstore/region"
	"github.com/alpacahq/colstore/utils/errs"
)

func openColumn(t *testing.T, dir string, dataBitHint int, opts ...column.Option) *column.VarColumn {
	t.Helper()
	c, err := column.Open(dir, "col", dataBitHint, 12, opts...)
	require.Nil(t, err)
	return c
}

func newColumn(t *testing.T, dataBitHint int, opts ...column.Option) *column.VarColumn {
	t.Helper()
	c := openColumn(t, t.TempDir(), dataBitHint, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func binaryPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i%255 - 128)
	}
	return p
}

func TestVarColumn_PutCommitGetString(t *testing.T) {
	t.Parallel()

	c := newColumn(t, 8)
	const max = 1000
	for i := 0; i < max; i++ {
		require.Nil(t, c.PutString("test123"+strconv.Itoa(max-i)))
		assert.Equal(t, int64(i), c.Size(), "put does not change size")
		require.Nil(t, c.Commit())
		assert.Equal(t, int64(i+1), c.Size())
	}
	for i := 0; i < max; i++ {
		s, ok, err := c.GetString(int64(i))
		require.Nil(t, err)
		assert.True(t, ok)
		assert.Equal(t, "test123"+strconv.Itoa(max-i), s)
	}
	require.Nil(t, c.Verify())
}

func TestVarColumn_UncommittedRowsAreInvisible(t *testing.T) {
	t.Parallel()

	c := newColumn(t, 8)
	require.Nil(t, c.PutString("a"))
	require.Nil(t, c.PutString("b"))
	assert.Equal(t, int64(0), c.Size())
	assert.Equal(t, int64(2), c.Pending())
	assert.Equal(t, int64(0), c.DataSize())

	_, _, err := c.GetString(0)
	assert.True(t, errors.Is(err, errs.ErrOutOfBounds))

	require.Nil(t, c.Commit())
	assert.Equal(t, int64(2), c.Size())
	assert.Equal(t, int64(10), c.DataSize())

	// commit with nothing staged is a no-op
	require.Nil(t, c.Commit())
	assert.Equal(t, int64(2), c.Size())

	_, err = c.GetBytes(2)
	assert.True(t, errors.Is(err, errs.ErrOutOfBounds))
	_, err = c.GetBytes(-1)
	assert.True(t, errors.Is(err, errs.ErrOutOfBounds))
}

func TestVarColumn_NullIsNotEmpty(t *testing.T) {
	t.Parallel()

	c := newColumn(t, 8)
	require.Nil(t, c.PutNull())
	require.Nil(t, c.Commit())
	require.Nil(t, c.PutBytes(nil))
	require.Nil(t, c.Commit())
	require.Nil(t, c.PutString(""))
	require.Nil(t, c.Commit())

	b, err := c.GetBytes(0)
	require.Nil(t, err)
	assert.Nil(t, b)
	isNull, err := c.IsNull(0)
	require.Nil(t, err)
	assert.True(t, isNull)
	_, ok, err := c.GetString(0)
	require.Nil(t, err)
	assert.False(t, ok)
	r, err := c.StreamBinary(0)
	require.Nil(t, err)
	assert.Nil(t, r)

	for _, i := range []int64{1, 2} {
		b, err = c.GetBytes(i)
		require.Nil(t, err)
		assert.NotNil(t, b)
		assert.Len(t, b, 0)
		s, ok, err := c.GetString(i)
		require.Nil(t, err)
		assert.True(t, ok)
		assert.Equal(t, "", s)
		isNull, err = c.IsNull(i)
		require.Nil(t, err)
		assert.False(t, isNull)
	}
	length, err := c.Len(0)
	require.Nil(t, err)
	assert.Equal(t, column.NullLength, length)
}

func TestVarColumn_BytesRoundTrip(t *testing.T) {
	t.Parallel()

	c := newColumn(t, 8)
	lengths := []int{0, 1, 251, 252, 256, 257, 2560, 70000}
	for _, n := range lengths {
		p := binaryPayload(n)
		require.Nil(t, c.PutBytes(p))
		require.Nil(t, c.Commit())

		got, err := c.GetBytes(c.Size() - 1)
		require.Nil(t, err)
		assert.True(t, bytes.Equal(p, got), "length %d", n)
	}
	// earlier rows are unaffected by later appends
	for i, n := range lengths {
		got, err := c.GetBytes(int64(i))
		require.Nil(t, err)
		assert.Len(t, got, n)
	}
}

func TestVarColumn_ReadBinaryColumnData(t *testing.T) {
	t.Parallel()

	// --- given ---
	c := newColumn(t, 8)
	max := (1 << 8) * 10
	w, err := c.PutBin()
	require.Nil(t, err)
	for i := 0; i < max; i++ {
		_, err = w.Write([]byte{byte(i%255 - 128)})
		require.Nil(t, err)
	}
	require.Nil(t, w.Close())
	require.Nil(t, c.Commit())

	// --- when ---
	r, err := c.StreamBinary(0)
	require.Nil(t, err)
	result, err := io.ReadAll(r)

	// --- then ---
	require.Nil(t, err)
	assert.Equal(t, int64(max), r.Len())
	assert.Equal(t, binaryPayload(max), result)

	// the reader does not restart
	n, err := r.Read(make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestVarColumn_CopyBinaryColumnData(t *testing.T) {
	t.Parallel()

	// --- given ---
	c := newColumn(t, 8)
	max := (1 << 8) * 10
	payload := binaryPayload(max)
	require.Nil(t, c.PutBytes(payload))
	require.Nil(t, c.Commit())

	// 641 is the first prime after max/4, so offsets land off page boundaries
	shift := 641
	for offset := 0; offset < max; offset += shift {
		// --- when ---
		readLen := max - offset
		r, err := c.StreamBinary(0)
		require.Nil(t, err)
		dst := make([]byte, readLen)
		n, err := r.CopyTo(dst, int64(offset), int64(readLen))

		// --- then ---
		require.Nil(t, err)
		assert.Equal(t, int64(readLen), n)
		assert.Equal(t, payload[offset:], dst, "read offset %d", offset)
	}
}

func TestBinaryReader_SubRanges(t *testing.T) {
	t.Parallel()

	c := newColumn(t, 8)
	payload := binaryPayload(2560)
	require.Nil(t, c.PutString("prefix moves the payload off page alignment"))
	require.Nil(t, c.PutBytes(payload))
	require.Nil(t, c.Commit())

	r, err := c.StreamBinary(1)
	require.Nil(t, err)
	for _, rng := range [][2]int64{{0, 1}, {255, 2}, {300, 700}, {1, 2559}, {2559, 1}, {1000, 0}} {
		dst := make([]byte, rng[1])
		_, err := r.CopyTo(dst, rng[0], rng[1])
		require.Nil(t, err)
		assert.Equal(t, payload[rng[0]:rng[0]+rng[1]], dst)
	}

	_, err = r.CopyTo(make([]byte, 10), 2555, 10)
	assert.True(t, errors.Is(err, errs.ErrOutOfBounds))
	_, err = r.CopyTo(make([]byte, 5), 0, 10)
	assert.True(t, errors.Is(err, errs.ErrOutOfBounds))

	buf := make([]byte, 100)
	n, err := r.ReadAt(buf, 2500)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 60, n)
	assert.Equal(t, payload[2500:], buf[:n])

	var out bytes.Buffer
	written, err := r.WriteTo(&out)
	require.Nil(t, err)
	assert.Equal(t, int64(2560), written)
	assert.Equal(t, payload, out.Bytes())
}

func TestVarColumn_BinaryWriterBlocksOtherPuts(t *testing.T) {
	t.Parallel()

	c := newColumn(t, 8)
	w, err := c.PutBin()
	require.Nil(t, err)
	assert.True(t, errors.Is(c.PutString("x"), errs.ErrIO))
	assert.True(t, errors.Is(c.Commit(), errs.ErrIO))
	_, err = w.Write([]byte("abc"))
	require.Nil(t, err)
	require.Nil(t, w.Close())
	require.Nil(t, w.Close())
	require.Nil(t, c.Commit())

	s, ok, err := c.GetString(0)
	require.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", s)
}

func TestVarColumn_Rollback(t *testing.T) {
	t.Parallel()

	c := newColumn(t, 8)
	require.Nil(t, c.PutString("kept"))
	require.Nil(t, c.Commit())
	require.Nil(t, c.PutString("dropped"))
	c.Rollback()
	require.Nil(t, c.Commit())
	assert.Equal(t, int64(1), c.Size())

	require.Nil(t, c.PutString("next"))
	require.Nil(t, c.Commit())
	s, _, err := c.GetString(1)
	require.Nil(t, err)
	assert.Equal(t, "next", s)
}

func TestVarColumn_RollbackDiscardsOpenBinaryWriter(t *testing.T) {
	t.Parallel()

	tests := map[string]func(c *column.VarColumn){
		"rollback": func(c *column.VarColumn) { c.Rollback() },
		"truncate": func(c *column.VarColumn) { require.Nil(t, c.Truncate(1)) },
	}
	for name, discard := range tests {
		discard := discard
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c := newColumn(t, 8)
			require.Nil(t, c.PutString("keep"))
			require.Nil(t, c.Commit())

			w, err := c.PutBin()
			require.Nil(t, err)
			discard(c)
			require.Nil(t, c.PutString("second"))

			_, err = w.Write(bytes.Repeat([]byte("X"), 16))
			assert.True(t, errors.Is(err, errs.ErrIO))
			assert.True(t, errors.Is(w.Close(), errs.ErrIO))
			require.Nil(t, c.Commit())

			assert.Equal(t, int64(2), c.Size())
			s, ok, err := c.GetString(1)
			require.Nil(t, err)
			assert.True(t, ok)
			assert.Equal(t, "second", s)
			assert.Nil(t, c.Verify())
		})
	}
}

func TestVarColumn_Truncate(t *testing.T) {
	t.Parallel()

	c := newColumn(t, 8)
	for i := 0; i < 100; i++ {
		require.Nil(t, c.PutString("row"+strconv.Itoa(i)))
		require.Nil(t, c.Commit())
	}
	off, err := c.DataOffset(60)
	require.Nil(t, err)

	require.Nil(t, c.Truncate(60))
	assert.Equal(t, int64(60), c.Size())
	assert.Equal(t, off, c.DataSize())
	_, _, err = c.GetString(60)
	assert.True(t, errors.Is(err, errs.ErrOutOfBounds))

	require.Nil(t, c.PutString("replacement"))
	require.Nil(t, c.Commit())
	s, _, err := c.GetString(60)
	require.Nil(t, err)
	assert.Equal(t, "replacement", s)
	s, _, err = c.GetString(59)
	require.Nil(t, err)
	assert.Equal(t, "row59", s)

	assert.True(t, errors.Is(c.Truncate(62), errs.ErrOutOfBounds))
	require.Nil(t, c.Truncate(0))
	assert.Equal(t, column.Watermark{}, c.Watermark())
}

func TestVarColumn_Reopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := openColumn(t, dir, 8)
	for i := 0; i < 500; i++ {
		require.Nil(t, c.PutString("value"+strconv.Itoa(i)))
		require.Nil(t, c.Commit())
	}
	require.Nil(t, c.PutNull())
	require.Nil(t, c.Commit())
	require.Nil(t, c.PutString("never committed"))
	wm := c.Watermark()
	require.Nil(t, c.Close())

	c = openColumn(t, dir, 8)
	defer c.Close()
	assert.Equal(t, wm, c.Watermark())
	for i := 0; i < 500; i++ {
		s, ok, err := c.GetString(int64(i))
		require.Nil(t, err)
		assert.True(t, ok)
		assert.Equal(t, "value"+strconv.Itoa(i), s)
	}
	isNull, err := c.IsNull(500)
	require.Nil(t, err)
	assert.True(t, isNull)
	assert.True(t, column.Exists(dir, "col"))
	assert.False(t, column.Exists(dir, "other"))
}

func TestVarColumn_UTF16(t *testing.T) {
	t.Parallel()

	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	c := newColumn(t, 8, column.WithEncoding(enc))
	require.Nil(t, c.PutString("héllo"))
	require.Nil(t, c.PutStringEncoded("raw", nil))
	require.Nil(t, c.Commit())

	length, err := c.Len(0)
	require.Nil(t, err)
	assert.Equal(t, int32(10), length)
	s, ok, err := c.GetString(0)
	require.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, "héllo", s)
}

func TestEncodingByName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "utf-8", "UTF8", "utf-16", "utf-16le", "utf-16be"} {
		enc, err := column.EncodingByName(name)
		assert.Nil(t, err, name)
		assert.NotNil(t, enc, name)
	}
	_, err := column.EncodingByName("latin-1")
	assert.NotNil(t, err)
}

func TestVarColumn_VerifyDetectsCorruption(t *testing.T) {
	t.Parallel()

	c := newColumn(t, 8)
	for i := 0; i < 10; i++ {
		require.Nil(t, c.PutString("abc"))
		require.Nil(t, c.Commit())
	}
	require.Nil(t, c.Verify())

	off, err := c.DataOffset(4)
	require.Nil(t, err)
	require.Nil(t, c.DataRegion().PutInt32(off, 1000))
	assert.True(t, errors.Is(c.Verify(), errs.ErrCorruptData))

	require.Nil(t, c.DataRegion().PutInt32(off, -7))
	_, err = c.GetBytes(4)
	assert.True(t, errors.Is(err, errs.ErrCorruptData))
}

func TestNew_RejectsTornIndex(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	data, err := region.Open(filepath.Join(dir, "torn.d"), 8, region.Append)
	require.Nil(t, err)
	defer data.Close()
	index, err := region.Open(filepath.Join(dir, "torn.i"), 8, region.Append)
	require.Nil(t, err)
	defer index.Close()
	require.Nil(t, index.Ensure(0, 5))
	require.Nil(t, index.SetSize(5))

	_, err = column.New(data, index)
	assert.True(t, errors.Is(err, errs.ErrCorruptData))
}

func TestVarColumn_BeginRawValidation(t *testing.T) {
	t.Parallel()

	c := newColumn(t, 8)
	_, err := c.BeginRaw(-1, 0, 0)
	assert.True(t, errors.Is(err, errs.ErrCorruptData))
	_, err = c.BeginRaw(2, 8, 8)
	assert.True(t, errors.Is(err, errs.ErrCorruptData))
	_, err = c.BeginRaw(2, 16, 4)
	assert.True(t, errors.Is(err, errs.ErrCorruptData))

	a, err := c.BeginRaw(1, 8, 7)
	require.Nil(t, err)
	_, err = a.WriteIndex(make([]byte, 8))
	require.Nil(t, err)
	assert.True(t, errors.Is(a.Finish(), errs.ErrProtocol))
	_, err = a.WriteData([]byte{3, 0, 0, 0, 'a', 'b', 'c'})
	require.Nil(t, err)
	require.Nil(t, a.Finish())
	require.Nil(t, c.Commit())

	s, _, err := c.GetString(0)
	require.Nil(t, err)
	assert.Equal(t, "abc", s)
}
