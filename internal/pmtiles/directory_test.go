package pmtiles

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilearchive/internal/compress"
)

func codecs(t *testing.T) []compress.Codec {
	t.Helper()
	var out []compress.Codec
	for _, typ := range []compress.Type{compress.TypeNone, compress.TypeGzip} {
		c, err := compress.CreateCodec(typ)
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func TestSerializeEntriesRoundTrip(t *testing.T) {
	entries := []Entry{
		{TileID: 0, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 1, Offset: 10, Length: 20, RunLength: 1},
		{TileID: 2, Offset: 0, Length: 10, RunLength: 3},
		{TileID: 9, Offset: 30, Length: 5, RunLength: 1},
		{TileID: 400, Offset: 1000, Length: 256, RunLength: 0},
	}
	for _, codec := range codecs(t) {
		t.Run(codec.Type().String(), func(t *testing.T) {
			data, err := SerializeEntries(entries, codec)
			require.NoError(t, err)
			got, err := DeserializeEntries(data, codec)
			require.NoError(t, err)
			assert.Equal(t, entries, got)
		})
	}
}

func TestSerializeEntriesContiguousOffsets(t *testing.T) {
	none, err := compress.CreateCodec(compress.TypeNone)
	require.NoError(t, err)

	data, err := SerializeEntries([]Entry{
		{TileID: 5, Offset: 0, Length: 3, RunLength: 1},
		{TileID: 6, Offset: 3, Length: 4, RunLength: 1},
	}, none)
	require.NoError(t, err)
	// count, ids 5 +1, runs 1 1, lengths 3 4, offsets 0+1 then contiguous 0
	assert.Equal(t, []byte{2, 5, 1, 1, 1, 3, 4, 1, 0}, data)
}

func TestSerializeEmptyDirectory(t *testing.T) {
	none, err := compress.CreateCodec(compress.TypeNone)
	require.NoError(t, err)
	data, err := SerializeEntries(nil, none)
	require.NoError(t, err)
	got, err := DeserializeEntries(data, none)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func varints(vs ...uint64) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.AppendUvarint(b, v)
	}
	return b
}

func TestDeserializeEntriesMalformed(t *testing.T) {
	none, err := compress.CreateCodec(compress.TypeNone)
	require.NoError(t, err)
	gz, err := compress.CreateCodec(compress.TypeGzip)
	require.NoError(t, err)

	tests := []struct {
		name  string
		data  []byte
		codec compress.Codec
	}{
		{"empty", nil, none},
		{"truncated", varints(2, 1), none},
		{"huge count", varints(1 << 40), none},
		{"ids not increasing", varints(2, 5, 0, 1, 1, 3, 3, 1, 0), none},
		{"relative first offset", varints(1, 5, 1, 3, 0), none},
		{"not gzip", varints(1, 5, 1, 3, 1), gz},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializeEntries(tt.data, tt.codec)
			assert.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestFindEntry(t *testing.T) {
	entries := []Entry{
		{TileID: 10, Offset: 0, Length: 5, RunLength: 1},
		{TileID: 11, Offset: 5, Length: 5, RunLength: 3},
		{TileID: 20, Offset: 0, Length: 64, RunLength: 0},
	}
	tests := []struct {
		id    uint64
		found bool
		want  uint64
	}{
		{5, false, 0},
		{10, true, 10},
		{11, true, 11},
		{13, true, 11},
		{14, false, 0},
		{20, true, 20},
		{99, true, 20},
	}
	for _, tt := range tests {
		e, ok := FindEntry(entries, tt.id)
		assert.Equal(t, tt.found, ok, "tile id %d", tt.id)
		if tt.found {
			assert.Equal(t, tt.want, e.TileID, "tile id %d", tt.id)
		}
	}

	_, ok := FindEntry(nil, 1)
	assert.False(t, ok)
	assert.True(t, entries[2].IsLeaf())
	assert.False(t, entries[1].IsLeaf())
}
