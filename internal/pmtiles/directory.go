package pmtiles

import (
	"encoding/binary"
	"fmt"

	"tilearchive/internal/compress"
)

// Entry is one directory record. A RunLength of zero marks a pointer to a
// leaf directory at Offset within the leaf section; otherwise the entry
// covers tile ids [TileID, TileID+RunLength) which all share the payload at
// Offset within the tile data section.
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// IsLeaf reports whether the entry points at a leaf directory.
func (e Entry) IsLeaf() bool {
	return e.RunLength == 0
}

// SerializeEntries encodes a directory as four varint columns (tile id
// deltas, run lengths, lengths, offsets) and compresses it with codec.
// An offset equal to the end of the previous entry is written as 0, any
// other offset as offset+1.
func SerializeEntries(entries []Entry, codec compress.Codec) ([]byte, error) {
	buf := binary.AppendUvarint(nil, uint64(len(entries)))

	var lastID uint64
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, e.TileID-lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, uint64(e.RunLength))
	}
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			buf = binary.AppendUvarint(buf, 0)
		} else {
			buf = binary.AppendUvarint(buf, e.Offset+1)
		}
	}
	return codec.Compress(buf)
}

type varintReader struct {
	buf []byte
	pos int
}

func (r *varintReader) next() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: truncated directory at byte %d", ErrInvalidFormat, r.pos)
	}
	r.pos += n
	return v, nil
}

// DeserializeEntries is the inverse of SerializeEntries.
func DeserializeEntries(data []byte, codec compress.Codec) ([]Entry, error) {
	raw, err := codec.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress directory: %v", ErrInvalidFormat, err)
	}
	r := &varintReader{buf: raw}
	count, err := r.next()
	if err != nil {
		return nil, err
	}
	// every entry takes at least four bytes
	if count > uint64(len(raw)) {
		return nil, fmt.Errorf("%w: directory claims %d entries in %d bytes", ErrInvalidFormat, count, len(raw))
	}
	entries := make([]Entry, count)

	var lastID uint64
	for i := range entries {
		delta, err := r.next()
		if err != nil {
			return nil, err
		}
		if i > 0 && delta == 0 {
			return nil, fmt.Errorf("%w: tile ids not strictly increasing at entry %d", ErrInvalidFormat, i)
		}
		lastID += delta
		entries[i].TileID = lastID
	}
	for i := range entries {
		v, err := r.next()
		if err != nil {
			return nil, err
		}
		entries[i].RunLength = uint32(v)
	}
	for i := range entries {
		v, err := r.next()
		if err != nil {
			return nil, err
		}
		entries[i].Length = uint32(v)
	}
	for i := range entries {
		v, err := r.next()
		if err != nil {
			return nil, err
		}
		switch {
		case v > 0:
			entries[i].Offset = v - 1
		case i > 0:
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		default:
			return nil, fmt.Errorf("%w: first directory offset is not absolute", ErrInvalidFormat)
		}
	}
	return entries, nil
}

// FindEntry binary-searches a sorted directory for the entry covering
// tileID: an exact match, the run containing it, or the leaf pointer whose
// range it falls in.
func FindEntry(entries []Entry, tileID uint64) (Entry, bool) {
	lo, hi := 0, len(entries)-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		switch {
		case tileID > entries[mid].TileID:
			lo = mid + 1
		case tileID < entries[mid].TileID:
			hi = mid - 1
		default:
			return entries[mid], true
		}
	}
	// hi is now the last entry with TileID < tileID
	if hi >= 0 {
		e := entries[hi]
		if e.IsLeaf() || tileID-e.TileID < uint64(e.RunLength) {
			return e, true
		}
	}
	return Entry{}, false
}
