package pmtiles

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"tilearchive/internal/compress"
	"tilearchive/internal/tile"
)

// maxDirectoryDepth bounds root-to-leaf descent so that a cyclic archive
// fails instead of looping.
const maxDirectoryDepth = 10

// maxSectionLength caps a single read so that a corrupt header cannot make
// the reader allocate arbitrarily.
const maxSectionLength = 1 << 30

type dirKey struct {
	offset, length uint64
}

// Reader serves tiles from an archive. It is safe for concurrent use.
type Reader struct {
	r      io.ReaderAt
	closer io.Closer
	header Header

	codecOnce sync.Once
	codec     compress.Codec
	codecErr  error

	mu    sync.RWMutex
	dirs  map[dirKey][]Entry
	group singleflight.Group
}

// Open opens the archive at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads and validates the header of the archive in r.
func NewReader(r io.ReaderAt) (*Reader, error) {
	buf := make([]byte, HeaderSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: file shorter than header", ErrInvalidFormat)
		}
		return nil, err
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, header: h, dirs: make(map[dirKey][]Entry)}, nil
}

// Header returns the decoded archive header.
func (r *Reader) Header() Header {
	return r.header
}

// Close releases the underlying file, if the Reader opened one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Reader) internalCodec() (compress.Codec, error) {
	r.codecOnce.Do(func() {
		r.codec, r.codecErr = compress.CreateCodec(r.header.InternalCompression)
	})
	return r.codec, r.codecErr
}

func (r *Reader) readAt(offset, length uint64) ([]byte, error) {
	if length > maxSectionLength {
		return nil, fmt.Errorf("%w: section of %d bytes at %d", ErrInvalidFormat, length, offset)
	}
	buf := make([]byte, length)
	n, err := r.r.ReadAt(buf, int64(offset))
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: short read at %d: %d of %d bytes", ErrInvalidFormat, offset, n, length)
	}
	return nil, err
}

// ReadDirectory returns the directory stored at an absolute offset.
// Directories are cached per Reader by offset and length; the returned slice
// is a copy the caller may modify.
func (r *Reader) ReadDirectory(offset, length uint64) ([]Entry, error) {
	entries, err := r.readDirectory(offset, length)
	if err != nil {
		return nil, err
	}
	return slices.Clone(entries), nil
}

// readDirectory returns the cached directory itself. Callers must not modify it.
func (r *Reader) readDirectory(offset, length uint64) ([]Entry, error) {
	key := dirKey{offset, length}
	r.mu.RLock()
	entries, ok := r.dirs[key]
	r.mu.RUnlock()
	if ok {
		return entries, nil
	}

	v, err, _ := r.group.Do(strconv.FormatUint(offset, 10)+":"+strconv.FormatUint(length, 10), func() (any, error) {
		codec, err := r.internalCodec()
		if err != nil {
			return nil, err
		}
		data, err := r.readAt(offset, length)
		if err != nil {
			return nil, err
		}
		entries, err := DeserializeEntries(data, codec)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.dirs[key] = entries
		r.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

func (r *Reader) findTile(tileID uint64) (Entry, bool, error) {
	offset, length := r.header.RootOffset, r.header.RootLength
	for depth := 0; depth <= maxDirectoryDepth; depth++ {
		entries, err := r.readDirectory(offset, length)
		if err != nil {
			return Entry{}, false, err
		}
		e, ok := FindEntry(entries, tileID)
		if !ok {
			return Entry{}, false, nil
		}
		if !e.IsLeaf() {
			return e, true, nil
		}
		offset = r.header.LeafDirectoryOffset + e.Offset
		length = uint64(e.Length)
	}
	return Entry{}, false, fmt.Errorf("%w: directory nesting deeper than %d", ErrInvalidFormat, maxDirectoryDepth)
}

// GetTileID returns the stored payload for a tile id. A missing tile is
// reported with ok false and a nil error.
func (r *Reader) GetTileID(tileID uint64) (data []byte, ok bool, err error) {
	e, ok, err := r.findTile(tileID)
	if err != nil || !ok {
		return nil, false, err
	}
	data, err = r.readAt(r.header.TileDataOffset+e.Offset, uint64(e.Length))
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// GetTile returns the stored payload of z/x/y, still carrying the archive's
// tile compression. A missing tile is reported with ok false and a nil error.
func (r *Reader) GetTile(z uint8, x, y uint32) ([]byte, bool, error) {
	id, err := ZxyToID(z, x, y)
	if err != nil {
		return nil, false, err
	}
	return r.GetTileID(id)
}

// GetCoord is GetTile for a Coord.
func (r *Reader) GetCoord(c tile.Coord) ([]byte, bool, error) {
	if err := tile.CheckZoom(c.Z); err != nil {
		return nil, false, err
	}
	return r.GetTile(uint8(c.Z), c.X, c.Y)
}

// RawMetadata returns the decompressed metadata document.
func (r *Reader) RawMetadata() ([]byte, error) {
	codec, err := r.internalCodec()
	if err != nil {
		return nil, err
	}
	data, err := r.readAt(r.header.MetadataOffset, r.header.MetadataLength)
	if err != nil {
		return nil, err
	}
	doc, err := codec.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress metadata: %v", ErrInvalidFormat, err)
	}
	return doc, nil
}

// Metadata returns the metadata document, typed and as a generic map.
func (r *Reader) Metadata() (JSONMetadata, map[string]any, error) {
	doc, err := r.RawMetadata()
	if err != nil {
		return JSONMetadata{}, nil, err
	}
	typed, raw, err := unmarshalMetadata(doc)
	if err != nil {
		return JSONMetadata{}, nil, fmt.Errorf("%w: metadata json: %v", ErrInvalidFormat, err)
	}
	return typed, raw, nil
}

// Walk calls fn for every tile entry in tile id order, descending into leaf
// directories. Walk stops at the first error fn returns.
func (r *Reader) Walk(fn func(Entry) error) error {
	return r.walk(r.header.RootOffset, r.header.RootLength, 0, fn)
}

func (r *Reader) walk(offset, length uint64, depth int, fn func(Entry) error) error {
	if depth > maxDirectoryDepth {
		return fmt.Errorf("%w: directory nesting deeper than %d", ErrInvalidFormat, maxDirectoryDepth)
	}
	entries, err := r.readDirectory(offset, length)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsLeaf() {
			if err := r.walk(r.header.LeafDirectoryOffset+e.Offset, uint64(e.Length), depth+1, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
