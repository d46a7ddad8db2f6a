package pmtiles

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"tilearchive/internal/compress"
	"tilearchive/internal/tile"
)

const (
	defaultMinLeafSize = 4096
	singleRootLimit    = 16384
)

// Stats summarises a written archive.
type Stats struct {
	AddressedTiles uint64
	TileEntries    uint64
	TileContents   uint64
	Bytes          int64
}

// Builder assembles an archive from tiles and metadata. A Builder owns its
// output for the duration of a write and is not safe for concurrent use.
//
// Vector payloads are gzip-compressed exactly once: input that already is a
// valid gzip stream is stored unchanged. Raster payloads are stored as
// given. Identical payloads are stored once, and consecutive tile ids that
// share a payload collapse into a single run-length entry.
type Builder struct {
	tiles       map[uint64][]byte
	metadata    *Metadata
	maxRootSize int
	minLeafSize int
	stats       Stats
	log         logrus.FieldLogger
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxRootSize bounds header plus root directory, in bytes. Directories
// that do not fit are split into leaves.
func WithMaxRootSize(n int) Option {
	return func(b *Builder) {
		b.maxRootSize = n
	}
}

// WithLogger sets the logger used for build diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Builder) {
		b.log = l
	}
}

// NewBuilder returns an empty Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		tiles:       make(map[uint64][]byte),
		maxRootSize: MaxRootSize,
		minLeafSize: defaultMinLeafSize,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddTile stores a payload. Adding a coordinate twice keeps the last payload.
func (b *Builder) AddTile(c tile.Coord, data []byte) error {
	if err := tile.CheckZoom(c.Z); err != nil {
		return err
	}
	id, err := ZxyToID(uint8(c.Z), c.X, c.Y)
	if err != nil {
		return err
	}
	b.tiles[id] = data
	return nil
}

// AddRecords stores every record.
func (b *Builder) AddRecords(records []tile.Record) error {
	for _, r := range records {
		if err := b.AddTile(r.Coord, r.Data); err != nil {
			return err
		}
	}
	return nil
}

// SetMetadata sets the archive metadata.
func (b *Builder) SetMetadata(m Metadata) {
	b.metadata = &m
}

// Len returns the number of distinct tiles added.
func (b *Builder) Len() int {
	return len(b.tiles)
}

// Stats returns the figures of the last successful write.
func (b *Builder) Stats() Stats {
	return b.stats
}

type archive struct {
	header   Header
	root     []byte
	blobs    [][]byte
	leaves   []byte
	metadata []byte
}

func (b *Builder) build() (*archive, error) {
	if len(b.tiles) == 0 {
		return nil, ErrEmptyArchive
	}
	if b.metadata == nil {
		return nil, ErrMissingMetadata
	}
	meta := *b.metadata
	internal, err := compress.CreateCodec(compress.TypeGzip)
	if err != nil {
		return nil, err
	}

	tileType := TileTypeFor(meta.Type, meta.Format)
	tileCompression := compress.TypeNone
	if tileType == TileTypeMVT {
		tileCompression = compress.TypeGzip
	}

	ids := make([]uint64, 0, len(b.tiles))
	for id := range b.tiles {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	type blobRef struct {
		offset uint64
		index  int
	}
	var (
		a       = &archive{}
		entries []Entry
		dataLen uint64
		byHash  = make(map[uint64][]blobRef)
	)
	for _, id := range ids {
		payload := b.tiles[id]
		if tileType == TileTypeMVT {
			if payload, err = compress.EnsureGzipped(payload); err != nil {
				return nil, fmt.Errorf("compress tile %d: %w", id, err)
			}
		}

		sum := xxhash.Sum64(payload)
		offset, found := uint64(0), false
		for _, ref := range byHash[sum] {
			if bytes.Equal(a.blobs[ref.index], payload) {
				offset, found = ref.offset, true
				break
			}
		}
		if !found {
			offset = dataLen
			byHash[sum] = append(byHash[sum], blobRef{offset: offset, index: len(a.blobs)})
			a.blobs = append(a.blobs, payload)
			dataLen += uint64(len(payload))
		}

		if n := len(entries); n > 0 {
			last := &entries[n-1]
			if last.TileID+uint64(last.RunLength) == id && last.Offset == offset && last.Length == uint32(len(payload)) {
				last.RunLength++
				continue
			}
		}
		entries = append(entries, Entry{TileID: id, Offset: offset, Length: uint32(len(payload)), RunLength: 1})
	}

	a.root, a.leaves, err = buildDirectories(entries, internal, b.maxRootSize-HeaderSize, b.minLeafSize)
	if err != nil {
		return nil, err
	}
	doc, err := marshalMetadata(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if a.metadata, err = internal.Compress(doc); err != nil {
		return nil, fmt.Errorf("compress metadata: %w", err)
	}

	center := meta.Bounds.Center()
	h := Header{
		SpecVersion:         Version,
		RootOffset:          HeaderSize,
		RootLength:          uint64(len(a.root)),
		TileDataLength:      dataLen,
		LeafDirectoryLength: uint64(len(a.leaves)),
		MetadataLength:      uint64(len(a.metadata)),
		AddressedTilesCount: uint64(len(ids)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(a.blobs)),
		Clustered:           true,
		InternalCompression: internal.Type(),
		TileCompression:     tileCompression,
		TileType:            tileType,
		MinZoom:             meta.MinZoom,
		MaxZoom:             meta.MaxZoom,
		MinLonE7:            E7(meta.Bounds.West),
		MinLatE7:            E7(meta.Bounds.South),
		MaxLonE7:            E7(meta.Bounds.East),
		MaxLatE7:            E7(meta.Bounds.North),
		CenterZoom:          (meta.MinZoom + meta.MaxZoom) / 2,
		CenterLonE7:         E7(center.Lon()),
		CenterLatE7:         E7(center.Lat()),
	}
	h.TileDataOffset = h.RootOffset + h.RootLength
	h.LeafDirectoryOffset = h.TileDataOffset + h.TileDataLength
	h.MetadataOffset = h.LeafDirectoryOffset + h.LeafDirectoryLength
	a.header = h

	b.log.Debugf("archive %s: %d tiles, %d entries, %d contents, root %d bytes, leaves %d bytes",
		meta.Name, h.AddressedTilesCount, h.TileEntriesCount, h.TileContentsCount, h.RootLength, h.LeafDirectoryLength)
	return a, nil
}

// WriteTo builds the archive and writes it to w: header, root directory,
// tile data, leaf directories, metadata.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	a, err := b.build()
	if err != nil {
		return 0, err
	}
	header, err := a.header.MarshalBinary()
	if err != nil {
		return 0, err
	}
	sections := append([][]byte{header, a.root}, a.blobs...)
	sections = append(sections, a.leaves, a.metadata)

	var written int64
	for _, s := range sections {
		n, err := w.Write(s)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	b.stats = Stats{
		AddressedTiles: a.header.AddressedTilesCount,
		TileEntries:    a.header.TileEntriesCount,
		TileContents:   a.header.TileContentsCount,
		Bytes:          written,
	}
	return written, nil
}

// WriteFile writes the archive to path through a temporary file in the same
// directory. Nothing is left at path when the build fails.
func (b *Builder) WriteFile(path string) (Stats, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return Stats{}, err
	}
	tmp := f.Name()
	fail := func(err error) (Stats, error) {
		f.Close()
		os.Remove(tmp)
		return Stats{}, err
	}

	bw := bufio.NewWriter(f)
	if _, err := b.WriteTo(bw); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return Stats{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Stats{}, err
	}
	return b.stats, nil
}

// buildDirectories serialises entries into a root directory no larger than
// target bytes, moving entries into leaf directories when needed.
func buildDirectories(entries []Entry, codec compress.Codec, target, minLeafSize int) (root, leaves []byte, err error) {
	if len(entries) < singleRootLimit {
		root, err = SerializeEntries(entries, codec)
		if err != nil {
			return nil, nil, err
		}
		if len(root) <= target {
			return root, nil, nil
		}
	}

	leafSize := max(len(entries)/3500, minLeafSize, 1)
	for {
		root, leaves, err = buildRootLeaves(entries, leafSize, codec)
		if err != nil {
			return nil, nil, err
		}
		if len(root) <= target {
			return root, leaves, nil
		}
		if leafSize >= len(entries) {
			return nil, nil, fmt.Errorf("%w: root directory needs %d bytes, limit %d", ErrArchiveState, len(root), target)
		}
		leafSize = max(leafSize+1, leafSize*6/5)
	}
}

func buildRootLeaves(entries []Entry, leafSize int, codec compress.Codec) (root, leaves []byte, err error) {
	var pointers []Entry
	for start := 0; start < len(entries); start += leafSize {
		end := min(start+leafSize, len(entries))
		leaf, err := SerializeEntries(entries[start:end], codec)
		if err != nil {
			return nil, nil, err
		}
		pointers = append(pointers, Entry{
			TileID: entries[start].TileID,
			Offset: uint64(len(leaves)),
			Length: uint32(len(leaf)),
		})
		leaves = append(leaves, leaf...)
	}
	root, err = SerializeEntries(pointers, codec)
	if err != nil {
		return nil, nil, err
	}
	return root, leaves, nil
}
