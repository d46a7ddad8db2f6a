package mvt

// Protobuf wire types.
const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

// wireReader walks protobuf wire bytes field by field. Every method reports
// ok=false instead of failing, so callers keep whatever they decoded before
// the input went bad.
type wireReader struct {
	buf []byte
	pos int
}

func newWireReader(buf []byte) *wireReader {
	return &wireReader{buf: buf}
}

func (r *wireReader) done() bool {
	return r.pos >= len(r.buf)
}

func (r *wireReader) varint() (uint64, bool) {
	var v uint64
	for shift := uint(0); shift < 64; shift += 7 {
		if r.pos >= len(r.buf) {
			return 0, false
		}
		b := r.buf[r.pos]
		r.pos++
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, true
		}
	}
	return 0, false
}

// next reads a field key.
func (r *wireReader) next() (field uint64, wireType uint8, ok bool) {
	key, ok := r.varint()
	if !ok {
		return 0, 0, false
	}
	field = key >> 3
	if field == 0 {
		return 0, 0, false
	}
	return field, uint8(key & 0x7), true
}

// bytes reads the payload of a length-delimited field.
func (r *wireReader) bytes() ([]byte, bool) {
	n, ok := r.varint()
	if !ok || n > uint64(len(r.buf)-r.pos) {
		return nil, false
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, true
}

func (r *wireReader) advance(n int) bool {
	if n > len(r.buf)-r.pos {
		return false
	}
	r.pos += n
	return true
}

// skip discards the value of a field of the given wire type.
func (r *wireReader) skip(wireType uint8) bool {
	switch wireType {
	case wireVarint:
		_, ok := r.varint()
		return ok
	case wireFixed64:
		return r.advance(8)
	case wireBytes:
		_, ok := r.bytes()
		return ok
	case wireFixed32:
		return r.advance(4)
	default:
		return false
	}
}

// packedVarints decodes a packed repeated varint field.
func packedVarints(buf []byte) ([]uint64, bool) {
	r := newWireReader(buf)
	var out []uint64
	for !r.done() {
		v, ok := r.varint()
		if !ok {
			return out, false
		}
		out = append(out, v)
	}
	return out, true
}
