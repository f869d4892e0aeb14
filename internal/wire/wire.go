package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
)

const (
	version   byte = 1
	flagPfx   byte = 1 << 0
	maxString      = 0xFFFF
)

var (
	ErrCorrupt  = errors.New("tagcache: corrupt entry")
	ErrTooLarge = errors.New("tagcache: entry field too large")
	magic4      = [...]byte{'T', 'A', 'G', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Token pairs a tag (or prefix) name with the version token observed at write time.
type Token struct {
	Name  string
	Value string
}

// Entry is what gets persisted under a primary key.
type Entry struct {
	Codec   string
	Tags    []Token // sorted by Name on encode
	Prefix  *Token
	Payload []byte
}

// TagMap returns the embedded tag tokens keyed by tag name.
func (e Entry) TagMap() map[string]string {
	out := make(map[string]string, len(e.Tags))
	for _, t := range e.Tags {
		out[t.Name] = t.Value
	}
	return out
}

// Layout:
//
//	magic(4) | ver(1) | flags(1) | codecLen(u8) | codec
//	ntags(u16 be) | (nameLen(u16) name tokLen(u16) tok) * ntags
//	[prefix: nameLen(u16) name tokLen(u16) tok]   if flags&flagPfx
//	vlen(u32 be) | payload(vlen)
func Encode(e Entry) ([]byte, error) {
	if len(e.Codec) > 0xFF || len(e.Tags) > maxString {
		return nil, ErrTooLarge
	}
	tags := make([]Token, len(e.Tags))
	copy(tags, e.Tags)
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })

	total := 4 + 1 + 1 + 1 + len(e.Codec) + 2 + 4 + len(e.Payload)
	for _, t := range tags {
		total += 4 + len(t.Name) + len(t.Value)
	}
	var flags byte
	if e.Prefix != nil {
		flags |= flagPfx
		total += 4 + len(e.Prefix.Name) + len(e.Prefix.Value)
	}

	var buf bytes.Buffer
	buf.Grow(total)
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(flags)
	buf.WriteByte(byte(len(e.Codec)))
	buf.WriteString(e.Codec)

	var u2 [2]byte
	var u4 [4]byte

	binary.BigEndian.PutUint16(u2[:], uint16(len(tags)))
	buf.Write(u2[:])
	for _, t := range tags {
		if err := writeToken(&buf, t); err != nil {
			return nil, err
		}
	}
	if e.Prefix != nil {
		if err := writeToken(&buf, *e.Prefix); err != nil {
			return nil, err
		}
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])
	buf.Write(e.Payload)
	return buf.Bytes(), nil
}

func writeToken(buf *bytes.Buffer, t Token) error {
	if len(t.Name) > maxString || len(t.Value) > maxString {
		return ErrTooLarge
	}
	var u2 [2]byte
	binary.BigEndian.PutUint16(u2[:], uint16(len(t.Name)))
	buf.Write(u2[:])
	buf.WriteString(t.Name)
	binary.BigEndian.PutUint16(u2[:], uint16(len(t.Value)))
	buf.Write(u2[:])
	buf.WriteString(t.Value)
	return nil
}

type reader struct {
	b   []byte
	off int
}

func (r *reader) u8() (byte, bool) {
	if r.off+1 > len(r.b) {
		return 0, false
	}
	v := r.b[r.off]
	r.off++
	return v, true
}

func (r *reader) u16() (int, bool) {
	if r.off+2 > len(r.b) {
		return 0, false
	}
	v := int(binary.BigEndian.Uint16(r.b[r.off : r.off+2]))
	r.off += 2
	return v, true
}

func (r *reader) bytes(n int) ([]byte, bool) {
	if n < 0 || n > len(r.b)-r.off { // overflow-safe bound check
		return nil, false
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v, true
}

func (r *reader) str16() (string, bool) {
	n, ok := r.u16()
	if !ok {
		return "", false
	}
	b, ok := r.bytes(n)
	return string(b), ok
}

func (r *reader) token() (Token, bool) {
	name, ok := r.str16()
	if !ok {
		return Token{}, false
	}
	val, ok := r.str16()
	return Token{Name: name, Value: val}, ok
}

// Decode parses an entry. Payload aliases b.
func Decode(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 1
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	flags := b[5]
	if flags&^flagPfx != 0 {
		return Entry{}, ErrCorrupt
	}
	r := &reader{b: b, off: 6}

	var e Entry
	clen, ok := r.u8()
	if !ok {
		return Entry{}, ErrCorrupt
	}
	codec, ok := r.bytes(int(clen))
	if !ok {
		return Entry{}, ErrCorrupt
	}
	e.Codec = string(codec)

	n, ok := r.u16()
	if !ok {
		return Entry{}, ErrCorrupt
	}
	if n > 0 {
		e.Tags = make([]Token, 0, n)
	}
	for i := 0; i < n; i++ {
		t, ok := r.token()
		if !ok {
			return Entry{}, ErrCorrupt
		}
		e.Tags = append(e.Tags, t)
	}
	if flags&flagPfx != 0 {
		t, ok := r.token()
		if !ok {
			return Entry{}, ErrCorrupt
		}
		e.Prefix = &t
	}

	if r.off+4 > len(b) {
		return Entry{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[r.off : r.off+4]))
	r.off += 4
	payload, ok := r.bytes(vlen)
	if !ok || r.off != len(b) {
		return Entry{}, ErrCorrupt
	}
	e.Payload = payload
	return e, nil
}
