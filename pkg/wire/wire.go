// Package wire implements the Package/PackageHeader wire type: a
// typed, length-prefixed message plus optional flags, built from an
// ordered sequence of appended values and parsed back in the same
// order with a sequential, bounds-checked read cursor.
//
// All integers on the wire are big-endian; the header is exactly
// seven bytes (type uint16, size uint32, flags uint8), no padding.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	cristalbase64 "github.com/cristalhq/base64"
)

// MessageType is interpreted by the application's message
// enumeration; the transport itself only routes on the Flags bits.
type MessageType uint16

// Flag is a bitset carried in the header.
type Flag uint8

const (
	FlagNone            Flag = 0
	FlagFileRequest     Flag = 1 << 1
	FlagFileReceiveInfo Flag = 1 << 2
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// HeaderSize is the exact, stable on-wire byte count of a Header.
const HeaderSize = 2 + 4 + 1

// Header is the fixed-size, wire-ordered (big-endian) frame header.
type Header struct {
	Type  MessageType
	Size  uint32
	Flags Flag
}

func (h Header) MarshalBinary() []byte {
	var b [HeaderSize]byte
	binary.BigEndian.PutUint16(b[0:2], uint16(h.Type))
	binary.BigEndian.PutUint32(b[2:6], h.Size)
	b[6] = byte(h.Flags)
	return b[:]
}

func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("wire: short header: got %d bytes, want %d", len(b), HeaderSize)
	}
	h.Type = MessageType(binary.BigEndian.Uint16(b[0:2]))
	h.Size = binary.BigEndian.Uint32(b[2:6])
	h.Flags = Flag(b[6])
	return nil
}

// ErrBodyOverrun is returned when a read would advance the cursor
// past header.Size.
var ErrBodyOverrun = errors.New("wire: body overrun")

// ErrSizeOverflow is returned by Builder.Build when the accumulated
// body size exceeds the 32-bit size field.
var ErrSizeOverflow = errors.New("wire: encoded body exceeds 32-bit size field")

// Package owns a header and a raw body buffer; body length always
// equals header.Size. Reads advance a private cursor that never
// exceeds Size and never rewinds.
type Package struct {
	Header Header
	body   []byte
	cursor uint32
}

// NewReader wraps an already-decoded header and body (e.g. one just
// read off a socket) as a Package ready for sequential extraction.
func NewReader(h Header, body []byte) (*Package, error) {
	if uint32(len(body)) != h.Size {
		return nil, fmt.Errorf("wire: body length %d does not match header size %d", len(body), h.Size)
	}
	return &Package{Header: h, body: body}, nil
}

// RawBody returns the full body buffer, bypassing the read cursor.
func (p *Package) RawBody() []byte { return p.body }

// Cursor reports how many body bytes have been consumed so far.
func (p *Package) Cursor() uint32 { return p.cursor }

// Remaining reports the number of unread body bytes.
func (p *Package) Remaining() uint32 { return p.Header.Size - p.cursor }

func (p *Package) take(n uint32) ([]byte, error) {
	if n > p.Header.Size-p.cursor {
		return nil, ErrBodyOverrun
	}
	b := p.body[p.cursor : p.cursor+n]
	p.cursor += n
	return b, nil
}

// ExtractUint8 reads one byte. The into-slot and return-by-value forms
// both funnel through this single decode path so they can never
// diverge in endianness handling.
func (p *Package) ExtractUint8() (uint8, error) {
	b, err := p.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *Package) ExtractUint8Into(out *uint8) error {
	v, err := p.ExtractUint8()
	if err != nil {
		*out = 0
		return err
	}
	*out = v
	return nil
}

func (p *Package) ExtractUint16() (uint16, error) {
	b, err := p.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (p *Package) ExtractUint16Into(out *uint16) error {
	v, err := p.ExtractUint16()
	if err != nil {
		*out = 0
		return err
	}
	*out = v
	return nil
}

func (p *Package) ExtractUint32() (uint32, error) {
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (p *Package) ExtractUint32Into(out *uint32) error {
	v, err := p.ExtractUint32()
	if err != nil {
		*out = 0
		return err
	}
	*out = v
	return nil
}

func (p *Package) ExtractUint64() (uint64, error) {
	b, err := p.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (p *Package) ExtractUint64Into(out *uint64) error {
	v, err := p.ExtractUint64()
	if err != nil {
		*out = 0
		return err
	}
	*out = v
	return nil
}

// ExtractString reads a 32-bit length prefix followed by that many
// raw bytes.
func (p *Package) ExtractString() (string, error) {
	n, err := p.ExtractUint32()
	if err != nil {
		return "", err
	}
	b, err := p.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *Package) ExtractStringInto(out *string) error {
	v, err := p.ExtractString()
	if err != nil {
		*out = ""
		return err
	}
	*out = v
	return nil
}

// ExtractUint16Slice reads a 32-bit count prefix followed by that many
// big-endian uint16 elements.
func (p *Package) ExtractUint16Slice() ([]uint16, error) {
	n, err := p.ExtractUint32()
	if err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		v, err := p.ExtractUint16()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// DebugDump renders the body as URL-safe base64, for log lines.
func (p *Package) DebugDump() string {
	return cristalbase64.URLEncoding.EncodeToString(p.body)
}

// Builder accumulates typed values left-to-right and produces a
// Package with an exactly-sized body, allocated once.
type Builder struct {
	msgType MessageType
	flags   Flag
	chunks  [][]byte
	size    uint64
}

// NewBuilder starts building a package of the given message type with
// no flags set; use WithFlags to set FILE_REQUEST / FILE_RECEIVE_INFO.
func NewBuilder(msgType MessageType) *Builder {
	return &Builder{msgType: msgType}
}

func (b *Builder) WithFlags(f Flag) *Builder {
	b.flags = f
	return b
}

func (b *Builder) append(chunk []byte) *Builder {
	b.chunks = append(b.chunks, chunk)
	b.size += uint64(len(chunk))
	return b
}

func (b *Builder) AppendUint8(v uint8) *Builder {
	return b.append([]byte{v})
}

func (b *Builder) AppendUint16(v uint16) *Builder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return b.append(tmp[:])
}

func (b *Builder) AppendUint32(v uint32) *Builder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return b.append(tmp[:])
}

func (b *Builder) AppendUint64(v uint64) *Builder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return b.append(tmp[:])
}

func (b *Builder) AppendString(s string) *Builder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(s)))
	b.append(tmp[:])
	return b.append([]byte(s))
}

func (b *Builder) AppendUint16Slice(vs []uint16) *Builder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(vs)))
	b.append(tmp[:])
	for _, v := range vs {
		b.AppendUint16(v)
	}
	return b
}

// Build allocates the body exactly once and fills it with a
// monotonically advancing write cursor.
func (b *Builder) Build() (*Package, error) {
	if b.size > 0xFFFFFFFF {
		return nil, ErrSizeOverflow
	}
	body := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		body = append(body, c...)
	}
	return &Package{
		Header: Header{Type: b.msgType, Size: uint32(b.size), Flags: b.flags},
		body:   body,
	}, nil
}
