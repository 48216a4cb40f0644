package wire

import (
	"bytes"
	"testing"
)

func TestRoundTripScalarsStringsVectors(t *testing.T) {
	pkg, err := NewBuilder(7).
		AppendUint8(42).
		AppendUint16(1000).
		AppendUint32(1 << 20).
		AppendUint64(1 << 40).
		AppendString("hello world").
		AppendUint16Slice([]uint16{1, 2, 3, 4}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	reader, err := NewReader(pkg.Header, pkg.RawBody())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	var u8 uint8
	var u16 uint16
	var u32 uint32
	var u64 uint64
	var s string

	if err := reader.ExtractUint8Into(&u8); err != nil || u8 != 42 {
		t.Fatalf("u8 = %v, err = %v", u8, err)
	}
	if err := reader.ExtractUint16Into(&u16); err != nil || u16 != 1000 {
		t.Fatalf("u16 = %v, err = %v", u16, err)
	}
	if err := reader.ExtractUint32Into(&u32); err != nil || u32 != 1<<20 {
		t.Fatalf("u32 = %v, err = %v", u32, err)
	}
	if err := reader.ExtractUint64Into(&u64); err != nil || u64 != 1<<40 {
		t.Fatalf("u64 = %v, err = %v", u64, err)
	}
	if err := reader.ExtractStringInto(&s); err != nil || s != "hello world" {
		t.Fatalf("s = %q, err = %v", s, err)
	}
	slice, err := reader.ExtractUint16Slice()
	if err != nil {
		t.Fatalf("ExtractUint16Slice: %v", err)
	}
	want := []uint16{1, 2, 3, 4}
	if len(slice) != len(want) {
		t.Fatalf("slice = %v, want %v", slice, want)
	}
	for i := range want {
		if slice[i] != want[i] {
			t.Fatalf("slice[%d] = %v, want %v", i, slice[i], want[i])
		}
	}

	if reader.Cursor() != reader.Header.Size {
		t.Fatalf("cursor %d != header.Size %d after full parse", reader.Cursor(), reader.Header.Size)
	}
}

func TestReturnByValueAndIntoSlotAgree(t *testing.T) {
	pkg, err := NewBuilder(1).AppendUint32(0xDEADBEEF).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	r1, _ := NewReader(pkg.Header, pkg.RawBody())
	v, err := r1.ExtractUint32()
	if err != nil {
		t.Fatalf("ExtractUint32: %v", err)
	}

	r2, _ := NewReader(pkg.Header, pkg.RawBody())
	var slot uint32
	if err := r2.ExtractUint32Into(&slot); err != nil {
		t.Fatalf("ExtractUint32Into: %v", err)
	}

	if v != slot {
		t.Fatalf("return-by-value (%#x) and into-slot (%#x) decoded differently", v, slot)
	}
	if v != 0xDEADBEEF {
		t.Fatalf("decoded %#x, want %#x", v, 0xDEADBEEF)
	}
}

func TestKnownAnswerBigEndianFrame(t *testing.T) {
	pkg, err := NewBuilder(1).
		AppendString("hi").
		AppendUint16Slice([]uint16{1, 2}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []byte{
		0, 1, // type = 1
		0, 0, 0, 14, // size = 14 (4+2 string + 4+4 vector)
		0, // flags = 0
		0, 0, 0, 2, 'h', 'i', // string "hi"
		0, 0, 0, 2, 0, 1, 0, 2, // vector [1,2]
	}

	got := append(pkg.Header.MarshalBinary(), pkg.RawBody()...)
	if !bytes.Equal(got, want) {
		t.Fatalf("frame =\n%v\nwant\n%v", got, want)
	}
}

func TestBodyOverrun(t *testing.T) {
	pkg, err := NewBuilder(1).AppendUint8(9).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	reader, _ := NewReader(pkg.Header, pkg.RawBody())
	if _, err := reader.ExtractUint8(); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if _, err := reader.ExtractUint8(); err != ErrBodyOverrun {
		t.Fatalf("second read error = %v, want ErrBodyOverrun", err)
	}
}

func TestHeaderWireSize(t *testing.T) {
	if HeaderSize != 7 {
		t.Fatalf("HeaderSize = %d, want 7", HeaderSize)
	}
}
