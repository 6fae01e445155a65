package endianio

import (
	"encoding/binary"
	"testing"
)

func TestUint32RoundTrip(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		buf := make([]byte, 4)
		if err := WriteUint32(buf, 0, order, 0xaabbccdd); err != nil {
			t.Fatalf("WriteUint32: %v", err)
		}
		got, err := ReadUint32(buf, 0, order)
		if err != nil {
			t.Fatalf("ReadUint32: %v", err)
		}
		if got != 0xaabbccdd {
			t.Errorf("round trip mismatch: got %#x", got)
		}
	}
}

// E1: encode 0xaabbccdd as little-endian 32-bit yields dd cc bb aa; big-endian aa bb cc dd.
func TestUint32Encoding(t *testing.T) {
	buf := make([]byte, 4)
	if err := WriteUint32(buf, 0, binary.LittleEndian, 0xaabbccdd); err != nil {
		t.Fatalf("WriteUint32 le: %v", err)
	}
	want := []byte{0xdd, 0xcc, 0xbb, 0xaa}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("little-endian bytes = % x, want % x", buf, want)
		}
	}

	if err := WriteUint32(buf, 0, binary.BigEndian, 0xaabbccdd); err != nil {
		t.Fatalf("WriteUint32 be: %v", err)
	}
	want = []byte{0xaa, 0xbb, 0xcc, 0xdd}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("big-endian bytes = % x, want % x", buf, want)
		}
	}
}

// E2: reading little-endian 64-bit 11 22 33 44 55 66 77 88 yields 0x8877665544332211.
func TestUint64Decoding(t *testing.T) {
	buf := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	got, err := ReadUint64(buf, 0, binary.LittleEndian)
	if err != nil {
		t.Fatalf("ReadUint64: %v", err)
	}
	if want := uint64(0x8877665544332211); got != want {
		t.Errorf("got %#x, want %#x", got, want)
	}
}

func TestOutOfRange(t *testing.T) {
	buf := make([]byte, 3)
	if _, err := ReadUint32(buf, 0, binary.LittleEndian); err == nil {
		t.Fatal("expected out-of-range error reading 4 bytes from a 3-byte buffer")
	}
	if err := WriteUint32(buf, 0, binary.LittleEndian, 1); err == nil {
		t.Fatal("expected out-of-range error writing 4 bytes to a 3-byte buffer")
	}
	if _, err := ReadUint16(buf, 2, binary.LittleEndian); err == nil {
		t.Fatal("expected out-of-range error reading past the end of the buffer")
	}
}

type testRecord struct {
	A uint32
	B uint16
	C uint16
}

func TestStructRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	in := testRecord{A: 0x01020304, B: 0x0506, C: 0x0708}
	if err := WriteStruct(buf, 0, binary.LittleEndian, &in); err != nil {
		t.Fatalf("WriteStruct: %v", err)
	}
	var out testRecord
	if err := ReadStruct(buf, 0, binary.LittleEndian, &out); err != nil {
		t.Fatalf("ReadStruct: %v", err)
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestStructOutOfRange(t *testing.T) {
	buf := make([]byte, 4)
	var out testRecord
	if err := ReadStruct(buf, 0, binary.LittleEndian, &out); err == nil {
		t.Fatal("expected out-of-range error decoding an 8-byte record from a 4-byte buffer")
	}
}
