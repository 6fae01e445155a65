// Package endianio reads and writes fixed-width integers and composite
// records at a chosen offset into a byte buffer, honouring an explicit byte
// order and never assuming anything about the buffer's alignment.
package endianio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned whenever a read or write would touch bytes
// beyond the end of the buffer.
var ErrOutOfRange = errors.New("endianio: out of range")

// boundsCheck returns ErrOutOfRange (wrapped with the attempted offset and
// size) if [off, off+size) does not fit inside buf.
func boundsCheck(buf []byte, off, size int) error {
	if off < 0 || size < 0 || off+size > len(buf) {
		return fmt.Errorf("%w: offset %d size %d buffer length %d", ErrOutOfRange, off, size, len(buf))
	}
	return nil
}

// ReadUint8 reads a single byte at off.
func ReadUint8(buf []byte, off int) (uint8, error) {
	if err := boundsCheck(buf, off, 1); err != nil {
		return 0, err
	}
	return buf[off], nil
}

// WriteUint8 writes a single byte at off.
func WriteUint8(buf []byte, off int, v uint8) error {
	if err := boundsCheck(buf, off, 1); err != nil {
		return err
	}
	buf[off] = v
	return nil
}

// ReadUint16 reads a 16-bit value at off using the given byte order.
func ReadUint16(buf []byte, off int, order binary.ByteOrder) (uint16, error) {
	if err := boundsCheck(buf, off, 2); err != nil {
		return 0, err
	}
	return order.Uint16(buf[off:]), nil
}

// WriteUint16 writes a 16-bit value at off using the given byte order.
func WriteUint16(buf []byte, off int, order binary.ByteOrder, v uint16) error {
	if err := boundsCheck(buf, off, 2); err != nil {
		return err
	}
	order.PutUint16(buf[off:], v)
	return nil
}

// ReadUint32 reads a 32-bit value at off using the given byte order.
func ReadUint32(buf []byte, off int, order binary.ByteOrder) (uint32, error) {
	if err := boundsCheck(buf, off, 4); err != nil {
		return 0, err
	}
	return order.Uint32(buf[off:]), nil
}

// WriteUint32 writes a 32-bit value at off using the given byte order.
func WriteUint32(buf []byte, off int, order binary.ByteOrder, v uint32) error {
	if err := boundsCheck(buf, off, 4); err != nil {
		return err
	}
	order.PutUint32(buf[off:], v)
	return nil
}

// ReadUint64 reads a 64-bit value at off using the given byte order.
func ReadUint64(buf []byte, off int, order binary.ByteOrder) (uint64, error) {
	if err := boundsCheck(buf, off, 8); err != nil {
		return 0, err
	}
	return order.Uint64(buf[off:]), nil
}

// WriteUint64 writes a 64-bit value at off using the given byte order.
func WriteUint64(buf []byte, off int, order binary.ByteOrder, v uint64) error {
	if err := boundsCheck(buf, off, 8); err != nil {
		return err
	}
	order.PutUint64(buf[off:], v)
	return nil
}

// ReadStruct decodes a fixed-size record of type *T at off into v, using
// order for every multi-byte field. T must be "symmetrically serialisable":
// a fixed-size struct of only fixed-width integer fields (and arrays
// thereof), the same requirement encoding/binary.Read imposes. The same
// struct definition is used for both ReadStruct and WriteStruct, so the
// wire layout is declared exactly once.
func ReadStruct(buf []byte, off int, order binary.ByteOrder, v any) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("endianio: type %T is not fixed-size", v)
	}
	if err := boundsCheck(buf, off, size); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf[off:off+size]), order, v)
}

// WriteStruct encodes v (a *T of the same shape ReadStruct expects) to buf
// at off using order.
func WriteStruct(buf []byte, off int, order binary.ByteOrder, v any) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("endianio: type %T is not fixed-size", v)
	}
	if err := boundsCheck(buf, off, size); err != nil {
		return err
	}
	var out bytes.Buffer
	out.Grow(size)
	if err := binary.Write(&out, order, v); err != nil {
		return err
	}
	copy(buf[off:off+size], out.Bytes())
	return nil
}
