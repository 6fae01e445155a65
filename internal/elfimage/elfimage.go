// Package elfimage provides a typed view over a contiguous buffer holding an
// ELF file or a loaded image: header, program-header and section-header
// iteration, RVA<->pointer conversion, and endian-correct field access.
//
// Image works equally over a read-only buffer (the source file bytes, before
// anything is mapped) and over a read/write buffer backed by a live VMem
// region (the loaded image) — in the latter case Bytes() is not a copy, so
// StoreStruct and the pointer-conversion helpers touch the real mapped
// memory.
package elfimage

import (
	stdelf "debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/owlshift/dynload/internal/endianio"
)

// ErrInvalidImage is the base sentinel for every structural validation
// failure (spec.md §7's "invalid-image" kind).
var ErrInvalidImage = errors.New("elfimage: invalid image")

const ehdrSize32 = 52
const ehdrSize64 = 64

// Ehdr is a normalized view of an ELF header, widened to the common
// representation regardless of the source's word size.
type Ehdr struct {
	Class     stdelf.Class
	Data      stdelf.Data
	Version   uint32
	OSABI     stdelf.OSABI
	Type      stdelf.Type
	Machine   stdelf.Machine
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrNdx  uint16
}

// ProgHeader is a normalized program header.
type ProgHeader struct {
	Type   stdelf.ProgType
	Flags  stdelf.ProgFlag
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

// SectionHeader is a normalized section header.
type SectionHeader struct {
	Name      uint32
	Type      stdelf.SectionType
	Flags     stdelf.SectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// Image is a parsed, typed view over buf.
type Image struct {
	buf      []byte
	order    binary.ByteOrder
	ehdr     Ehdr
	progs    []ProgHeader
	sections []SectionHeader
	vbase    uint64
	vsize    uint64
}

// New parses buf as an ELF image, auto-detecting word size from EI_CLASS and
// byte order from EI_DATA. It rejects anything shorter than an ELF header,
// an unknown class or data byte, and does not itself check machine
// compatibility or file type — that is the caller's job (LoadFromMemory in
// dynload.go checks ET_DYN and host machine compatibility once it has an
// Image in hand).
func New(buf []byte) (*Image, error) {
	if len(buf) < 16 {
		return nil, fmt.Errorf("%w: buffer shorter than e_ident", ErrInvalidImage)
	}
	if buf[0] != 0x7f || buf[1] != 'E' || buf[2] != 'L' || buf[3] != 'F' {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidImage)
	}
	class := stdelf.Class(buf[4])
	data := stdelf.Data(buf[5])

	var order binary.ByteOrder
	switch data {
	case stdelf.ELFDATA2LSB:
		order = binary.LittleEndian
	case stdelf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: unknown data encoding %d", ErrInvalidImage, data)
	}

	var ehdr Ehdr
	switch class {
	case stdelf.ELFCLASS32:
		if len(buf) < ehdrSize32 {
			return nil, fmt.Errorf("%w: buffer shorter than Ehdr32", ErrInvalidImage)
		}
		ehdr = decodeEhdr32(buf, order)
	case stdelf.ELFCLASS64:
		if len(buf) < ehdrSize64 {
			return nil, fmt.Errorf("%w: buffer shorter than Ehdr64", ErrInvalidImage)
		}
		ehdr = decodeEhdr64(buf, order)
	default:
		return nil, fmt.Errorf("%w: unknown class %d", ErrInvalidImage, class)
	}
	ehdr.Class, ehdr.Data = class, data

	progs, err := decodeProgs(buf, order, class, ehdr)
	if err != nil {
		return nil, err
	}
	sections, err := decodeSections(buf, order, class, ehdr)
	if err != nil {
		return nil, err
	}

	vbase, vsize := computeLayout(progs)

	return &Image{
		buf:      buf,
		order:    order,
		ehdr:     ehdr,
		progs:    progs,
		sections: sections,
		vbase:    vbase,
		vsize:    vsize,
	}, nil
}

// computeLayout returns vbase (the minimum p_vaddr across PT_LOAD entries)
// and vsize (the sum of each load's memory size aligned up to its own
// p_align), per spec.md's Image descriptor invariants.
func computeLayout(progs []ProgHeader) (vbase, vsize uint64) {
	vbase = ^uint64(0)
	for _, p := range progs {
		if p.Type != stdelf.PT_LOAD {
			continue
		}
		if p.VAddr < vbase {
			vbase = p.VAddr
		}
	}
	if vbase == ^uint64(0) {
		return 0, 0
	}
	for _, p := range progs {
		if p.Type != stdelf.PT_LOAD {
			continue
		}
		align := p.Align
		if align == 0 {
			align = 1
		}
		vsize += (p.MemSz + align - 1) &^ (align - 1)
	}
	return vbase, vsize
}

// Ehdr returns the normalized ELF header.
func (img *Image) Ehdr() Ehdr { return img.ehdr }

// Progs returns every program header.
func (img *Image) Progs() []ProgHeader { return img.progs }

// Sections returns every section header (parsed if e_shoff != 0, otherwise
// empty — real dynamic linking needs only PT_DYNAMIC, never section headers,
// so stripped shared objects remain loadable).
func (img *Image) Sections() []SectionHeader { return img.sections }

// VBase is the minimum p_vaddr across PT_LOAD entries.
func (img *Image) VBase() uint64 { return img.vbase }

// VSize is the total mapped size implied by the PT_LOAD spans.
func (img *Image) VSize() uint64 { return img.vsize }

// Order is the byte order this image was decoded with.
func (img *Image) Order() binary.ByteOrder { return img.order }

// Bytes returns the underlying buffer. When Image wraps a loaded region's
// memory, mutating the returned slice mutates the live mapping.
func (img *Image) Bytes() []byte { return img.buf }

// DynamicProg returns the PT_DYNAMIC program header, if any.
func (img *Image) DynamicProg() (ProgHeader, bool) {
	for _, p := range img.progs {
		if p.Type == stdelf.PT_DYNAMIC {
			return p, true
		}
	}
	return ProgHeader{}, false
}

// OffsetToPtr returns the address of buf[off], bounds-checked.
func (img *Image) OffsetToPtr(off uint64) (uintptr, error) {
	if off > uint64(len(img.buf)) {
		return 0, fmt.Errorf("%w: offset %#x beyond buffer of length %#x", endianio.ErrOutOfRange, off, len(img.buf))
	}
	if len(img.buf) == 0 {
		return 0, nil
	}
	return uintptr(unsafe.Pointer(&img.buf[0])) + uintptr(off), nil
}

// RVAToPtr treats the start of buf as corresponding to RVA 0 — i.e. rva is
// already vbase-relative — and returns the pointer at that offset.
func (img *Image) RVAToPtr(rva uint64) (uintptr, error) {
	return img.OffsetToPtr(rva)
}

// LoadStruct decodes a fixed-size record of *v at off using this image's
// byte order.
func (img *Image) LoadStruct(off uint64, v any) error {
	return endianio.ReadStruct(img.buf, int(off), img.order, v)
}

// StoreStruct encodes v to off using this image's byte order. Only
// meaningful when buf is a read/write (loaded) view.
func (img *Image) StoreStruct(off uint64, v any) error {
	return endianio.WriteStruct(img.buf, int(off), img.order, v)
}

// LoadUint32 / StoreUint32 read and write a bare 32-bit field at off, used
// by the relocator for REL addends and store widths.
func (img *Image) LoadUint32(off uint64) (uint32, error) {
	return endianio.ReadUint32(img.buf, int(off), img.order)
}

func (img *Image) StoreUint32(off uint64, v uint32) error {
	return endianio.WriteUint32(img.buf, int(off), img.order, v)
}

func (img *Image) LoadUint64(off uint64) (uint64, error) {
	return endianio.ReadUint64(img.buf, int(off), img.order)
}

func (img *Image) StoreUint64(off uint64, v uint64) error {
	return endianio.WriteUint64(img.buf, int(off), img.order, v)
}
