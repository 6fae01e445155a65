package elfimage

import (
	stdelf "debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/owlshift/dynload/internal/endianio"
)

// decodeEhdr32/64 decode the class-specific on-disk header, reusing
// debug/elf's Header32/Header64 — their field order already matches the
// real Elf32_Ehdr/Elf64_Ehdr layout, so ReadStruct's sequential decode
// lines up without any hand-written offset table.
func decodeEhdr32(buf []byte, order binary.ByteOrder) Ehdr {
	var h stdelf.Header32
	_ = endianio.ReadStruct(buf, 0, order, &h)
	return Ehdr{
		Version:   h.Version,
		OSABI:     stdelf.OSABI(h.Ident[stdelf.EI_OSABI]),
		Type:      stdelf.Type(h.Type),
		Machine:   stdelf.Machine(h.Machine),
		Entry:     uint64(h.Entry),
		PhOff:     uint64(h.Phoff),
		ShOff:     uint64(h.Shoff),
		Flags:     h.Flags,
		EhSize:    h.Ehsize,
		PhEntSize: h.Phentsize,
		PhNum:     h.Phnum,
		ShEntSize: h.Shentsize,
		ShNum:     h.Shnum,
		ShStrNdx:  h.Shstrndx,
	}
}

func decodeEhdr64(buf []byte, order binary.ByteOrder) Ehdr {
	var h stdelf.Header64
	_ = endianio.ReadStruct(buf, 0, order, &h)
	return Ehdr{
		Version:   h.Version,
		OSABI:     stdelf.OSABI(h.Ident[stdelf.EI_OSABI]),
		Type:      stdelf.Type(h.Type),
		Machine:   stdelf.Machine(h.Machine),
		Entry:     h.Entry,
		PhOff:     h.Phoff,
		ShOff:     h.Shoff,
		Flags:     h.Flags,
		EhSize:    h.Ehsize,
		PhEntSize: h.Phentsize,
		PhNum:     h.Phnum,
		ShEntSize: h.Shentsize,
		ShNum:     h.Shnum,
		ShStrNdx:  h.Shstrndx,
	}
}

func decodeProgs(buf []byte, order binary.ByteOrder, class stdelf.Class, ehdr Ehdr) ([]ProgHeader, error) {
	if ehdr.PhNum == 0 {
		return nil, nil
	}
	progs := make([]ProgHeader, 0, ehdr.PhNum)
	for i := 0; i < int(ehdr.PhNum); i++ {
		off := ehdr.PhOff + uint64(i)*uint64(ehdr.PhEntSize)
		switch class {
		case stdelf.ELFCLASS32:
			var p stdelf.Prog32
			if err := endianio.ReadStruct(buf, int(off), order, &p); err != nil {
				return nil, fmt.Errorf("%w: program header %d: %v", ErrInvalidImage, i, err)
			}
			progs = append(progs, ProgHeader{
				Type:   stdelf.ProgType(p.Type),
				Flags:  stdelf.ProgFlag(p.Flags),
				Offset: uint64(p.Off),
				VAddr:  uint64(p.Vaddr),
				PAddr:  uint64(p.Paddr),
				FileSz: uint64(p.Filesz),
				MemSz:  uint64(p.Memsz),
				Align:  uint64(p.Align),
			})
		case stdelf.ELFCLASS64:
			var p stdelf.Prog64
			if err := endianio.ReadStruct(buf, int(off), order, &p); err != nil {
				return nil, fmt.Errorf("%w: program header %d: %v", ErrInvalidImage, i, err)
			}
			progs = append(progs, ProgHeader{
				Type:   stdelf.ProgType(p.Type),
				Flags:  stdelf.ProgFlag(p.Flags),
				Offset: p.Off,
				VAddr:  p.Vaddr,
				PAddr:  p.Paddr,
				FileSz: p.Filesz,
				MemSz:  p.Memsz,
				Align:  p.Align,
			})
		}
	}
	return progs, nil
}

func decodeSections(buf []byte, order binary.ByteOrder, class stdelf.Class, ehdr Ehdr) ([]SectionHeader, error) {
	if ehdr.ShOff == 0 || ehdr.ShNum == 0 {
		return nil, nil
	}
	sections := make([]SectionHeader, 0, ehdr.ShNum)
	for i := 0; i < int(ehdr.ShNum); i++ {
		off := ehdr.ShOff + uint64(i)*uint64(ehdr.ShEntSize)
		switch class {
		case stdelf.ELFCLASS32:
			var s stdelf.Section32
			if err := endianio.ReadStruct(buf, int(off), order, &s); err != nil {
				return nil, fmt.Errorf("%w: section header %d: %v", ErrInvalidImage, i, err)
			}
			sections = append(sections, SectionHeader{
				Name:      s.Name,
				Type:      stdelf.SectionType(s.Type),
				Flags:     stdelf.SectionFlag(s.Flags),
				Addr:      uint64(s.Addr),
				Offset:    uint64(s.Off),
				Size:      uint64(s.Size),
				Link:      s.Link,
				Info:      s.Info,
				AddrAlign: uint64(s.Addralign),
				EntSize:   uint64(s.Entsize),
			})
		case stdelf.ELFCLASS64:
			var s stdelf.Section64
			if err := endianio.ReadStruct(buf, int(off), order, &s); err != nil {
				return nil, fmt.Errorf("%w: section header %d: %v", ErrInvalidImage, i, err)
			}
			sections = append(sections, SectionHeader{
				Name:      s.Name,
				Type:      stdelf.SectionType(s.Type),
				Flags:     stdelf.SectionFlag(s.Flags),
				Addr:      s.Addr,
				Offset:    s.Off,
				Size:      s.Size,
				Link:      s.Link,
				Info:      s.Info,
				AddrAlign: s.Addralign,
				EntSize:   s.Entsize,
			})
		}
	}
	return sections, nil
}
