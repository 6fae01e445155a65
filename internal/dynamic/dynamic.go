// Package dynamic scans a PT_DYNAMIC segment and exposes the string table,
// symbol table, hash table, relocation groups, init/fini arrays and
// DT_NEEDED list it describes.
package dynamic

import (
	stdelf "debug/elf"
	"errors"
	"fmt"

	"github.com/owlshift/dynload/internal/elfimage"
	"github.com/owlshift/dynload/internal/endianio"
	"github.com/owlshift/dynload/internal/hashtable"
)

// ErrNoHashTable is returned when neither DT_HASH nor DT_GNU_HASH is
// present — every SysV ELF shared object carries one or the other.
var ErrNoHashTable = errors.New("dynamic: no DT_HASH or DT_GNU_HASH entry")

// RelEntry is a normalized Elf32_Rel/Elf64_Rel record. Offset is returned as
// an RVA (r_offset with vbase already subtracted), so a relocation engine
// can add a runtime base directly without knowing the link-time one.
type RelEntry struct {
	Offset uint64
	Info   uint64 // packed (sym << 32 | type) on Elf64, (sym << 8 | type) on Elf32, already widened
	Sym    uint32
	Type   uint32
}

// RelaEntry is a RelEntry plus an explicit addend.
type RelaEntry struct {
	RelEntry
	Addend int64
}

// Table is the parsed view over one module's PT_DYNAMIC segment.
type Table struct {
	img      *elfimage.Image
	class    stdelf.Class
	vbase    uint64
	entries  []dynEntry
	strRVA   uint64
	strSz    uint64
	symRVA   uint64
	symEnt   uint64
	hashKind hashKind
	hashRVA  uint64
	needed   []uint64 // DT_NEEDED string-table offsets
}

type dynEntry struct {
	Tag stdelf.DynTag
	Val uint64
}

type hashKind int

const (
	hashNone hashKind = iota
	hashClassic
	hashGnu
)

const dynEntSize32 = 8  // Elf32_Dyn: Sword d_tag, union{Sword d_val; Addr d_ptr} — 4+4
const dynEntSize64 = 16 // Elf64_Dyn: Sxword d_tag, union{Xword d_val; Addr d_ptr} — 8+8

// New scans the PT_DYNAMIC segment described by dynProg within img (a
// read/write view over the *loaded* image — the dynamic table must be
// parsed against the copied-and-relocatable memory, not the source file).
func New(img *elfimage.Image, dynProg elfimage.ProgHeader) (*Table, error) {
	if dynProg.Type != stdelf.PT_DYNAMIC {
		return nil, fmt.Errorf("dynamic: program header is not PT_DYNAMIC")
	}
	class := img.Ehdr().Class
	entSize := uint64(dynEntSize32)
	if class == stdelf.ELFCLASS64 {
		entSize = dynEntSize64
	}
	vbase := img.VBase()
	dynRVA := dynProg.VAddr - vbase
	count := dynProg.MemSz / entSize

	t := &Table{img: img, class: class, vbase: vbase}
	for i := uint64(0); i < count; i++ {
		off := dynRVA + i*entSize
		tag, val, err := loadDynEntry(img, class, off)
		if err != nil {
			return nil, err
		}
		t.entries = append(t.entries, dynEntry{Tag: stdelf.DynTag(tag), Val: val})
		if tag == int64(stdelf.DT_NULL) {
			break
		}
	}

	var classicHashRVA uint64
	var haveClassic bool
	for _, e := range t.entries {
		switch e.Tag {
		case stdelf.DT_STRTAB:
			t.strRVA = e.Val - vbase
		case stdelf.DT_STRSZ:
			t.strSz = e.Val
		case stdelf.DT_SYMTAB:
			t.symRVA = e.Val - vbase
		case stdelf.DT_SYMENT:
			t.symEnt = e.Val
		case stdelf.DT_HASH:
			haveClassic = true
			classicHashRVA = e.Val - vbase
		case stdelf.DT_GNU_HASH:
			t.hashKind = hashGnu
			t.hashRVA = e.Val - vbase
		case stdelf.DT_NEEDED:
			t.needed = append(t.needed, e.Val)
		}
	}
	// GNU hash takes priority when both are present, matching glibc's own
	// preference (it is the faster table and the one modern toolchains
	// emit by default).
	if t.hashKind == hashNone && haveClassic {
		t.hashKind = hashClassic
		t.hashRVA = classicHashRVA
	}

	if t.hashKind == hashNone {
		return nil, ErrNoHashTable
	}

	return t, nil
}

func loadDynEntry(img *elfimage.Image, class stdelf.Class, off uint64) (tag int64, val uint64, err error) {
	if class == stdelf.ELFCLASS32 {
		var d stdelf.Dyn32
		if err = img.LoadStruct(off, &d); err != nil {
			return 0, 0, err
		}
		return int64(d.Tag), uint64(d.Val), nil
	}
	var d stdelf.Dyn64
	if err = img.LoadStruct(off, &d); err != nil {
		return 0, 0, err
	}
	return d.Tag, d.Val, nil
}

// DynEntry is one exported (tag, value) pair from the dynamic table.
type DynEntry struct {
	Tag stdelf.DynTag
	Val uint64
}

// Entries returns every dynamic entry in file order, including DT_NULL.
func (t *Table) Entries() []DynEntry {
	out := make([]DynEntry, len(t.entries))
	for i, e := range t.entries {
		out[i] = DynEntry{Tag: e.Tag, Val: e.Val}
	}
	return out
}

// Needed returns each DT_NEEDED dependency name in declaration order.
func (t *Table) Needed() ([]string, error) {
	names := make([]string, 0, len(t.needed))
	for _, off := range t.needed {
		name, err := t.String(off)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// String reads a NUL-terminated string at index (an offset into DT_STRTAB).
func (t *Table) String(index uint64) (string, error) {
	rva := t.strRVA + index
	if index > t.strSz {
		return "", fmt.Errorf("%w: strtab index %d beyond size %d", endianio.ErrOutOfRange, index, t.strSz)
	}
	buf := t.img.Bytes()
	start := int(rva)
	if start < 0 || start > len(buf) {
		return "", fmt.Errorf("%w: strtab rva %#x beyond buffer", endianio.ErrOutOfRange, rva)
	}
	end := start
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[start:end]), nil
}

// Sym is a normalized Elf32_Sym/Elf64_Sym.
type Sym struct {
	Name    uint32
	Value   uint64
	Size    uint64
	Info    uint8
	Other   uint8
	SHNDX   uint16
	Type    stdelf.SymType
	Bind    stdelf.SymBind
	Vis     stdelf.SymVis
}

// Symbol decodes the symbol record at index. Value is returned as an RVA
// (vbase already subtracted), matching Init/Fini/Entry, so callers never
// add a link-time base to a runtime one.
func (t *Table) Symbol(index uint32) (Sym, error) {
	off := t.symRVA + uint64(index)*t.symEnt
	if t.class == stdelf.ELFCLASS32 {
		var s stdelf.Sym32
		if err := t.img.LoadStruct(off, &s); err != nil {
			return Sym{}, err
		}
		return Sym{
			Name:  s.Name,
			Value: uint64(s.Value) - t.vbase,
			Size:  uint64(s.Size),
			Info:  s.Info,
			Other: s.Other,
			SHNDX: s.Shndx,
			Type:  stdelf.SymType(s.Info & 0xf),
			Bind:  stdelf.SymBind(s.Info >> 4),
			Vis:   stdelf.SymVis(s.Other & 0x3),
		}, nil
	}
	var s stdelf.Sym64
	if err := t.img.LoadStruct(off, &s); err != nil {
		return Sym{}, err
	}
	return Sym{
		Name:  s.Name,
		Value: s.Value - t.vbase,
		Size:  s.Size,
		Info:  s.Info,
		Other: s.Other,
		SHNDX: s.Shndx,
		Type:  stdelf.SymType(s.Info & 0xf),
		Bind:  stdelf.SymBind(s.Info >> 4),
		Vis:   stdelf.SymVis(s.Other & 0x3),
	}, nil
}

// imgWordReader adapts Image to hashtable.Reader.
type imgWordReader struct{ img *elfimage.Image }

func (r imgWordReader) LoadWord(rva uint64) (uint32, error) { return r.img.LoadUint32(rva) }

// FindSymbol resolves name via whichever hash table is present, returning
// the decoded symbol.
func (t *Table) FindSymbol(name string) (Sym, bool, error) {
	strtab := func(off uint64) (string, error) { return t.String(off) }
	symName := func(index uint32) (uint64, error) {
		s, err := t.Symbol(index)
		if err != nil {
			return 0, err
		}
		return uint64(s.Name), nil
	}

	var idx uint32
	var err error
	switch t.hashKind {
	case hashClassic:
		var c *hashtable.Classic
		c, err = hashtable.NewClassic(imgWordReader{t.img}, t.hashRVA)
		if err != nil {
			return Sym{}, false, err
		}
		idx, err = c.FindSymbol(strtab, symName, name)
	case hashGnu:
		bloomWordSize := uint64(4)
		loadBloom := func(rva uint64) (uint64, error) {
			v, e := t.img.LoadUint32(rva)
			return uint64(v), e
		}
		if t.class == stdelf.ELFCLASS64 {
			bloomWordSize = 8
			loadBloom = func(rva uint64) (uint64, error) {
				return t.img.LoadUint64(rva)
			}
		}
		var g *hashtable.Gnu
		g, err = hashtable.NewGnu(imgWordReader{t.img}, t.hashRVA, bloomWordSize, loadBloom)
		if err != nil {
			return Sym{}, false, err
		}
		idx, err = g.FindSymbol(strtab, symName, name)
	default:
		return Sym{}, false, ErrNoHashTable
	}
	if errors.Is(err, hashtable.ErrNotFound) {
		return Sym{}, false, nil
	}
	if err != nil {
		return Sym{}, false, err
	}
	sym, err := t.Symbol(idx)
	if err != nil {
		return Sym{}, false, err
	}
	return sym, true, nil
}
