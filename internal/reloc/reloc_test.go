package reloc

import (
	stdelf "debug/elf"
	"encoding/binary"
	"testing"

	"github.com/owlshift/dynload/internal/dynamic"
	"github.com/owlshift/dynload/internal/elfimage"
	"github.com/owlshift/dynload/internal/resolver"
)

// buildRelocFixture lays out a minimal ET_DYN ELF64 image: one PT_LOAD
// covering the whole file, a PT_DYNAMIC segment with a string table, a
// two-entry symbol table ("alpha" at index 1), a one-bucket classic hash
// table (satisfying dynamic.New's hash-table requirement), and a three-entry
// RELA array exercising R_X86_64_64, R_X86_64_RELATIVE and R_X86_64_PC32.
func buildRelocFixture(t *testing.T) []byte {
	t.Helper()
	const (
		ehdrSize = 64
		phdrSize = 56
	)
	order := binary.LittleEndian

	const (
		strtabOff  = ehdrSize + 2*phdrSize
		strtabSize = 1 + len("alpha") + 1
		symtabOff  = strtabOff + strtabSize
		symtabSize = 2 * 24
		hashOff    = symtabOff + symtabSize
		hashSize   = 8 + 1*4 + 2*4
		relaOff    = hashOff + hashSize
		relaEnt    = 24
		relaCount  = 3
		relaSize   = relaCount * relaEnt
		dynOff     = relaOff + relaSize
		dynEntries = 9
		dynSize    = dynEntries * 16
		total      = dynOff + dynSize

		offAbs      = 0x10
		offRelative = 0x20
		offPC32     = 0x30
	)

	buf := make([]byte, total)
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = byte(stdelf.ELFCLASS64)
	buf[5] = byte(stdelf.ELFDATA2LSB)
	buf[6] = 1

	order.PutUint16(buf[16:], uint16(stdelf.ET_DYN))
	order.PutUint16(buf[18:], uint16(stdelf.EM_X86_64))
	order.PutUint32(buf[20:], 1)
	order.PutUint64(buf[32:], ehdrSize)
	order.PutUint16(buf[52:], ehdrSize)
	order.PutUint16(buf[54:], phdrSize)
	order.PutUint16(buf[56:], 2)

	p0 := ehdrSize
	order.PutUint32(buf[p0:], uint32(stdelf.PT_LOAD))
	order.PutUint32(buf[p0+4:], uint32(stdelf.PF_R|stdelf.PF_W))
	order.PutUint64(buf[p0+32:], uint64(total))
	order.PutUint64(buf[p0+40:], uint64(total))
	order.PutUint64(buf[p0+48:], 0x1000)

	p1 := ehdrSize + phdrSize
	order.PutUint32(buf[p1:], uint32(stdelf.PT_DYNAMIC))
	order.PutUint32(buf[p1+4:], uint32(stdelf.PF_R|stdelf.PF_W))
	order.PutUint64(buf[p1+8:], uint64(dynOff))
	order.PutUint64(buf[p1+16:], uint64(dynOff))
	order.PutUint64(buf[p1+32:], uint64(dynSize))
	order.PutUint64(buf[p1+40:], uint64(dynSize))
	order.PutUint64(buf[p1+48:], 8)

	alphaIdx := uint64(1)
	copy(buf[strtabOff+1:], "alpha")

	sym1 := symtabOff + 24
	order.PutUint32(buf[sym1:], uint32(alphaIdx))
	buf[sym1+4] = (uint8(stdelf.STB_GLOBAL) << 4) | uint8(stdelf.STT_FUNC)
	buf[sym1+5] = uint8(stdelf.STV_DEFAULT)
	order.PutUint16(buf[sym1+6:], 1)
	order.PutUint64(buf[sym1+8:], 0x2000)

	order.PutUint32(buf[hashOff:], 1)
	order.PutUint32(buf[hashOff+4:], 2)
	bucketBase := hashOff + 8
	chainBase := bucketBase + 1*4
	order.PutUint32(buf[bucketBase:], 1)
	order.PutUint32(buf[chainBase+1*4:], 0)

	putRela := func(i int, offset uint64, sym uint32, relType stdelf.R_X86_64, addend int64) {
		off := relaOff + i*relaEnt
		order.PutUint64(buf[off:], offset)
		order.PutUint64(buf[off+8:], uint64(sym)<<32|uint64(relType))
		order.PutUint64(buf[off+16:], uint64(addend))
	}
	putRela(0, offAbs, 1, stdelf.R_X86_64_64, 5)
	putRela(1, offRelative, 0, stdelf.R_X86_64_RELATIVE, 0x10)
	putRela(2, offPC32, 1, stdelf.R_X86_64_PC32, -4)

	dynPut := func(i int, tag stdelf.DynTag, val uint64) {
		off := dynOff + i*16
		order.PutUint64(buf[off:], uint64(tag))
		order.PutUint64(buf[off+8:], val)
	}
	dynPut(0, stdelf.DT_STRTAB, strtabOff)
	dynPut(1, stdelf.DT_STRSZ, uint64(strtabSize))
	dynPut(2, stdelf.DT_SYMTAB, uint64(symtabOff))
	dynPut(3, stdelf.DT_SYMENT, 24)
	dynPut(4, stdelf.DT_HASH, uint64(hashOff))
	dynPut(5, stdelf.DT_RELA, uint64(relaOff))
	dynPut(6, stdelf.DT_RELASZ, relaSize)
	dynPut(7, stdelf.DT_RELAENT, relaEnt)
	dynPut(8, stdelf.DT_NULL, 0)

	return buf
}

type fakeExporter struct {
	base    uint64
	symbols map[string]dynamic.Sym
}

func (f *fakeExporter) FindSymbol(name string) (dynamic.Sym, bool, error) {
	s, ok := f.symbols[name]
	return s, ok, nil
}

func (f *fakeExporter) LoadedBase() uint64 { return f.base }

func newTestEngine(t *testing.T, base uint64) (*Engine, *elfimage.Image) {
	t.Helper()
	buf := buildRelocFixture(t)
	img, err := elfimage.New(buf)
	if err != nil {
		t.Fatalf("elfimage.New: %v", err)
	}
	dynProg, ok := img.DynamicProg()
	if !ok {
		t.Fatal("no PT_DYNAMIC in fixture")
	}
	table, err := dynamic.New(img, dynProg)
	if err != nil {
		t.Fatalf("dynamic.New: %v", err)
	}
	res := &resolver.Resolver{
		Source: &fakeExporter{base: 0x1000, symbols: map[string]dynamic.Sym{
			"alpha": {Value: 0x50, Vis: stdelf.STV_DEFAULT},
		}},
	}
	e, err := New(img, stdelf.EM_X86_64, table, res, base)
	if err != nil {
		t.Fatalf("reloc.New: %v", err)
	}
	return e, img
}

func TestApplyAllAbsoluteRelativePC32(t *testing.T) {
	const base = 0x4000
	e, img := newTestEngine(t, base)

	if err := e.ApplyAll(); err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}

	abs, err := img.LoadUint64(0x10)
	if err != nil {
		t.Fatalf("LoadUint64(abs): %v", err)
	}
	if want := uint64(0x1000 + 0x50 + 5); abs != want {
		t.Errorf("R_X86_64_64 store = %#x, want %#x", abs, want)
	}

	rel, err := img.LoadUint64(0x20)
	if err != nil {
		t.Fatalf("LoadUint64(relative): %v", err)
	}
	if want := uint64(base + 0x10); rel != want {
		t.Errorf("R_X86_64_RELATIVE store = %#x, want %#x (runtime base, not vbase)", rel, want)
	}

	pc32, err := img.LoadUint32(0x30)
	if err != nil {
		t.Fatalf("LoadUint32(pc32): %v", err)
	}
	s := int64(0x1000 + 0x50)
	p := int64(base + 0x30)
	want := uint32(int32(s - 4 - p))
	if pc32 != want {
		t.Errorf("R_X86_64_PC32 store = %#x, want %#x", pc32, want)
	}
}

func TestApplyAllUnsupportedMachine(t *testing.T) {
	buf := buildRelocFixture(t)
	img, _ := elfimage.New(buf)
	dynProg, _ := img.DynamicProg()
	table, _ := dynamic.New(img, dynProg)
	res := &resolver.Resolver{Source: &fakeExporter{symbols: map[string]dynamic.Sym{}}}

	if _, err := New(img, stdelf.EM_ARM, table, res, 0); err == nil {
		t.Fatal("expected error for unsupported machine")
	}
}
