package dynload

import (
	stdelf "debug/elf"
	"encoding/binary"
	"errors"
	"testing"
)

// buildModuleFixture lays out a minimal ET_DYN ELF64 image: one PT_LOAD
// covering the whole file at vaddr 0x1000, a PT_DYNAMIC segment with a
// string table, a two-entry symbol table ("alpha" exported at 0x2000), a
// one-bucket classic hash table, and one DT_NEEDED entry per name in
// needed. No relocation groups — internal/reloc has its own fixture and
// this one only exercises Module construction end to end.
func buildModuleFixture(t *testing.T, needed []string) []byte {
	t.Helper()
	order := binary.LittleEndian
	const (
		ehdrSize = 64
		phdrSize = 56
		vbase    = 0x1000
	)

	strtab := []byte{0}
	alphaOff := len(strtab)
	strtab = append(strtab, []byte("alpha\x00")...)
	neededOffs := make([]int, len(needed))
	for i, n := range needed {
		neededOffs[i] = len(strtab)
		strtab = append(strtab, append([]byte(n), 0)...)
	}

	strtabOff := ehdrSize + 2*phdrSize
	strtabSize := len(strtab)
	symtabOff := strtabOff + strtabSize
	symtabSize := 2 * 24
	hashOff := symtabOff + symtabSize
	hashSize := 8 + 4 + 2*4 // nbuckets, nchains, bucket[1], chain[2]
	dynOff := hashOff + hashSize
	dynCount := 5 + len(needed) + 1
	dynSize := dynCount * 16
	total := dynOff + dynSize

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
	order.PutUint64(buf[p0+8:], 0)
	order.PutUint64(buf[p0+16:], vbase)
	order.PutUint64(buf[p0+32:], uint64(total))
	order.PutUint64(buf[p0+40:], uint64(total))
	order.PutUint64(buf[p0+48:], 0x1000)

	p1 := ehdrSize + phdrSize
	order.PutUint32(buf[p1:], uint32(stdelf.PT_DYNAMIC))
	order.PutUint32(buf[p1+4:], uint32(stdelf.PF_R|stdelf.PF_W))
	order.PutUint64(buf[p1+8:], uint64(dynOff))
	order.PutUint64(buf[p1+16:], vbase+uint64(dynOff))
	order.PutUint64(buf[p1+32:], uint64(dynSize))
	order.PutUint64(buf[p1+40:], uint64(dynSize))
	order.PutUint64(buf[p1+48:], 8)

	copy(buf[strtabOff:], strtab)

	sym1 := symtabOff + 24
	order.PutUint32(buf[sym1:], uint32(alphaOff))
	buf[sym1+4] = (uint8(stdelf.STB_GLOBAL) << 4) | uint8(stdelf.STT_FUNC)
	buf[sym1+5] = uint8(stdelf.STV_DEFAULT)
	order.PutUint16(buf[sym1+6:], 1)
	// st_value is a link-time VA like every other DT_* address in this
	// fixture, so it carries vbase too; Symbol() subtracts it back out to
	// an RVA, and the test below expects LoadedBase()+0x2000 accordingly.
	order.PutUint64(buf[sym1+8:], vbase+0x2000)

	order.PutUint32(buf[hashOff:], 1)
	order.PutUint32(buf[hashOff+4:], 2)
	bucketBase := hashOff + 8
	chainBase := bucketBase + 4
	order.PutUint32(buf[bucketBase:], 1)
	order.PutUint32(buf[chainBase+4:], 0)

	dynPut := func(i int, tag stdelf.DynTag, val uint64) {
		off := dynOff + i*16
		order.PutUint64(buf[off:], uint64(tag))
		order.PutUint64(buf[off+8:], val)
	}
	i := 0
	dynPut(i, stdelf.DT_STRTAB, vbase+uint64(strtabOff))
	i++
	dynPut(i, stdelf.DT_STRSZ, uint64(strtabSize))
	i++
	dynPut(i, stdelf.DT_SYMTAB, vbase+uint64(symtabOff))
	i++
	dynPut(i, stdelf.DT_SYMENT, 24)
	i++
	dynPut(i, stdelf.DT_HASH, vbase+uint64(hashOff))
	i++
	for _, off := range neededOffs {
		dynPut(i, stdelf.DT_NEEDED, uint64(off))
		i++
	}
	dynPut(i, stdelf.DT_NULL, 0)

	return buf
}

func TestLoadFromMemoryNoDeps(t *testing.T) {
	buf := buildModuleFixture(t, nil)
	m, err := LoadFromMemory(buf, nil)
	if err != nil {
		t.Fatalf("LoadFromMemory: %v", err)
	}
	defer m.Close()

	addr, ok := m.GetRawProc("alpha")
	if !ok {
		t.Fatal("GetRawProc(alpha) not found")
	}
	if want := uintptr(m.LoadedBase() + 0x2000); addr != want {
		t.Errorf("GetRawProc(alpha) = %#x, want %#x", addr, want)
	}

	if _, ok := m.GetRawData("nonexistent"); ok {
		t.Error("GetRawData(nonexistent) unexpectedly found")
	}
}

func TestLoadFromMemoryMissingDependency(t *testing.T) {
	buf := buildModuleFixture(t, []string{"libfoo.so"})
	_, err := LoadFromMemory(buf, nil)
	if err == nil {
		t.Fatal("expected error for unsatisfied DT_NEEDED")
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("error is not a *LoadError: %v", err)
	}
	if le.Kind != DependencyNotFound {
		t.Errorf("Kind = %v, want DependencyNotFound", le.Kind)
	}
}

type stubResolver struct {
	modules map[string]Capability
}

func (s stubResolver) GetModule(name string) (Capability, error) {
	return s.modules[name], nil
}

func TestLoadFromMemorySatisfiedDependency(t *testing.T) {
	depBuf := buildModuleFixture(t, nil)
	dep, err := LoadFromMemory(depBuf, nil)
	if err != nil {
		t.Fatalf("LoadFromMemory(dep): %v", err)
	}
	defer dep.Close()

	buf := buildModuleFixture(t, []string{"libfoo.so"})
	m, err := LoadFromMemory(buf, stubResolver{modules: map[string]Capability{"libfoo.so": dep}})
	if err != nil {
		t.Fatalf("LoadFromMemory: %v", err)
	}
	defer m.Close()

	if addr, ok := m.GetRawProc("alpha"); !ok || addr == 0 {
		t.Errorf("GetRawProc(alpha) = %#x, %v, want own export resolved first", addr, ok)
	}
}

func TestLoadFromMemoryRejectsWrongType(t *testing.T) {
	buf := buildModuleFixture(t, nil)
	binary.LittleEndian.PutUint16(buf[16:], uint16(stdelf.ET_EXEC))
	_, err := LoadFromMemory(buf, nil)
	if err == nil {
		t.Fatal("expected error for non-ET_DYN image")
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Kind != Unsupported {
		t.Fatalf("expected Unsupported LoadError, got %v", err)
	}
}

func TestLoadFromMemoryRejectsWrongMachine(t *testing.T) {
	buf := buildModuleFixture(t, nil)
	binary.LittleEndian.PutUint16(buf[18:], uint16(stdelf.EM_ARM))
	_, err := LoadFromMemory(buf, nil)
	if err == nil {
		t.Fatal("expected error for unsupported machine")
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Kind != Unsupported {
		t.Fatalf("expected Unsupported LoadError, got %v", err)
	}
}
