package elfimage

import (
	stdelf "debug/elf"
	"encoding/binary"
	"testing"
)

// buildSyntheticELF64 returns a minimal little-endian ET_DYN ELF64 image
// with a single PT_LOAD segment covering the whole buffer, no section
// headers, no PT_DYNAMIC — enough to exercise header and program-header
// decoding plus vbase/vsize computation.
func buildSyntheticELF64(t *testing.T) []byte {
	t.Helper()
	const (
		ehdrSize = 64
		phdrSize = 56
		total    = 4096
	)
	buf := make([]byte, total)
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = byte(stdelf.ELFCLASS64)
	buf[5] = byte(stdelf.ELFDATA2LSB)
	buf[6] = 1
	buf[7] = byte(stdelf.ELFOSABI_NONE)

	order := binary.LittleEndian
	order.PutUint16(buf[16:], uint16(stdelf.ET_DYN))
	order.PutUint16(buf[18:], uint16(stdelf.EM_X86_64))
	order.PutUint32(buf[20:], 1)
	order.PutUint64(buf[24:], 0x1000) // e_entry
	order.PutUint64(buf[32:], ehdrSize) // e_phoff
	order.PutUint64(buf[40:], 0)       // e_shoff
	order.PutUint32(buf[48:], 0)       // e_flags
	order.PutUint16(buf[52:], ehdrSize)
	order.PutUint16(buf[54:], phdrSize)
	order.PutUint16(buf[56:], 1) // e_phnum
	order.PutUint16(buf[58:], 0)
	order.PutUint16(buf[60:], 0)
	order.PutUint16(buf[62:], 0)

	phOff := ehdrSize
	order.PutUint32(buf[phOff:], uint32(stdelf.PT_LOAD))
	order.PutUint32(buf[phOff+4:], uint32(stdelf.PF_R|stdelf.PF_X))
	order.PutUint64(buf[phOff+8:], 0)    // p_offset
	order.PutUint64(buf[phOff+16:], 0)   // p_vaddr
	order.PutUint64(buf[phOff+24:], 0)   // p_paddr
	order.PutUint64(buf[phOff+32:], total) // p_filesz
	order.PutUint64(buf[phOff+40:], total) // p_memsz
	order.PutUint64(buf[phOff+48:], 0x1000) // p_align

	return buf
}

func TestNewParsesHeader(t *testing.T) {
	buf := buildSyntheticELF64(t)
	img, err := New(buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if img.Ehdr().Class != stdelf.ELFCLASS64 {
		t.Errorf("Class = %v, want ELFCLASS64", img.Ehdr().Class)
	}
	if img.Ehdr().Machine != stdelf.EM_X86_64 {
		t.Errorf("Machine = %v, want EM_X86_64", img.Ehdr().Machine)
	}
	if img.Ehdr().Type != stdelf.ET_DYN {
		t.Errorf("Type = %v, want ET_DYN", img.Ehdr().Type)
	}
	if img.Ehdr().Entry != 0x1000 {
		t.Errorf("Entry = %#x, want 0x1000", img.Ehdr().Entry)
	}
}

func TestNewComputesLayout(t *testing.T) {
	buf := buildSyntheticELF64(t)
	img, err := New(buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if img.VBase() != 0 {
		t.Errorf("VBase() = %#x, want 0", img.VBase())
	}
	if img.VSize() != 4096 {
		t.Errorf("VSize() = %#x, want 0x1000", img.VSize())
	}
	if len(img.Progs()) != 1 {
		t.Fatalf("len(Progs()) = %d, want 1", len(img.Progs()))
	}
	if img.Progs()[0].Type != stdelf.PT_LOAD {
		t.Errorf("Progs()[0].Type = %v, want PT_LOAD", img.Progs()[0].Type)
	}
}

func TestNewRejectsBadMagic(t *testing.T) {
	buf := buildSyntheticELF64(t)
	buf[0] = 0
	if _, err := New(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestNewRejectsTruncatedHeader(t *testing.T) {
	buf := buildSyntheticELF64(t)
	if _, err := New(buf[:10]); err == nil {
		t.Fatal("expected error for truncated buffer")
	}
}

func TestNewRejectsUnknownClass(t *testing.T) {
	buf := buildSyntheticELF64(t)
	buf[4] = 0x7f
	if _, err := New(buf); err == nil {
		t.Fatal("expected error for unknown class")
	}
}

func TestOffsetToPtrBoundsCheck(t *testing.T) {
	buf := buildSyntheticELF64(t)
	img, err := New(buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := img.OffsetToPtr(uint64(len(buf)) + 1); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if _, err := img.OffsetToPtr(0); err != nil {
		t.Errorf("OffsetToPtr(0): %v", err)
	}
}

func TestDynamicProgAbsent(t *testing.T) {
	buf := buildSyntheticELF64(t)
	img, err := New(buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := img.DynamicProg(); ok {
		t.Fatal("expected no PT_DYNAMIC in synthetic image")
	}
}
