// Package reloc applies i386 and x86-64 ELF relocations against a loaded
// image: REL/RELA/PLT-REL/PLT-RELA groups, same-offset run folding, copy
// relocations, and the per-type value formulas.
package reloc

import (
	stdelf "debug/elf"
	"fmt"
	"unsafe"

	"github.com/owlshift/dynload/internal/dynamic"
	"github.com/owlshift/dynload/internal/resolver"
)

// ErrUnsupportedType is returned for any relocation type this engine does
// not recognise — spec.md treats this as a hard failure, not a skip.
var ErrUnsupportedType = fmt.Errorf("reloc: unsupported relocation type")

// Image is the minimal read/write, endian-aware view the engine needs over
// the loaded image.
type Image interface {
	LoadUint32(rva uint64) (uint32, error)
	StoreUint32(rva uint64, v uint32) error
	LoadUint64(rva uint64) (uint64, error)
	StoreUint64(rva uint64, v uint64) error
	Bytes() []byte
}

// entry is the architecture-neutral shape a relocation record is reduced
// to before the shared run-folding loop sees it: REL and RELA collapse
// into the same struct, with HasAddend distinguishing them (a REL entry's
// "addend" is read from memory instead of carried inline).
type entry struct {
	Offset    uint64
	Sym       uint32
	Type      uint32
	Addend    int64
	HasAddend bool
}

// Engine applies relocations for one machine (EM_386 or EM_X86_64) against
// one loaded module.
type Engine struct {
	Image    Image
	Machine  stdelf.Machine
	Table    *dynamic.Table
	Resolver *resolver.Resolver
	Base     uint64 // runtime base B: the allocation's actual address, not vbase
}

// New returns a relocation engine for machine, or an error if the machine
// is neither EM_386 nor EM_X86_64 — the two architectures this loader
// supports.
func New(img Image, machine stdelf.Machine, table *dynamic.Table, res *resolver.Resolver, base uint64) (*Engine, error) {
	switch machine {
	case stdelf.EM_386, stdelf.EM_X86_64:
	default:
		return nil, fmt.Errorf("reloc: unsupported machine %v", machine)
	}
	return &Engine{Image: img, Machine: machine, Table: table, Resolver: res, Base: base}, nil
}

// ApplyAll runs the four relocation groups in the fixed order spec.md's
// module-construction lifecycle requires: REL, RELA, PLT-REL, PLT-RELA.
func (e *Engine) ApplyAll() error {
	rels, err := e.Table.Rels()
	if err != nil {
		return err
	}
	relas, err := e.Table.Relas()
	if err != nil {
		return err
	}
	pltRels, err := e.Table.PltRels()
	if err != nil {
		return err
	}
	pltRelas, err := e.Table.PltRelas()
	if err != nil {
		return err
	}

	if err := e.applyGroup(relEntries(rels)); err != nil {
		return err
	}
	if err := e.applyGroup(relaEntries(relas)); err != nil {
		return err
	}
	if err := e.applyGroup(relEntries(pltRels)); err != nil {
		return err
	}
	if err := e.applyGroup(relaEntries(pltRelas)); err != nil {
		return err
	}
	return nil
}

func relEntries(in []dynamic.RelEntry) []entry {
	out := make([]entry, len(in))
	for i, r := range in {
		out[i] = entry{Offset: r.Offset, Sym: r.Sym, Type: r.Type}
	}
	return out
}

func relaEntries(in []dynamic.RelaEntry) []entry {
	out := make([]entry, len(in))
	for i, r := range in {
		out[i] = entry{Offset: r.Offset, Sym: r.Sym, Type: r.Type, Addend: r.Addend, HasAddend: true}
	}
	return out
}

// isGroupStop is a hook for extension — for i386 and x86-64 it is always
// false, per spec.md §4.6.
func (e *Engine) isGroupStop(entry) bool { return false }

func (e *Engine) isCopy(t entry) bool {
	switch e.Machine {
	case stdelf.EM_386:
		return t.Type == uint32(stdelf.R_386_COPY)
	default:
		return t.Type == uint32(stdelf.R_X86_64_COPY)
	}
}

// applyGroup walks relocs in storage order, folding same-r_offset runs into
// a single store, per spec.md's run-folding pipeline.
func (e *Engine) applyGroup(relocs []entry) error {
	i := 0
	for i < len(relocs) {
		offset := relocs[i].Offset

		value, err := e.addend(relocs[i])
		if err != nil {
			return err
		}
		var last entry
		haveLast := false

		for i < len(relocs) && relocs[i].Offset == offset {
			cur := relocs[i]
			if e.isGroupStop(cur) {
				break
			}
			if e.isCopy(cur) {
				if err := e.applyCopy(cur); err != nil {
					return err
				}
				i++
				continue
			}
			value, err = e.compute(cur, value)
			if err != nil {
				return err
			}
			last = cur
			haveLast = true
			i++
		}

		if haveLast {
			if err := e.store(last, offset, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// addend returns the run's starting accumulated value: the explicit
// r_addend for RELA, or the current in-memory contents at r_offset decoded
// at the correct width for REL.
func (e *Engine) addend(t entry) (int64, error) {
	if t.HasAddend {
		return t.Addend, nil
	}
	if e.is64Wide(t.Type) {
		v, err := e.Image.LoadUint64(t.Offset)
		return int64(v), err
	}
	v, err := e.Image.LoadUint32(t.Offset)
	return int64(int32(v)), err
}

// is64Wide reports whether a REL entry's in-memory addend (and eventual
// store) is 8 bytes wide: true on x86-64 except for the explicitly
// 32-bit-truncating relocation types.
func (e *Engine) is64Wide(relType uint32) bool {
	if e.Machine != stdelf.EM_X86_64 {
		return false
	}
	switch stdelf.R_X86_64(relType) {
	case stdelf.R_X86_64_32, stdelf.R_X86_64_32S, stdelf.R_X86_64_PC32, stdelf.R_X86_64_GOTPCREL:
		return false
	default:
		return true
	}
}

func (e *Engine) symbolInfo(sym uint32) (name string, symType stdelf.SymType, symBind stdelf.SymBind, err error) {
	s, err := e.Table.Symbol(sym)
	if err != nil {
		return "", 0, 0, err
	}
	name, err = e.Table.String(uint64(s.Name))
	if err != nil {
		return "", 0, 0, err
	}
	return name, s.Type, s.Bind, nil
}

func (e *Engine) resolveSymbol(t entry) (uint64, error) {
	name, symType, symBind, err := e.symbolInfo(t.Sym)
	if err != nil {
		return 0, err
	}
	return e.Resolver.ResolveRelocationSymbol(name, symType, symBind)
}

func (e *Engine) applyCopy(t entry) error {
	name, _, _, err := e.symbolInfo(t.Sym)
	if err != nil {
		return err
	}
	sym, err := e.Table.Symbol(t.Sym)
	if err != nil {
		return err
	}
	srcAddr, err := e.Resolver.GetDataSymbol(name)
	if err != nil {
		return err
	}
	if srcAddr == 0 {
		return fmt.Errorf("reloc: copy relocation source %q not found", name)
	}
	src := unsafeBytesAt(srcAddr, sym.Size)
	buf := e.Image.Bytes()
	dst := int(t.Offset)
	if dst < 0 || dst+len(src) > len(buf) {
		return fmt.Errorf("reloc: copy relocation destination out of range at %#x", t.Offset)
	}
	copy(buf[dst:dst+len(src)], src)
	return nil
}

// compute applies the per-type formula from spec.md §4.6. S = resolved
// symbol value, A = accumulated addend, B = runtime base, P = the store
// address in the loaded image (Base + r_offset) — never vbase, so the
// base-address-fallback case still produces the right value.
func (e *Engine) compute(t entry, accum int64) (int64, error) {
	p := e.Base + t.Offset
	switch {
	case e.isNone(t.Type):
		return accum, nil
	case e.isAbsolute(t.Type):
		s, err := e.resolveSymbol(t)
		if err != nil {
			return 0, err
		}
		return int64(s) + accum, nil
	case e.isPC32(t.Type):
		s, err := e.resolveSymbol(t)
		if err != nil {
			return 0, err
		}
		return int64(s) + accum - int64(p), nil
	case e.isGlobDatOrJumpSlot(t.Type):
		s, err := e.resolveSymbol(t)
		if err != nil {
			return 0, err
		}
		return int64(s), nil
	case e.isRelative(t.Type):
		return int64(e.Base) + accum, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedType, t.Type)
	}
}

func (e *Engine) isNone(t uint32) bool {
	if e.Machine == stdelf.EM_386 {
		return t == uint32(stdelf.R_386_NONE)
	}
	return t == uint32(stdelf.R_X86_64_NONE)
}

func (e *Engine) isAbsolute(t uint32) bool {
	if e.Machine == stdelf.EM_386 {
		return t == uint32(stdelf.R_386_32)
	}
	switch stdelf.R_X86_64(t) {
	case stdelf.R_X86_64_64, stdelf.R_X86_64_32, stdelf.R_X86_64_32S:
		return true
	}
	return false
}

func (e *Engine) isPC32(t uint32) bool {
	if e.Machine == stdelf.EM_386 {
		return t == uint32(stdelf.R_386_PC32)
	}
	return stdelf.R_X86_64(t) == stdelf.R_X86_64_PC32
}

func (e *Engine) isGlobDatOrJumpSlot(t uint32) bool {
	if e.Machine == stdelf.EM_386 {
		return t == uint32(stdelf.R_386_GLOB_DAT) || t == uint32(stdelf.R_386_JMP_SLOT)
	}
	return stdelf.R_X86_64(t) == stdelf.R_X86_64_GLOB_DAT || stdelf.R_X86_64(t) == stdelf.R_X86_64_JMP_SLOT
}

func (e *Engine) isRelative(t uint32) bool {
	if e.Machine == stdelf.EM_386 {
		return t == uint32(stdelf.R_386_RELATIVE)
	}
	return stdelf.R_X86_64(t) == stdelf.R_X86_64_RELATIVE
}

// unsafeBytesAt views n bytes of live process memory at addr as a []byte,
// for copying a COPY relocation's source data out of a dependency's
// already-resolved export address.
func unsafeBytesAt(addr uint64, n uint64) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), int(n))
}

// store writes the final accumulated value at rva using the width the
// run's final non-copy entry's type dictates.
func (e *Engine) store(t entry, rva uint64, value int64) error {
	if e.is64Wide(t.Type) {
		return e.Image.StoreUint64(rva, uint64(value))
	}
	return e.Image.StoreUint32(rva, uint32(value))
}
