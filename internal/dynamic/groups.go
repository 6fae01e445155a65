package dynamic

import (
	stdelf "debug/elf"
)

// scanRelSpec collects the {addr, size, entsize} triple for a DT_* relocation
// group given its three tags.
func (t *Table) scanRelSpec(tagAddr, tagSize, tagEnt stdelf.DynTag) (addr, size, ent uint64) {
	for _, e := range t.entries {
		switch e.Tag {
		case tagAddr:
			addr = e.Val
		case tagSize:
			size = e.Val
		case tagEnt:
			ent = e.Val
		}
	}
	return
}

func (t *Table) decodeRel(rva uint64) (RelEntry, error) {
	if t.class == stdelf.ELFCLASS32 {
		var r stdelf.Rel32
		if err := t.img.LoadStruct(rva, &r); err != nil {
			return RelEntry{}, err
		}
		return RelEntry{
			Offset: uint64(r.Off) - t.vbase,
			Info:   uint64(r.Info),
			Sym:    stdelf.R_SYM32(r.Info),
			Type:   stdelf.R_TYPE32(r.Info),
		}, nil
	}
	var r stdelf.Rel64
	if err := t.img.LoadStruct(rva, &r); err != nil {
		return RelEntry{}, err
	}
	return RelEntry{
		Offset: r.Off - t.vbase,
		Info:   r.Info,
		Sym:    stdelf.R_SYM64(r.Info),
		Type:   stdelf.R_TYPE64(r.Info),
	}, nil
}

func (t *Table) decodeRela(rva uint64) (RelaEntry, error) {
	if t.class == stdelf.ELFCLASS32 {
		var r stdelf.Rela32
		if err := t.img.LoadStruct(rva, &r); err != nil {
			return RelaEntry{}, err
		}
		return RelaEntry{
			RelEntry: RelEntry{
				Offset: uint64(r.Off) - t.vbase,
				Info:   uint64(r.Info),
				Sym:    stdelf.R_SYM32(r.Info),
				Type:   stdelf.R_TYPE32(r.Info),
			},
			Addend: int64(r.Addend),
		}, nil
	}
	var r stdelf.Rela64
	if err := t.img.LoadStruct(rva, &r); err != nil {
		return RelaEntry{}, err
	}
	return RelaEntry{
		RelEntry: RelEntry{
			Offset: r.Off - t.vbase,
			Info:   r.Info,
			Sym:    stdelf.R_SYM64(r.Info),
			Type:   stdelf.R_TYPE64(r.Info),
		},
		Addend: r.Addend,
	}, nil
}

// Rels returns every DT_REL entry in file order.
func (t *Table) Rels() ([]RelEntry, error) {
	addr, size, ent := t.scanRelSpec(stdelf.DT_REL, stdelf.DT_RELSZ, stdelf.DT_RELENT)
	if ent == 0 {
		if size == 0 {
			return nil, nil
		}
		ent = defaultRelEntSize(t.class)
	}
	return t.decodeRelGroup(addr, size, ent)
}

// Relas returns every DT_RELA entry in file order.
func (t *Table) Relas() ([]RelaEntry, error) {
	addr, size, ent := t.scanRelSpec(stdelf.DT_RELA, stdelf.DT_RELASZ, stdelf.DT_RELAENT)
	if ent == 0 {
		if size == 0 {
			return nil, nil
		}
		ent = defaultRelaEntSize(t.class)
	}
	return t.decodeRelaGroup(addr, size, ent)
}

// pltSpec returns DT_JMPREL's address and DT_PLTRELSZ's size, whether the
// entries are DT_RELA (true) or DT_REL (false) shaped per DT_PLTREL, and
// whether DT_JMPREL was present at all.
func (t *Table) pltSpec() (addr, size uint64, isRela bool, found bool) {
	var pltrel uint64
	var havePltRel bool
	for _, e := range t.entries {
		switch e.Tag {
		case stdelf.DT_JMPREL:
			addr = e.Val
			found = true
		case stdelf.DT_PLTRELSZ:
			size = e.Val
		case stdelf.DT_PLTREL:
			pltrel = e.Val
			havePltRel = true
		}
	}
	isRela = havePltRel && stdelf.DynTag(pltrel) == stdelf.DT_RELA
	return
}

// PltRels returns the DT_JMPREL group when DT_PLTREL says DT_REL, else nil.
func (t *Table) PltRels() ([]RelEntry, error) {
	addr, size, isRela, found := t.pltSpec()
	if !found || isRela {
		return nil, nil
	}
	_, _, ent := t.scanRelSpec(stdelf.DT_REL, stdelf.DT_RELSZ, stdelf.DT_RELENT)
	if ent == 0 {
		ent = defaultRelEntSize(t.class)
	}
	return t.decodeRelGroup(addr, size, ent)
}

// PltRelas returns the DT_JMPREL group when DT_PLTREL says DT_RELA, else nil.
func (t *Table) PltRelas() ([]RelaEntry, error) {
	addr, size, isRela, found := t.pltSpec()
	if !found || !isRela {
		return nil, nil
	}
	_, _, ent := t.scanRelSpec(stdelf.DT_RELA, stdelf.DT_RELASZ, stdelf.DT_RELAENT)
	if ent == 0 {
		ent = defaultRelaEntSize(t.class)
	}
	return t.decodeRelaGroup(addr, size, ent)
}

func defaultRelEntSize(class stdelf.Class) uint64 {
	if class == stdelf.ELFCLASS32 {
		return 8
	}
	return 16
}

func defaultRelaEntSize(class stdelf.Class) uint64 {
	if class == stdelf.ELFCLASS32 {
		return 12
	}
	return 24
}

func (t *Table) decodeRelGroup(addr, size, ent uint64) ([]RelEntry, error) {
	if ent == 0 || addr == 0 || size == 0 {
		return nil, nil
	}
	count := size / ent
	rva := addr - t.vbase
	out := make([]RelEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		e, err := t.decodeRel(rva + i*ent)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *Table) decodeRelaGroup(addr, size, ent uint64) ([]RelaEntry, error) {
	if ent == 0 || addr == 0 || size == 0 {
		return nil, nil
	}
	count := size / ent
	rva := addr - t.vbase
	out := make([]RelaEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		e, err := t.decodeRela(rva + i*ent)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// addrArray scans a {addr, size} array of class-width Addr entries.
func (t *Table) addrArray(tagAddr, tagSize stdelf.DynTag) ([]uint64, error) {
	var addr, size uint64
	for _, e := range t.entries {
		switch e.Tag {
		case tagAddr:
			addr = e.Val
		case tagSize:
			size = e.Val
		}
	}
	if addr == 0 || size == 0 {
		return nil, nil
	}
	width := uint64(4)
	if t.class == stdelf.ELFCLASS64 {
		width = 8
	}
	count := size / width
	rva := addr - t.vbase
	out := make([]uint64, 0, count)
	for i := uint64(0); i < count; i++ {
		if t.class == stdelf.ELFCLASS32 {
			v, err := t.img.LoadUint32(rva + i*width)
			if err != nil {
				return nil, err
			}
			out = append(out, uint64(v))
		} else {
			v, err := t.img.LoadUint64(rva + i*width)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// InitArray returns DT_INIT_ARRAY entries in order.
func (t *Table) InitArray() ([]uint64, error) {
	return t.addrArray(stdelf.DT_INIT_ARRAY, stdelf.DT_INIT_ARRAYSZ)
}

// PreinitArray returns DT_PREINIT_ARRAY entries in order.
func (t *Table) PreinitArray() ([]uint64, error) {
	return t.addrArray(stdelf.DT_PREINIT_ARRAY, stdelf.DT_PREINIT_ARRAYSZ)
}

// FiniArray returns DT_FINI_ARRAY entries in order.
func (t *Table) FiniArray() ([]uint64, error) {
	return t.addrArray(stdelf.DT_FINI_ARRAY, stdelf.DT_FINI_ARRAYSZ)
}

// Init returns the DT_INIT function RVA and whether it was present.
func (t *Table) Init() (uint64, bool) {
	for _, e := range t.entries {
		if e.Tag == stdelf.DT_INIT {
			return e.Val - t.vbase, true
		}
	}
	return 0, false
}

// Fini returns the DT_FINI function RVA and whether it was present.
func (t *Table) Fini() (uint64, bool) {
	for _, e := range t.entries {
		if e.Tag == stdelf.DT_FINI {
			return e.Val - t.vbase, true
		}
	}
	return 0, false
}

// Entry returns the ELF entry point RVA and whether it is non-zero.
func (t *Table) Entry() (uint64, bool) {
	e := t.img.Ehdr().Entry
	if e == 0 {
		return 0, false
	}
	return e - t.vbase, true
}
