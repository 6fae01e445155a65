package dynload

import (
	stdelf "debug/elf"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/owlshift/dynload/internal/dynamic"
	"github.com/owlshift/dynload/internal/elfimage"
	"github.com/owlshift/dynload/internal/endianio"
	"github.com/owlshift/dynload/internal/log"
	"github.com/owlshift/dynload/internal/reloc"
	"github.com/owlshift/dynload/internal/resolver"
	"github.com/owlshift/dynload/internal/trace"
	"github.com/owlshift/dynload/internal/vmem"
	"github.com/owlshift/dynload/internal/xcall"
)

// Module is a loaded ELF shared object: a VMem allocation holding its copied
// and relocated segments, the dynamic table parsed over that allocation, and
// the dependencies it was resolved against. Its lifetime invariants: the
// allocation stays mapped, every dependency in deps stays alive, relocations
// have been applied exactly once, and each PT_LOAD's access reflects its
// p_flags.
type Module struct {
	id       uuid.UUID
	region   *vmem.Region
	img      *elfimage.Image // view over the loaded (not source) image
	table    *dynamic.Table
	resolver *resolver.Resolver
	deps     []Capability
	machine  stdelf.Machine
	events   []*trace.Event
}

// capabilityExporter adapts any Capability into a resolver.Exporter, so the
// relocator's symbol resolution never needs to know whether a dependency is
// an ELF-backed *Module or a native-loader-backed *HostModule. A non-zero
// GetRawProc/GetRawData result is treated as an already-resolved absolute
// address, so LoadedBase contributes nothing further.
type capabilityExporter struct {
	cap Capability
}

func (c capabilityExporter) FindSymbol(name string) (dynamic.Sym, bool, error) {
	if addr, ok := c.cap.GetRawProc(name); ok && addr != 0 {
		return dynamic.Sym{Value: uint64(addr), Vis: stdelf.STV_DEFAULT}, true, nil
	}
	if addr, ok := c.cap.GetRawData(name); ok && addr != 0 {
		return dynamic.Sym{Value: uint64(addr), Vis: stdelf.STV_DEFAULT}, true, nil
	}
	return dynamic.Sym{}, false, nil
}

func (c capabilityExporter) LoadedBase() uint64 { return 0 }

// FindSymbol and LoadedBase let Module serve as its own resolver.Exporter —
// the Source a dependent relocation resolves against before falling through
// to deps.
func (m *Module) FindSymbol(name string) (dynamic.Sym, bool, error) { return m.table.FindSymbol(name) }
func (m *Module) LoadedBase() uint64                                { return uint64(m.region.Base) }

// ID returns the module's instance identifier, used only for log
// correlation across a dependency chain — not part of any load invariant.
func (m *Module) ID() uuid.UUID { return m.id }

// recordTrace is installed as the global logger's trace callback for the
// duration of this module's construction and finalization. It turns the
// segment/dynamic/init/fini events log.Logger already emits into a durable,
// per-module audit trail instead of letting them vanish into the log sink.
func (m *Module) recordTrace(pc uint64, category, name, detail string) {
	e := trace.NewEvent(pc, category, name, detail)
	trace.DefaultEnricher(e)
	m.events = append(m.events, e)
}

// Trace returns the ordered lifecycle events recorded for this module:
// dependency resolutions, segment protections, and init/fini invocations,
// in the order newModule and Close produced them.
func (m *Module) Trace() []*trace.Event { return m.events }

// GetRawProc and GetRawData are deliberately identical: the underlying
// export lookup does not distinguish symbol kind, matching the reference
// loader's single find_symbol used by both accessors.
func (m *Module) GetRawProc(name string) (uintptr, bool) { return m.rawSymbol(name) }
func (m *Module) GetRawData(name string) (uintptr, bool) { return m.rawSymbol(name) }

func (m *Module) rawSymbol(name string) (uintptr, bool) {
	v, err := m.resolver.GetProcSymbol(name)
	if err != nil || v == 0 {
		return 0, false
	}
	return uintptr(v), true
}

// newModule runs the 8-phase construction lifecycle: validate (done by the
// caller), allocate, copy segments, parse the dynamic table over the loaded
// image, resolve DT_NEEDED dependencies, relocate, protect, initialize.
// Any failure frees the allocation before returning, aggregating a second
// failure from that cleanup with multierr rather than dropping it.
func newModule(srcImg *elfimage.Image, modResolver ModuleResolver) (_ *Module, err error) {
	vbase := srcImg.VBase()
	vsize := srcImg.VSize()

	region, aerr := vmem.Alloc(uintptr(vsize), uintptr(vbase), vmem.Read|vmem.Write)
	if aerr != nil {
		return nil, newLoadError(OSError, "allocate", aerr)
	}
	defer func() {
		if err != nil {
			if ferr := vmem.Free(region); ferr != nil {
				err = multierr.Append(err, newLoadError(OSError, "cleanup-free", ferr))
			}
		}
	}()

	dst := region.Bytes()
	src := srcImg.Bytes()
	for i, p := range srcImg.Progs() {
		if p.Type != stdelf.PT_LOAD {
			continue
		}
		if p.FileSz > p.MemSz {
			return nil, newLoadError(InvalidImage, "copy-segments",
				fmt.Errorf("segment %d: p_filesz %#x exceeds p_memsz %#x", i, p.FileSz, p.MemSz))
		}
		if uint64(len(src)) < p.Offset+p.FileSz {
			return nil, newLoadError(OutOfRange, "copy-segments",
				fmt.Errorf("segment %d: file range beyond source buffer", i))
		}
		rva := p.VAddr - vbase
		if uint64(len(dst)) < rva+p.MemSz {
			return nil, newLoadError(OutOfRange, "copy-segments",
				fmt.Errorf("segment %d: memory range beyond allocation", i))
		}
		// Bytes beyond FileSz up to MemSz (.bss) are already zero: Alloc
		// hands back freshly committed pages.
		copy(dst[rva:rva+p.FileSz], src[p.Offset:p.Offset+p.FileSz])
	}

	loadedImg, ierr := elfimage.New(dst)
	if ierr != nil {
		return nil, newLoadError(InvalidImage, "parse-dynamic", ierr)
	}

	dynProg, ok := loadedImg.DynamicProg()
	if !ok {
		return nil, newLoadError(Unsupported, "parse-dynamic", errors.New("no PT_DYNAMIC segment"))
	}
	table, terr := dynamic.New(loadedImg, dynProg)
	if terr != nil {
		return nil, newLoadError(Unsupported, "parse-dynamic", terr)
	}

	m := &Module{
		id:      uuid.New(),
		region:  region,
		img:     loadedImg,
		table:   table,
		machine: srcImg.Ehdr().Machine,
	}
	log.L.SetOnTrace(m.recordTrace)
	defer log.L.SetOnTrace(nil)

	names, nerr := table.Needed()
	if nerr != nil {
		return nil, newLoadError(Unsupported, "resolve-dependencies", nerr)
	}
	deps := make([]Capability, 0, len(names))
	depExporters := make([]resolver.Exporter, 0, len(names))
	for _, name := range names {
		dep, derr := modResolver.GetModule(name)
		if derr != nil {
			return nil, newLoadError(DependencyNotFound, "resolve-dependencies", fmt.Errorf("%s: %w", name, derr))
		}
		if dep == nil {
			log.L.Dynamic(name, false)
			return nil, newLoadError(DependencyNotFound, "resolve-dependencies", fmt.Errorf("dependency %q not satisfied", name))
		}
		log.L.Dynamic(name, true)
		deps = append(deps, dep)
		depExporters = append(depExporters, capabilityExporter{cap: dep})
	}
	m.deps = deps
	m.resolver = &resolver.Resolver{Source: m, Deps: depExporters}
	log.L.Debug("module", zap.String("id", m.id.String()), zap.Int("deps", len(deps)))

	engine, eerr := reloc.New(loadedImg, m.machine, table, m.resolver, uint64(region.Base))
	if eerr != nil {
		return nil, newLoadError(Unsupported, "relocate", eerr)
	}
	if rerr := engine.ApplyAll(); rerr != nil {
		return nil, classifyRelocError(rerr)
	}

	for i, p := range loadedImg.Progs() {
		if p.Type != stdelf.PT_LOAD {
			continue
		}
		rva := p.VAddr - vbase
		access := accessFromFlags(p.Flags)
		if perr := vmem.Protect(region.Base+uintptr(rva), uintptr(p.MemSz), access); perr != nil {
			return nil, newLoadError(OSError, "protect", perr)
		}
		log.L.Segment(i, p.VAddr, p.MemSz, access.String())
	}

	if initRVA, present := table.Init(); present {
		if cerr := invoke(region.Base, initRVA, "DT_INIT"); cerr != nil {
			return nil, newLoadError(OSError, "initialize", cerr)
		}
	}
	initArr, iaerr := table.InitArray()
	if iaerr != nil {
		return nil, newLoadError(Unsupported, "initialize", iaerr)
	}
	for _, v := range initArr {
		if isSentinel(v, m.img.Ehdr().Class) {
			continue
		}
		if cerr := invoke(region.Base, v-vbase, "init-array"); cerr != nil {
			return nil, newLoadError(OSError, "initialize", cerr)
		}
	}
	// Preinit runs after init-array here, not before PT_LOAD mapping as a
	// real linker would: the loader never sees a module before it is fully
	// relocated, so preinit has nothing meaningful to precede.
	preArr, paerr := table.PreinitArray()
	if paerr != nil {
		return nil, newLoadError(Unsupported, "initialize", paerr)
	}
	for _, v := range preArr {
		if isSentinel(v, m.img.Ehdr().Class) {
			continue
		}
		if cerr := invoke(region.Base, v-vbase, "preinit-array"); cerr != nil {
			return nil, newLoadError(OSError, "initialize", cerr)
		}
	}
	if entryRVA, present := table.Entry(); present {
		if cerr := invoke(region.Base, entryRVA, "entry"); cerr != nil {
			return nil, newLoadError(OSError, "initialize", cerr)
		}
	}

	return m, nil
}

// invoke calls the niladic function at base+rva, logging it as kind first.
func invoke(base uintptr, rva uint64, kind string) error {
	addr := base + uintptr(rva)
	log.L.Init(kind, uint64(addr))
	return xcall.CallVoid(addr)
}

// Close runs DT_FINI_ARRAY in declared order, then DT_FINI, then releases
// the allocation — the reverse of the last three construction phases.
// Failures at each step are aggregated, not dropped, so a failing finalizer
// never hides a subsequent Free failure.
func (m *Module) Close() error {
	log.L.SetOnTrace(m.recordTrace)
	defer log.L.SetOnTrace(nil)

	var errs error

	finiArr, err := m.table.FiniArray()
	if err != nil {
		errs = multierr.Append(errs, newLoadError(Unsupported, "finalize", err))
	}
	for _, v := range finiArr {
		if isSentinel(v, m.img.Ehdr().Class) {
			continue
		}
		addr := m.region.Base + uintptr(v-m.img.VBase())
		log.L.Fini("fini-array", uint64(addr))
		if cerr := xcall.CallVoid(addr); cerr != nil {
			errs = multierr.Append(errs, newLoadError(OSError, "finalize", cerr))
		}
	}

	if finiRVA, present := m.table.Fini(); present {
		addr := m.region.Base + uintptr(finiRVA)
		log.L.Fini("DT_FINI", uint64(addr))
		if cerr := xcall.CallVoid(addr); cerr != nil {
			errs = multierr.Append(errs, newLoadError(OSError, "finalize", cerr))
		}
	}

	if ferr := vmem.Free(m.region); ferr != nil {
		errs = multierr.Append(errs, newLoadError(OSError, "free", ferr))
	}
	return errs
}

// isSentinel reports whether an init/fini-array entry is a terminator some
// toolchains emit rather than a real function pointer: zero, or all-ones at
// the image's word width.
func isSentinel(v uint64, class stdelf.Class) bool {
	if v == 0 {
		return true
	}
	if class == stdelf.ELFCLASS32 {
		return v == uint64(uint32(0xFFFFFFFF))
	}
	return v == ^uint64(0)
}

func accessFromFlags(f stdelf.ProgFlag) vmem.Access {
	var a vmem.Access
	if f&stdelf.PF_R != 0 {
		a |= vmem.Read
	}
	if f&stdelf.PF_W != 0 {
		a |= vmem.Write
	}
	if f&stdelf.PF_X != 0 {
		a |= vmem.Execute
	}
	return a
}

// classifyRelocError maps a relocation failure to the domain Kind its cause
// actually represents, rather than collapsing everything to Unsupported.
func classifyRelocError(err error) *LoadError {
	switch {
	case errors.Is(err, resolver.ErrSymbolRequired):
		return newLoadError(SymbolNotFound, "relocate", err)
	case errors.Is(err, endianio.ErrOutOfRange):
		return newLoadError(OutOfRange, "relocate", err)
	default:
		return newLoadError(Unsupported, "relocate", err)
	}
}
