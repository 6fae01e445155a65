// Package dynload implements an in-process ELF dynamic loader: it maps a
// shared object from a memory buffer into the current process, resolves and
// relocates its dynamic symbols against already-loaded dependencies, sets
// per-segment protections, and runs its initializers — exposing a uniform
// GetRawProc/GetRawData lookup surface regardless of how a dependency was
// actually loaded.
package dynload

import (
	stdelf "debug/elf"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/owlshift/dynload/internal/elfimage"
	"github.com/owlshift/dynload/internal/log"
)

// Capability is the uniform view the registry and dependency resolution see
// over any loaded component: an ELF-backed *Module and a native-loader-backed
// *HostModule both satisfy it, so neither side of symbol resolution needs to
// know which kind of dependency it is talking to.
type Capability interface {
	GetRawProc(name string) (uintptr, bool)
	GetRawData(name string) (uintptr, bool)
}

// ModuleResolver maps a DT_NEEDED dependency name to the Capability that
// satisfies it. Returning (nil, nil) means "not found" — construction fails
// with a DependencyNotFound LoadError. A non-nil error signals a failure in
// the resolver itself (I/O, bad configuration) rather than a simple miss.
type ModuleResolver interface {
	GetModule(name string) (Capability, error)
}

type noopResolver struct{}

func (noopResolver) GetModule(string) (Capability, error) { return nil, nil }

// LoadFromMemory parses buf as an ELF shared object and constructs a fully
// initialized Module: validate, allocate, copy segments, parse the dynamic
// table, resolve dependencies via resolver, relocate, protect, and run
// initializers, in that order. A nil resolver behaves as if every DT_NEEDED
// dependency is unresolved.
func LoadFromMemory(buf []byte, resolver ModuleResolver) (*Module, error) {
	if resolver == nil {
		resolver = noopResolver{}
	}

	img, err := elfimage.New(buf)
	if err != nil {
		return nil, newLoadError(InvalidImage, "parse-image", err)
	}

	ehdr := img.Ehdr()
	if ehdr.Type != stdelf.ET_DYN {
		return nil, newLoadError(Unsupported, "validate", fmt.Errorf("not ET_DYN (e_type=%v)", ehdr.Type))
	}
	switch ehdr.Machine {
	case stdelf.EM_386, stdelf.EM_X86_64:
	default:
		return nil, newLoadError(Unsupported, "validate", fmt.Errorf("unsupported machine %v", ehdr.Machine))
	}
	if host, ok := hostMachine(); !ok || ehdr.Machine != host {
		return nil, newLoadError(Unsupported, "validate",
			fmt.Errorf("image machine %v does not match host %s: running its init via xcall would fault", ehdr.Machine, runtime.GOARCH))
	}

	log.Init(false)
	return newModule(img, resolver)
}

// hostMachine returns the ELF machine this process's own architecture
// implies, so LoadFromMemory can refuse to map and execute a foreign-arch
// image — the ELF machine byte is required to match the host, not just be
// one of the two this package knows how to relocate.
func hostMachine() (stdelf.Machine, bool) {
	switch runtime.GOARCH {
	case "386":
		return stdelf.EM_386, true
	case "amd64":
		return stdelf.EM_X86_64, true
	default:
		return 0, false
	}
}

// procValue is the representation every Go func value actually has: a
// pointer to a struct whose first word is the code address. Reinterpreting
// a raw uintptr directly as F is wrong — that treats the address itself as
// the pointer-to-funcval, when it needs to BE the first word the
// pointer-to-funcval points at. Wrapping it in procValue first is the
// standard trick FFI shims use to turn a dlsym-style address into a
// callable Go value without cgo.
type procValue struct {
	fn uintptr
}

// GetProc resolves name against m as a function with signature F, mirroring
// the original's get_proc<Fn> template as a Go generic. This only fixes the
// func-value representation, not calling convention: F must describe a
// target whose argument/return ABI Go's calling convention already matches
// (a Go-compiled function reached by address, not an arbitrary C function),
// the same unsafe contract C++'s reinterpret_cast<Fn*> carries without
// verification. For a real C ABI target, go through xcall instead — it
// calls via a cgo trampoline, which is the only verified invocation path
// this package provides.
func GetProc[F any](m Capability, name string) (F, bool) {
	var zero F
	addr, ok := m.GetRawProc(name)
	if !ok {
		return zero, false
	}
	pv := &procValue{fn: addr}
	return *(*F)(unsafe.Pointer(&pv)), true
}

// GetData resolves name against m as a pointer to T, mirroring the
// original's get_data<T> template.
func GetData[T any](m Capability, name string) (*T, bool) {
	addr, ok := m.GetRawData(name)
	if !ok {
		return nil, false
	}
	return (*T)(unsafe.Pointer(addr)), true
}
