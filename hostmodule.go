package dynload

import "errors"

// ErrUnsupported is returned by NewHostModule on a platform with no native
// dlopen-style loader backing it.
var ErrUnsupported = errors.New("dynload: host module loading unsupported on this platform")

// HostModule wraps a handle obtained from the platform's native dynamic
// loader (dlopen on POSIX) behind the same two-method capability surface as
// an ELF-backed *Module, so a ModuleResolver can satisfy a DT_NEEDED entry
// with either a package-loaded dependency or a system library (e.g. the
// host's actual libc.so.6) without the caller telling them apart.
type HostModule struct {
	impl hostModuleImpl
}

// NewHostModule opens name (a shared-object path or bare soname resolvable
// by the platform's loader) via dlopen. Returns ErrUnsupported where no
// native loader implementation is built for the current platform.
func NewHostModule(name string) (*HostModule, error) {
	impl, err := openHostModule(name)
	if err != nil {
		return nil, err
	}
	return &HostModule{impl: impl}, nil
}

// GetRawProc and GetRawData are both backed by dlsym, matching the host
// loader's own failure to distinguish function and data symbols.
func (h *HostModule) GetRawProc(name string) (uintptr, bool) { return h.impl.sym(name) }
func (h *HostModule) GetRawData(name string) (uintptr, bool) { return h.impl.sym(name) }

// Close releases the underlying handle via dlclose.
func (h *HostModule) Close() error { return h.impl.close() }

// hostModuleImpl is the platform-specific half of HostModule: open, sym,
// close. Implemented for real via cgo dlopen/dlsym/dlclose on POSIX
// (hostmodule_cgo.go); a stub on every other platform always fails to open
// (hostmodule_other.go).
type hostModuleImpl interface {
	sym(name string) (uintptr, bool)
	close() error
}
