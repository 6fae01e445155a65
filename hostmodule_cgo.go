//go:build (linux || darwin) && (amd64 || 386 || arm64)

package dynload

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"unsafe"
)

type cgoHostModule struct {
	handle unsafe.Pointer
}

func openHostModule(name string) (hostModuleImpl, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	handle := C.dlopen(cname, C.RTLD_LAZY)
	if handle == nil {
		return nil, fmt.Errorf("dynload: dlopen %q: %s", name, C.GoString(C.dlerror()))
	}
	return &cgoHostModule{handle: unsafe.Pointer(handle)}, nil
}

func (h *cgoHostModule) sym(name string) (uintptr, bool) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	addr := C.dlsym(h.handle, cname)
	if addr == nil {
		return 0, false
	}
	return uintptr(addr), true
}

func (h *cgoHostModule) close() error {
	if C.dlclose(h.handle) != 0 {
		return fmt.Errorf("dynload: dlclose: %s", C.GoString(C.dlerror()))
	}
	return nil
}
