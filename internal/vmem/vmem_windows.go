//go:build windows

package vmem

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func accessToProtect(a Access) uint32 {
	switch {
	case a&Execute != 0 && a&Write != 0:
		return windows.PAGE_EXECUTE_READWRITE
	case a&Execute != 0 && a&Read != 0:
		return windows.PAGE_EXECUTE_READ
	case a&Execute != 0:
		return windows.PAGE_EXECUTE
	case a&Write != 0:
		return windows.PAGE_READWRITE
	case a&Read != 0:
		return windows.PAGE_READONLY
	default:
		return windows.PAGE_NOACCESS
	}
}

func pageSize() uintptr {
	var si windows.SystemInfo
	windows.GetSystemInfo(&si)
	return uintptr(si.PageSize)
}

func pageRoundDown(v, page uintptr) uintptr { return v &^ (page - 1) }
func pageRoundUp(v, page uintptr) uintptr   { return (v + page - 1) &^ (page - 1) }

// platformAlloc commits size bytes, preferring preferredBase. VirtualAlloc
// treats a non-zero address as a hint only when MEM_RESERVE|MEM_COMMIT is
// requested without a conflicting existing mapping; on conflict it is
// retried with a zero address, matching the fallback in the unix variant.
func platformAlloc(size uintptr, preferredBase uintptr, access Access) (*Region, error) {
	ps := pageSize()
	start := pageRoundDown(preferredBase, ps)
	end := pageRoundUp(preferredBase+size, ps)
	mapSize := end - start

	addr, err := windows.VirtualAlloc(start, mapSize, windows.MEM_RESERVE|windows.MEM_COMMIT, accessToProtect(access))
	if err != nil {
		addr, err = windows.VirtualAlloc(0, mapSize, windows.MEM_RESERVE|windows.MEM_COMMIT, accessToProtect(access))
		if err != nil {
			return nil, &OSError{Op: "VirtualAlloc", Err: err}
		}
	}
	return &Region{Base: addr, Size: mapSize}, nil
}

func platformProtect(addr uintptr, size uintptr, access Access) error {
	var old uint32
	if err := windows.VirtualProtect(addr, size, accessToProtect(access), &old); err != nil {
		return &OSError{Op: "VirtualProtect", Err: err}
	}
	return nil
}

// platformFree releases the whole reservation. MEM_RELEASE requires the
// size argument to be zero — the region's recorded size is not passed to
// the syscall, only used for bookkeeping before this call. (spec.md §9:
// the original implementation passed a non-zero size here and had it
// silently ignored; this is the corrected call.)
func platformFree(r *Region) error {
	if err := windows.VirtualFree(r.Base, 0, windows.MEM_RELEASE); err != nil {
		return &OSError{Op: "VirtualFree", Err: err}
	}
	return nil
}

func regionBytes(base, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
}
