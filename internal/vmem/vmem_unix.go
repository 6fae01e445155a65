//go:build linux || darwin

package vmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func pageSize() uintptr {
	return uintptr(unix.Getpagesize())
}

func pageRoundDown(v, page uintptr) uintptr { return v &^ (page - 1) }
func pageRoundUp(v, page uintptr) uintptr   { return (v + page - 1) &^ (page - 1) }

func accessToProt(a Access) int {
	prot := unix.PROT_NONE
	if a&Read != 0 {
		prot |= unix.PROT_READ
	}
	if a&Write != 0 {
		prot |= unix.PROT_WRITE
	}
	if a&Execute != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

// platformAlloc maps size bytes anonymously, passing preferredBase as a
// non-binding hint: mmap treats addr as a hint unless MAP_FIXED is set, and
// this loader never sets MAP_FIXED, so a clash with existing mappings (e.g.
// the host image itself) falls back to whatever address the kernel picks —
// exactly the fallback spec.md §5 requires.
func platformAlloc(size uintptr, preferredBase uintptr, access Access) (*Region, error) {
	ps := pageSize()
	end := pageRoundUp(preferredBase+size, ps)
	start := pageRoundDown(preferredBase, ps)
	mapSize := end - start

	prot := accessToProt(access)
	flags := unix.MAP_PRIVATE | unix.MAP_ANON

	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, start, mapSize, uintptr(prot), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return nil, &OSError{Op: "mmap", Err: errno}
	}
	return &Region{Base: addr, Size: mapSize}, nil
}

func platformProtect(addr uintptr, size uintptr, access Access) error {
	ps := pageSize()
	start := pageRoundDown(addr, ps)
	end := pageRoundUp(addr+size, ps)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(start)), end-start)
	if err := unix.Mprotect(buf, accessToProt(access)); err != nil {
		return &OSError{Op: "mprotect", Err: err}
	}
	return nil
}

func platformFree(r *Region) error {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(r.Base)), r.Size)
	if err := unix.Munmap(buf); err != nil {
		return &OSError{Op: "munmap", Err: err}
	}
	return nil
}

func regionBytes(base, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
}
