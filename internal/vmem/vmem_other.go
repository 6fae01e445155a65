//go:build !linux && !darwin && !windows

package vmem

import (
	"errors"
	"unsafe"
)

var errUnsupportedPlatform = errors.New("vmem: unsupported platform")

func platformAlloc(size uintptr, preferredBase uintptr, access Access) (*Region, error) {
	return nil, &OSError{Op: "alloc", Err: errUnsupportedPlatform}
}

func platformProtect(addr uintptr, size uintptr, access Access) error {
	return &OSError{Op: "protect", Err: errUnsupportedPlatform}
}

func platformFree(r *Region) error {
	return &OSError{Op: "free", Err: errUnsupportedPlatform}
}

func regionBytes(base, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
}
