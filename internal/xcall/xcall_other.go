//go:build !((linux || darwin) && (amd64 || 386 || arm64))

package xcall

import "errors"

var errUnsupportedPlatform = errors.New("xcall: unsupported platform")

func platformCallVoid(addr uintptr) error {
	return errUnsupportedPlatform
}
