//go:build !((linux || darwin) && (amd64 || 386 || arm64))

package dynload

func openHostModule(name string) (hostModuleImpl, error) {
	return nil, ErrUnsupported
}
