package dynload

import "testing"

func TestNewHostModuleMissingLibraryFails(t *testing.T) {
	_, err := NewHostModule("libtotally-nonexistent-dynload-test.so")
	if err == nil {
		t.Fatal("expected error opening a nonexistent shared object")
	}
}
