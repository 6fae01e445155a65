package xcall

import (
	"errors"
	"testing"
)

func TestCallVoidRejectsNilPointer(t *testing.T) {
	err := CallVoid(0)
	if err == nil {
		t.Fatal("expected error for nil function pointer")
	}
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("error is not a *CallError: %v", err)
	}
	if ce.Addr != 0 {
		t.Errorf("CallError.Addr = %#x, want 0", ce.Addr)
	}
}
