package dynload

import (
	"runtime"
	"testing"
)

func TestRegistryMissWithoutResolver(t *testing.T) {
	reg := NewRegistry()
	cap, err := reg.GetModule("libfoo.so")
	if err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	if cap != nil {
		t.Errorf("GetModule on empty registry = %v, want nil", cap)
	}
}

func TestRegistrySetAndGet(t *testing.T) {
	buf := buildModuleFixture(t, nil)
	m, err := LoadFromMemory(buf, nil)
	if err != nil {
		t.Fatalf("LoadFromMemory: %v", err)
	}
	defer m.Close()

	reg := NewRegistry()
	reg.SetModule("libfoo.so", m)

	got, err := reg.GetModule("libfoo.so")
	if err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	if got != Capability(m) {
		t.Errorf("GetModule returned %v, want %v", got, m)
	}

	reg.RemoveModule("libfoo.so")
	if got, _ := reg.GetModule("libfoo.so"); got != nil {
		t.Errorf("GetModule after RemoveModule = %v, want nil", got)
	}
}

func TestRegistryFallsThroughToResolver(t *testing.T) {
	buf := buildModuleFixture(t, nil)
	m, err := LoadFromMemory(buf, nil)
	if err != nil {
		t.Fatalf("LoadFromMemory: %v", err)
	}
	defer m.Close()

	reg := NewRegistry()
	reg.SetModuleResolver(stubResolver{modules: map[string]Capability{"libfoo.so": m}})

	got, err := reg.GetModule("libfoo.so")
	if err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	if got != Capability(m) {
		t.Errorf("GetModule via resolver = %v, want %v", got, m)
	}

	reg.SetModuleResolver(nil)
	got2, err := reg.GetModule("libbar.so")
	if err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	if got2 != nil {
		t.Errorf("GetModule after resolver reset = %v, want nil", got2)
	}
	runtime.KeepAlive(m)
}
