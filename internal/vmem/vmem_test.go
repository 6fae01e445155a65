package vmem

import "testing"

func TestAccessString(t *testing.T) {
	cases := []struct {
		a    Access
		want string
	}{
		{0, "---"},
		{Read, "r--"},
		{Read | Execute, "r-x"},
		{Read | Write, "rw-"},
		{Read | Write | Execute, "rwx"},
	}
	for _, c := range cases {
		if got := c.a.String(); got != c.want {
			t.Errorf("Access(%d).String() = %q, want %q", c.a, got, c.want)
		}
	}
}

func TestAllocProtectFree(t *testing.T) {
	r, err := Alloc(4096, 0, Read|Write)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer func() {
		if err := Free(r); err != nil {
			t.Errorf("Free: %v", err)
		}
	}()

	buf := r.Bytes()
	if len(buf) < 4096 {
		t.Fatalf("region too small: %d", len(buf))
	}
	buf[0] = 0x42

	if err := Protect(r.Base, r.Size, Read); err != nil {
		t.Fatalf("Protect: %v", err)
	}
}
