//go:build (linux || darwin) && (amd64 || 386 || arm64)

package xcall

/*
typedef void (*niladic_fn)(void);

static void xcall_invoke(void *addr) {
	niladic_fn fn = (niladic_fn)addr;
	fn();
}
*/
import "C"
import "unsafe"

// platformCallVoid casts addr to a C function pointer and calls it,
// mirroring elf_run_image_init/elf_run_image_entry's
// reinterpret_cast<fn_ptr_t>(ptr)() on the architectures cgo can bridge to
// without hand-written per-arch assembly.
func platformCallVoid(addr uintptr) error {
	C.xcall_invoke(unsafe.Pointer(addr))
	return nil
}
