package main

import (
	stdelf "debug/elf"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"

	"github.com/owlshift/dynload/internal/dynamic"
	"github.com/owlshift/dynload/internal/elfimage"
	"github.com/owlshift/dynload/internal/ui/colorize"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>",
		Short: "Show an ELF shared object's header, segments, and DT_NEEDED list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args[0])
		},
	}
}

func runInfo(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	img, err := elfimage.New(buf)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	ehdr := img.Ehdr()
	fmt.Printf("%s\n", colorize.Header(path))
	fmt.Printf("Class:   %s\n", ehdr.Class)
	fmt.Printf("Machine: %s\n", ehdr.Machine)
	fmt.Printf("Type:    %s\n", ehdr.Type)
	fmt.Printf("Entry:   %s\n", colorize.Address(ehdr.Entry))
	fmt.Printf("VBase:   %s\n", colorize.Address(img.VBase()))
	fmt.Printf("VSize:   %#x\n\n", img.VSize())

	fmt.Println(colorize.Tag("#segments"))
	for i, p := range img.Progs() {
		fmt.Printf("  [%d] %-10s vaddr=%s filesz=%#x memsz=%#x flags=%s\n",
			i, p.Type, colorize.Address(p.VAddr), p.FileSz, p.MemSz, p.Flags)
	}

	dynProg, ok := img.DynamicProg()
	if !ok {
		return nil
	}
	table, err := dynamic.New(img, dynProg)
	if err != nil {
		return fmt.Errorf("parse dynamic table: %w", err)
	}
	needed, err := table.Needed()
	if err != nil {
		return fmt.Errorf("read DT_NEEDED: %w", err)
	}
	if len(needed) > 0 {
		fmt.Println()
		fmt.Println(colorize.Tag("#needed"))
		for _, name := range needed {
			fmt.Printf("  %s\n", name)
		}
	}

	if ehdr.Entry != 0 {
		fmt.Println()
		fmt.Println(colorize.Tag("#entry"))
		printDisasm(img, ehdr)
	}
	return nil
}

// printDisasm decodes a handful of instructions at the entry point directly
// out of the file image, the same static-disassembly-before-anything-runs
// view the loader never gets once a module is mapped and relocated.
func printDisasm(img *elfimage.Image, ehdr elfimage.Ehdr) {
	off, ok := fileOffset(img, ehdr.Entry)
	if !ok {
		fmt.Println("  (entry point not covered by any PT_LOAD segment)")
		return
	}
	mode := 64
	if ehdr.Class == stdelf.ELFCLASS32 {
		mode = 32
	}
	buf := img.Bytes()
	addr := ehdr.Entry
	const maxInsn = 8
	for i := 0; i < maxInsn && off < uint64(len(buf)); i++ {
		inst, dis := disasm(buf[off:], mode)
		fmt.Printf("  %s  %s", colorize.Address(addr), dis)
		if tags := instructionTags(dis); len(tags) > 0 {
			fmt.Printf("  %s", strings.Join(tags, " "))
		}
		fmt.Println()
		if inst == 0 {
			break
		}
		off += uint64(inst)
		addr += uint64(inst)
	}
}

// fileOffset maps a virtual address to its file offset via the PT_LOAD
// segment that covers it.
func fileOffset(img *elfimage.Image, vaddr uint64) (uint64, bool) {
	for _, p := range img.Progs() {
		if p.Type != stdelf.PT_LOAD {
			continue
		}
		if vaddr >= p.VAddr && vaddr < p.VAddr+p.FileSz {
			return p.Offset + (vaddr - p.VAddr), true
		}
	}
	return 0, false
}

// disasm decodes one instruction, returning its length and textual form. On
// a decode failure it falls back to a one-byte raw dump (length 1) the way
// static disassembly does when it hits data or an unsupported encoding; the
// length is 0 only when code is empty.
func disasm(code []byte, mode int) (int, string) {
	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		if len(code) == 0 {
			return 0, "???"
		}
		return 1, fmt.Sprintf(".byte 0x%02x", code[0])
	}
	return inst.Len, inst.String()
}

// instructionTags classifies a decoded instruction's mnemonic the way a
// quick static triage pass would: calls, branches, and returns are worth
// flagging before anything actually runs.
func instructionTags(dis string) []string {
	fields := strings.Fields(strings.ToUpper(dis))
	if len(fields) == 0 {
		return nil
	}
	var tags []string
	switch fields[0] {
	case "CALL":
		tags = append(tags, "#call")
	case "JMP":
		tags = append(tags, "#jmp")
	case "RET", "RETF":
		tags = append(tags, "#ret")
	case "SYSCALL", "SYSENTER", "INT":
		tags = append(tags, "#syscall")
	case "JE", "JNE", "JZ", "JNZ", "JG", "JGE", "JL", "JLE", "JA", "JB", "JAE", "JBE":
		tags = append(tags, "#branch")
	}
	return tags
}
