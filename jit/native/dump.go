package native

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/Alia5/portctrl/jit/codegen"
)

// DumpBase is the nominal load address used for programs dumped without
// being loaded.
const DumpBase = 0x10000

// DumpProgram links prog at DumpBase and writes it like Module.Dump. It
// works for any target, including ones the host cannot run.
func DumpProgram(prog *codegen.Program, dir, name string) error {
	image := make([]byte, prog.Size())
	if _, err := prog.Link(image, DumpBase); err != nil {
		return fmt.Errorf("native: dump: %w", err)
	}
	return writeDump(dir, name, prog, image, DumpBase)
}

// writeDump writes <name>.bin, <name>.map and <name>.s into dir.
func writeDump(dir, name string, prog *codegen.Program, image []byte, base uintptr) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("native: dump: %w", err)
	}
	files := map[string][]byte{
		name + ".bin": image,
		name + ".map": []byte(symbolMap(prog, base)),
		name + ".s":   []byte(Disassemble(prog, image, base)),
	}
	for file, data := range files {
		if err := os.WriteFile(filepath.Join(dir, file), data, 0o644); err != nil {
			return fmt.Errorf("native: dump: %w", err)
		}
	}
	return nil
}

func symbolMap(prog *codegen.Program, base uintptr) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%#016x base %s\n", base, prog.Target())
	for _, s := range prog.Symbols() {
		fmt.Fprintf(&sb, "%#016x %s\n", base+uintptr(s.Offset), s.Name)
	}
	fmt.Fprintf(&sb, "%#016x end\n", base+uintptr(prog.Size()))
	return sb.String()
}

// Disassemble renders a linked image in Intel syntax. Jump tables are
// printed as address data.
func Disassemble(prog *codegen.Program, image []byte, base uintptr) string {
	labels := make(map[int][]string)
	syms := prog.Symbols()
	for _, s := range syms {
		labels[s.Offset] = append(labels[s.Offset], s.Name)
	}
	lookup := func(addr uint64) (string, uint64) {
		var best codegen.Symbol
		found := false
		for _, s := range syms {
			a := uint64(base) + uint64(s.Offset)
			if a <= addr && (!found || s.Offset >= best.Offset) {
				best, found = s, true
			}
		}
		if !found {
			return "", 0
		}
		return best.Name, uint64(base) + uint64(best.Offset)
	}

	mode := int(prog.Target().Mode())
	ptr := mode / 8
	var sb strings.Builder
	for off := 0; off < len(image); {
		for _, l := range labels[off] {
			fmt.Fprintf(&sb, "%s:\n", l)
		}
		if r, ok := dataRange(prog, off); ok {
			for ; off < r.End; off += ptr {
				var v uint64
				if ptr == 8 {
					v = binary.LittleEndian.Uint64(image[off:])
					fmt.Fprintf(&sb, "%#08x:  .quad %#x\n", off, v)
				} else {
					v = uint64(binary.LittleEndian.Uint32(image[off:]))
					fmt.Fprintf(&sb, "%#08x:  .long %#x\n", off, v)
				}
			}
			continue
		}
		inst, err := x86asm.Decode(image[off:], mode)
		if err != nil {
			fmt.Fprintf(&sb, "%#08x:  .byte %#02x\n", off, image[off])
			off++
			continue
		}
		pc := uint64(base) + uint64(off)
		fmt.Fprintf(&sb, "%#08x:  %-24x %s\n", off, image[off:off+inst.Len], x86asm.IntelSyntax(inst, pc, lookup))
		off += inst.Len
	}
	return sb.String()
}

func dataRange(prog *codegen.Program, off int) (codegen.Range, bool) {
	for _, r := range prog.DataRanges() {
		if off >= r.Start && off < r.End {
			return r, true
		}
	}
	return codegen.Range{}, false
}
