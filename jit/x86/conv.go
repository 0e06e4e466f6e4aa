package x86

import "slices"

// Convention describes where a C-ABI function finds its integer arguments.
type Convention struct {
	Name string
	Mode Mode
	// Args are the argument registers in order; the rest go on the stack.
	Args []Reg
	// StackBase is the offset from the entry stack pointer of the first
	// stack slot.
	StackBase int32
	// HomeSlots is set when register arguments also own a stack slot, so
	// argument i lives at StackBase + i*ptr.
	HomeSlots bool
	// Saved lists callee-saved registers.
	Saved []Reg
}

var (
	SysV64 = &Convention{
		Name:      "sysv-amd64",
		Mode:      Mode64,
		Args:      []Reg{RDI, RSI, RDX, RCX, R8, R9},
		StackBase: 8,
		Saved:     []Reg{RBX, RBP, R12, R13, R14, R15},
	}
	Win64 = &Convention{
		Name:      "win64",
		Mode:      Mode64,
		Args:      []Reg{RCX, RDX, R8, R9},
		StackBase: 8,
		HomeSlots: true,
		Saved:     []Reg{RBX, RBP, RSI, RDI, R12, R13, R14, R15},
	}
	Cdecl32 = &Convention{
		Name:      "cdecl-386",
		Mode:      Mode32,
		StackBase: 4,
		Saved:     []Reg{EBX, EBP, ESI, EDI},
	}
)

// Arg locates argument i. pushed is the number of registers the callee
// pushed since entry. Register arguments return ok=true.
func (c *Convention) Arg(i, pushed int) (r Reg, m Mem, ok bool) {
	if i < len(c.Args) {
		return c.Args[i], Mem{}, true
	}
	ptr := int32(c.Mode.PtrWidth())
	slot := int32(i)
	if !c.HomeSlots {
		slot -= int32(len(c.Args))
	}
	return NoReg, Ptr(RSP, c.StackBase+slot*ptr+int32(pushed)*ptr), false
}

// IsSaved reports whether r must be preserved across calls.
func (c *Convention) IsSaved(r Reg) bool {
	return slices.Contains(c.Saved, r)
}

func (c *Convention) String() string { return c.Name }

// Conventions lists the supported conventions.
var Conventions = []*Convention{SysV64, Win64, Cdecl32}

// LookupConvention finds a convention by name. "sysv", "amd64", "x64" and
// "386" are accepted as aliases.
func LookupConvention(name string) (*Convention, bool) {
	switch name {
	case "sysv", "amd64", "x64":
		return SysV64, true
	case "386", "cdecl", "x86":
		return Cdecl32, true
	}
	for _, c := range Conventions {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}
