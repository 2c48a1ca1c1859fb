package lily

import (
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

// dumpGCChain renders the collector's live entry list for debugging,
// walking the intrusive linked list directly rather than spew-dumping
// the Collector itself (which would recurse through every payload's
// own children twice: once via the list, once via gcMark's graph).
func dumpGCChain(c *Collector) string {
	var b strings.Builder
	n := 0
	for e := c.head; e != nil; e = e.next {
		fmt.Fprintf(&b, "#%d lastSeen=%d %s\n", n, e.lastSeen, spew.Sdump(e.payload))
		n++
	}
	fmt.Fprintf(&b, "-- %d entries, count=%d\n", n, c.count)
	return b.String()
}

// DumpRegisters renders the live register window of every frame on the
// stack, the VM-side counterpart to Program.PrettyString's static
// disassembly: useful for comparing expected vs. actual state at a
// breakpoint while chasing a refcounting bug.
func (vm *VM) DumpRegisters() string {
	var b strings.Builder
	for i := range vm.frames {
		f := &vm.frames[i]
		fmt.Fprintf(&b, "frame %d: %s (pc=%d, base=%d, used=%d)\n", i, f.function.Name, f.codePos, f.regsBase, f.regsUsed)
		for r := 0; r < f.regsUsed; r++ {
			v := vm.regs[f.regsBase+r]
			b.WriteString("  r")
			b.WriteString(fmt.Sprint(r))
			b.WriteString(" = ")
			if v.IsDerefable() && v.obj != nil {
				b.WriteString(spew.Sdump(v.obj))
			} else {
				b.WriteString(v.String())
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}
