// Command lilydump disassembles a hand-built sample Program and prints
// its asm listing, exercising the same pretty-printer Program.PrettyString
// uses for debugging an emitter under development.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/lily-lang/lily"
)

func readFlags() (highlight *bool) {
	highlight = flag.Bool("color", false, "Highlight the disassembly with ANSI color")
	flag.Parse()
	return
}

// sampleProgram builds the fibonacci-ish loop used throughout the test
// suite: a small, representative mix of arithmetic, control flow, and a
// call, so the disassembler always has something non-trivial to show.
func sampleProgram() *lily.Program {
	p := lily.NewProgram("sample", "count_up_to")

	top := lily.NewILabel()
	exit := lily.NewILabel()

	p.Emit(lily.IForSetup{LoopVar: 0, Acc: 5, Start: 1, Stop: 2, Step: 3, Exit: exit})
	p.Emit(top)
	p.Emit(lily.IIntBinOp{Op: lily.IntAdd, Dst: 4, A: 4, B: 0})
	p.Emit(lily.IForInteger{LoopVar: 0, Acc: 5, Stop: 2, Step: 3, Top: top})
	p.Emit(exit)
	p.Emit(lily.IReturnValue{Src: 4})

	return p
}

func main() {
	highlight := readFlags()

	p := sampleProgram()
	out := p.PrettyString()
	if *highlight {
		out = p.HighlightString()
	}

	// Encode the same program and disassemble the frozen form next to the
	// instruction-level listing, so the two stay comparable by eye.
	bc := lily.Encode(p)
	if err := lily.ValidateBytecode(bc); err != nil {
		log.Fatal(err)
	}
	out += ";; encoded\n" + lily.DisassembleBytecode(bc)

	if _, err := fmt.Fprint(os.Stdout, out); err != nil {
		log.Fatal(err)
	}
}
