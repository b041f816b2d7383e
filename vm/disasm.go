package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction formats the instruction at pc and returns its
// size. Undecodable bytes are shown raw with size 1.
func DisassembleInstruction(c *Chunk, pc int) (string, int) {
	ins, err := Decode(c.Code, pc)
	if err != nil {
		return fmt.Sprintf("%04d  ?? 0x%02X (%v)", pc, c.Code[pc], err), 1
	}
	s := fmt.Sprintf("%04d  %s", pc, ins)
	switch ins.Op {
	case OpConstant:
		if idx := ins.Operands[1]; idx < len(c.Constants) {
			k := c.Constants[idx]
			if k.IsText {
				s += fmt.Sprintf("  ; %q", k.Text)
			} else {
				s += fmt.Sprintf("  ; %d", k.Int)
			}
		}
	case OpJump, OpJumpIfFalse:
		s += fmt.Sprintf("  ; -> %04d", pc+ins.Op.Size()+ins.Operands[len(ins.Operands)-1])
	case OpLoop:
		s += fmt.Sprintf("  ; -> %04d", pc+ins.Op.Size()-ins.Operands[0])
	}
	return s, ins.Op.Size()
}

// DisassembleChunk formats every instruction of c, one per line.
func DisassembleChunk(c *Chunk) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== %s (arity %d, registers %d) ==\n", c.Name, c.Arity, c.RegisterCount)
	for i, capture := range c.Captures {
		from := "capture "
		if capture.Local {
			from = "r"
		}
		fmt.Fprintf(&sb, "; capture %d <- %s%d\n", i, from, capture.Index)
	}
	line := 0
	for pc := 0; pc < len(c.Code); {
		text, size := DisassembleInstruction(c, pc)
		if l := c.LineFor(pc); l != line {
			line = l
			fmt.Fprintf(&sb, "%-40s ; line %d\n", text, l)
		} else {
			sb.WriteString(text)
			sb.WriteByte('\n')
		}
		pc += size
	}
	return sb.String()
}

// Disassemble formats every chunk of the program.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	for i, s := range p.Schemas {
		fmt.Fprintf(&sb, "; schema %d %s { %s }\n", i, s.Name, strings.Join(s.Fields, ", "))
	}
	for i, c := range p.Chunks {
		if i > 0 || len(p.Schemas) > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleChunk(c))
	}
	return sb.String()
}
