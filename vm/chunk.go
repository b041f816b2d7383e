package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Chunks and programs
// ---------------------------------------------------------------------------

// Constant is an entry of a chunk's constant pool.
type Constant struct {
	Text   string `cbor:"1,keyasint,omitempty"`
	Int    int64  `cbor:"2,keyasint,omitempty"`
	IsText bool   `cbor:"3,keyasint,omitempty"`
}

// Value returns the runtime value of the constant.
func (c Constant) Value() Value {
	if c.IsText {
		return TextValue(c.Text)
	}
	return IntValue(c.Int)
}

// Capture tells CLOSURE where to find one captured cell: a register of the
// creating frame when Local, otherwise a capture of the creating closure.
type Capture struct {
	Local bool `cbor:"1,keyasint"`
	Index int  `cbor:"2,keyasint"`
}

// LineEntry maps the instruction at PC, and those after it up to the next
// entry, to a source line.
type LineEntry struct {
	PC   int `cbor:"1,keyasint"`
	Line int `cbor:"2,keyasint"`
}

// Chunk is the compiled code of one spell. Arguments arrive in registers
// 0..Arity-1 of the frame's window.
type Chunk struct {
	Name          string      `cbor:"1,keyasint"`
	Arity         int         `cbor:"2,keyasint"`
	RegisterCount int         `cbor:"3,keyasint"`
	Code          []byte      `cbor:"4,keyasint"`
	Constants     []Constant  `cbor:"5,keyasint,omitempty"`
	Captures      []Capture   `cbor:"6,keyasint,omitempty"`
	Lines         []LineEntry `cbor:"7,keyasint,omitempty"`
}

// AddConstant adds c to the pool, reusing an equal entry.
func (c *Chunk) AddConstant(k Constant) int {
	for i, existing := range c.Constants {
		if existing == k {
			return i
		}
	}
	c.Constants = append(c.Constants, k)
	return len(c.Constants) - 1
}

// LineFor returns the source line of the instruction at pc, or 0.
func (c *Chunk) LineFor(pc int) int {
	line := 0
	for _, e := range c.Lines {
		if e.PC > pc {
			break
		}
		line = e.Line
	}
	return line
}

// Schema is the runtime layout of a sign: field names in index order.
type Schema struct {
	Name   string   `cbor:"1,keyasint"`
	Fields []string `cbor:"2,keyasint,omitempty"`
}

// Program is a complete compiled unit. Chunks[Entry] runs first.
type Program struct {
	Chunks  []*Chunk  `cbor:"1,keyasint"`
	Schemas []*Schema `cbor:"2,keyasint,omitempty"`
	Globals int       `cbor:"3,keyasint"`
	Entry   int       `cbor:"4,keyasint"`
}

// ErrInvalidProgram is wrapped by every Verify failure.
var ErrInvalidProgram = errors.New("invalid program")

// Verify checks that every chunk decodes instruction by instruction with
// operands inside the limits of the program: registers within the chunk's
// window and indices within their tables.
func (p *Program) Verify() error {
	if len(p.Chunks) == 0 {
		return fmt.Errorf("%w: no chunks", ErrInvalidProgram)
	}
	if p.Entry < 0 || p.Entry >= len(p.Chunks) {
		return fmt.Errorf("%w: entry chunk %d of %d", ErrInvalidProgram, p.Entry, len(p.Chunks))
	}
	for ci, c := range p.Chunks {
		if c == nil {
			return fmt.Errorf("%w: chunk %d is missing", ErrInvalidProgram, ci)
		}
		if c.RegisterCount > 256 || c.Arity > c.RegisterCount {
			return fmt.Errorf("%w: chunk %s has %d registers for %d arguments", ErrInvalidProgram, c.Name, c.RegisterCount, c.Arity)
		}
		if err := p.verifyChunk(c); err != nil {
			return fmt.Errorf("%w: chunk %s: %v", ErrInvalidProgram, c.Name, err)
		}
	}
	return nil
}

func (p *Program) verifyChunk(c *Chunk) error {
	var operands [MaxOperands]int
	for pc := 0; pc < len(c.Code); {
		d, err := decodeInto(c.Code, pc, &operands)
		if err != nil {
			return err
		}
		for i, o := range d.Operands {
			if o.Kind == OperandReg && operands[i] >= c.RegisterCount {
				return fmt.Errorf("%s at %d: register r%d outside window of %d", d.Name, pc, operands[i], c.RegisterCount)
			}
		}
		switch d.Op {
		case OpConstant:
			if operands[1] >= len(c.Constants) {
				return fmt.Errorf("CONSTANT at %d: index %d outside pool of %d", pc, operands[1], len(c.Constants))
			}
		case OpGetGlobal, OpSetGlobal:
			if operands[1] >= p.Globals {
				return fmt.Errorf("%s at %d: slot %d outside %d globals", d.Name, pc, operands[1], p.Globals)
			}
		case OpCall, OpSpellRef, OpClosure:
			if operands[1] >= len(p.Chunks) {
				return fmt.Errorf("%s at %d: chunk %d outside %d chunks", d.Name, pc, operands[1], len(p.Chunks))
			}
		case OpNewSign:
			if operands[1] >= len(p.Schemas) {
				return fmt.Errorf("NEW_SIGN at %d: schema %d outside %d schemas", pc, operands[1], len(p.Schemas))
			}
		case OpJump, OpJumpIfFalse:
			if target := pc + d.Size + operands[len(d.Operands)-1]; target > len(c.Code) {
				return fmt.Errorf("%s at %d: target %d past end of code", d.Name, pc, target)
			}
		case OpLoop:
			if target := pc + d.Size - operands[0]; target < 0 {
				return fmt.Errorf("LOOP at %d: target %d before start of code", pc, target)
			}
		}
		pc += d.Size
	}
	return nil
}
