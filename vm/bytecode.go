package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a register instruction.
type Opcode byte

// Miscellaneous
const (
	OpNop      Opcode = 0x00 // no operation
	OpHalt     Opcode = 0x01 // stop the program with unit
	OpConstant Opcode = 0x02 // dest = constants[index]
	OpTrue     Opcode = 0x03 // dest = true
	OpFalse    Opcode = 0x04 // dest = false
	OpUnit     Opcode = 0x05 // dest = unit
	OpMove     Opcode = 0x06 // dest = src
)

// Arithmetic
const (
	OpAdd    Opcode = 0x10
	OpSub    Opcode = 0x11
	OpMul    Opcode = 0x12
	OpDiv    Opcode = 0x13
	OpMod    Opcode = 0x14
	OpNegate Opcode = 0x15
	OpConcat Opcode = 0x16
)

// Comparison
const (
	OpEqual        Opcode = 0x20
	OpNotEqual     Opcode = 0x21
	OpGreater      Opcode = 0x22
	OpGreaterEqual Opcode = 0x23
	OpLess         Opcode = 0x24
	OpLessEqual    Opcode = 0x25
	OpNot          Opcode = 0x26
)

// Globals
const (
	OpGetGlobal Opcode = 0x30
	OpSetGlobal Opcode = 0x31
)

// Control flow
const (
	OpJump        Opcode = 0x40 // forward jump, offset from the next instruction
	OpJumpIfFalse Opcode = 0x41 // forward jump when cond is false
	OpLoop        Opcode = 0x42 // backward jump, offset from the next instruction
	OpCall        Opcode = 0x43 // call chunk with argc registers starting at base
	OpInvoke      Opcode = 0x44 // call the spell or closure held in callee
	OpRelease     Opcode = 0x45 // return src to the caller
)

// Signs
const (
	OpNewSign  Opcode = 0x50 // dest = new instance of schema from registers base..
	OpGetField Opcode = 0x51
	OpSetField Opcode = 0x52
)

// Closures
const (
	OpSpellRef   Opcode = 0x60 // dest = reference to a static chunk
	OpClosure    Opcode = 0x61 // dest = closure over chunk, capturing cells
	OpNewCell    Opcode = 0x62
	OpGetCell    Opcode = 0x63
	OpSetCell    Opcode = 0x64
	OpGetCapture Opcode = 0x65
	OpSetCapture Opcode = 0x66
)

// Output
const (
	OpChant Opcode = 0x70 // write src to program output
)

// ---------------------------------------------------------------------------
// Instruction set table
// ---------------------------------------------------------------------------

// OperandKind is the encoding of one operand field.
type OperandKind uint8

const (
	OperandReg  OperandKind = iota // register index, 1 byte, checked against the frame window
	OperandByte                    // small unsigned value, 1 byte
	OperandWide                    // unsigned value, 2 bytes little-endian
)

// Width returns the encoded size of the operand in bytes.
func (k OperandKind) Width() int {
	if k == OperandWide {
		return 2
	}
	return 1
}

// Max returns the largest encodable value.
func (k OperandKind) Max() int {
	if k == OperandWide {
		return 0xFFFF
	}
	return 0xFF
}

// Operand describes one operand field of an instruction.
type Operand struct {
	Name string
	Kind OperandKind
}

// Definition is the single source of truth for an opcode: its mnemonic, its
// total encoded size and its operand layout.
type Definition struct {
	Op       Opcode
	Name     string
	Size     int
	Operands []Operand
}

// MaxOperands is the largest operand count of any instruction.
const MaxOperands = 4

func reg(name string) Operand  { return Operand{Name: name, Kind: OperandReg} }
func byt(name string) Operand  { return Operand{Name: name, Kind: OperandByte} }
func wide(name string) Operand { return Operand{Name: name, Kind: OperandWide} }

func ops(o ...Operand) []Operand { return o }

var binaryOperands = ops(reg("dest"), reg("r1"), reg("r2"))

// definitions is the instruction set.
var definitions = []Definition{
	{OpNop, "NOP", 1, nil},
	{OpHalt, "HALT", 1, nil},
	{OpConstant, "CONSTANT", 4, ops(reg("dest"), wide("index"))},
	{OpTrue, "TRUE", 2, ops(reg("dest"))},
	{OpFalse, "FALSE", 2, ops(reg("dest"))},
	{OpUnit, "UNIT", 2, ops(reg("dest"))},
	{OpMove, "MOVE", 3, ops(reg("dest"), reg("src"))},

	{OpAdd, "ADD", 4, binaryOperands},
	{OpSub, "SUB", 4, binaryOperands},
	{OpMul, "MUL", 4, binaryOperands},
	{OpDiv, "DIV", 4, binaryOperands},
	{OpMod, "MOD", 4, binaryOperands},
	{OpNegate, "NEGATE", 3, ops(reg("dest"), reg("r1"))},
	{OpConcat, "CONCAT", 4, binaryOperands},

	{OpEqual, "EQUAL", 4, binaryOperands},
	{OpNotEqual, "NOT_EQUAL", 4, binaryOperands},
	{OpGreater, "GREATER", 4, binaryOperands},
	{OpGreaterEqual, "GREATER_EQUAL", 4, binaryOperands},
	{OpLess, "LESS", 4, binaryOperands},
	{OpLessEqual, "LESS_EQUAL", 4, binaryOperands},
	{OpNot, "NOT", 3, ops(reg("dest"), reg("r1"))},

	{OpGetGlobal, "GET_GLOBAL", 4, ops(reg("dest"), wide("slot"))},
	{OpSetGlobal, "SET_GLOBAL", 4, ops(reg("src"), wide("slot"))},

	{OpJump, "JUMP", 3, ops(wide("offset"))},
	{OpJumpIfFalse, "JUMP_IF_FALSE", 4, ops(reg("cond"), wide("offset"))},
	{OpLoop, "LOOP", 3, ops(wide("offset"))},
	{OpCall, "CALL", 6, ops(reg("dest"), wide("chunk"), byt("base"), byt("argc"))},
	{OpInvoke, "INVOKE", 5, ops(reg("dest"), reg("callee"), byt("base"), byt("argc"))},
	{OpRelease, "RELEASE", 2, ops(reg("src"))},

	{OpNewSign, "NEW_SIGN", 5, ops(reg("dest"), wide("schema"), byt("base"))},
	{OpGetField, "GET_FIELD", 4, ops(reg("dest"), reg("object"), byt("field"))},
	{OpSetField, "SET_FIELD", 4, ops(reg("object"), byt("field"), reg("src"))},

	{OpSpellRef, "SPELL_REF", 4, ops(reg("dest"), wide("chunk"))},
	{OpClosure, "CLOSURE", 4, ops(reg("dest"), wide("chunk"))},
	{OpNewCell, "NEW_CELL", 2, ops(reg("dest"))},
	{OpGetCell, "GET_CELL", 3, ops(reg("dest"), reg("cell"))},
	{OpSetCell, "SET_CELL", 3, ops(reg("cell"), reg("src"))},
	{OpGetCapture, "GET_CAPTURE", 3, ops(reg("dest"), byt("capture"))},
	{OpSetCapture, "SET_CAPTURE", 3, ops(byt("capture"), reg("src"))},

	{OpChant, "CHANT", 2, ops(reg("src"))},
}

// byOpcode indexes definitions by opcode byte.
var byOpcode [256]*Definition

func init() {
	if err := ValidateDefinitions(); err != nil {
		panic(err)
	}
	for i := range definitions {
		byOpcode[definitions[i].Op] = &definitions[i]
	}
}

// ValidateDefinitions checks the instruction set table: codes and mnemonics
// are unique and every declared size equals 1 + the sum of its operand
// widths.
func ValidateDefinitions() error {
	codes := make(map[Opcode]string)
	names := make(map[string]bool)
	for _, d := range definitions {
		if prev, ok := codes[d.Op]; ok {
			return fmt.Errorf("opcode 0x%02X used by both %s and %s", byte(d.Op), prev, d.Name)
		}
		codes[d.Op] = d.Name
		if names[d.Name] {
			return fmt.Errorf("mnemonic %s declared twice", d.Name)
		}
		names[d.Name] = true
		if len(d.Operands) > MaxOperands {
			return fmt.Errorf("%s has %d operands, limit is %d", d.Name, len(d.Operands), MaxOperands)
		}
		size := 1
		for _, o := range d.Operands {
			size += o.Kind.Width()
		}
		if size != d.Size {
			return fmt.Errorf("%s declares size %d but its operands encode to %d", d.Name, d.Size, size)
		}
	}
	return nil
}

// Lookup returns the definition of op.
func Lookup(op Opcode) (*Definition, bool) {
	d := byOpcode[op]
	return d, d != nil
}

// AllOpcodes returns every defined opcode in table order.
func AllOpcodes() []Opcode {
	all := make([]Opcode, len(definitions))
	for i, d := range definitions {
		all[i] = d.Op
	}
	return all
}

// Size returns the encoded size of op, or 0 if op is undefined.
func (op Opcode) Size() int {
	if d, ok := Lookup(op); ok {
		return d.Size
	}
	return 0
}

// String returns the mnemonic of op.
func (op Opcode) String() string {
	if d, ok := Lookup(op); ok {
		return d.Name
	}
	return fmt.Sprintf("UNKNOWN_%02X", byte(op))
}

// ---------------------------------------------------------------------------
// Encode / decode
// ---------------------------------------------------------------------------

// Instruction is a decoded instruction: an opcode and its operand values in
// table order.
type Instruction struct {
	Op       Opcode
	Operands []int
}

// Encode returns the byte encoding of ins.
func (ins Instruction) Encode() ([]byte, error) {
	return AppendInstruction(nil, ins)
}

// AppendInstruction appends the encoding of ins to buf.
func AppendInstruction(buf []byte, ins Instruction) ([]byte, error) {
	d, ok := Lookup(ins.Op)
	if !ok {
		return buf, fmt.Errorf("unknown opcode 0x%02X", byte(ins.Op))
	}
	if len(ins.Operands) != len(d.Operands) {
		return buf, fmt.Errorf("%s takes %d operands, got %d", d.Name, len(d.Operands), len(ins.Operands))
	}
	buf = append(buf, byte(d.Op))
	for i, o := range d.Operands {
		v := ins.Operands[i]
		if v < 0 || v > o.Kind.Max() {
			return buf, fmt.Errorf("%s operand %s = %d out of range 0..%d", d.Name, o.Name, v, o.Kind.Max())
		}
		if o.Kind == OperandWide {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(v))
		} else {
			buf = append(buf, byte(v))
		}
	}
	return buf, nil
}

// decodeInto decodes the instruction at pc into out without allocating.
func decodeInto(code []byte, pc int, out *[MaxOperands]int) (*Definition, error) {
	if pc < 0 || pc >= len(code) {
		return nil, fmt.Errorf("pc %d outside code of %d bytes", pc, len(code))
	}
	d, ok := Lookup(Opcode(code[pc]))
	if !ok {
		return nil, fmt.Errorf("unknown opcode 0x%02X at %d", code[pc], pc)
	}
	if pc+d.Size > len(code) {
		return nil, fmt.Errorf("truncated %s at %d: needs %d bytes, %d remain", d.Name, pc, d.Size, len(code)-pc)
	}
	at := pc + 1
	for i, o := range d.Operands {
		if o.Kind == OperandWide {
			out[i] = int(binary.LittleEndian.Uint16(code[at:]))
		} else {
			out[i] = int(code[at])
		}
		at += o.Kind.Width()
	}
	return d, nil
}

// Decode decodes the instruction starting at pc.
func Decode(code []byte, pc int) (Instruction, error) {
	var operands [MaxOperands]int
	d, err := decodeInto(code, pc, &operands)
	if err != nil {
		return Instruction{}, err
	}
	ins := Instruction{Op: d.Op, Operands: make([]int, len(d.Operands))}
	copy(ins.Operands, operands[:len(d.Operands)])
	return ins, nil
}

// String formats ins as its mnemonic followed by named operands.
func (ins Instruction) String() string {
	d, ok := Lookup(ins.Op)
	if !ok {
		return ins.Op.String()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-14s", d.Name)
	for i, o := range d.Operands {
		if i >= len(ins.Operands) {
			break
		}
		sb.WriteByte(' ')
		switch o.Kind {
		case OperandReg:
			fmt.Fprintf(&sb, "%s=r%d", o.Name, ins.Operands[i])
		default:
			fmt.Fprintf(&sb, "%s=%d", o.Name, ins.Operands[i])
		}
	}
	return strings.TrimRight(sb.String(), " ")
}
