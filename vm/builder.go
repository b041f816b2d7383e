package vm

import "fmt"

// ---------------------------------------------------------------------------
// Builder: constructs the code of one chunk
// ---------------------------------------------------------------------------

// Builder appends encoded instructions to a chunk's code. The first
// encoding failure is kept and reported by Err.
type Builder struct {
	code  []byte
	lines []LineEntry
	line  int
	err   error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{code: make([]byte, 0, 64)}
}

// Bytes returns the constructed code.
func (b *Builder) Bytes() []byte {
	return b.code
}

// Len returns the current length, which is the pc of the next instruction.
func (b *Builder) Len() int {
	return len(b.code)
}

// Lines returns the pc to source line table.
func (b *Builder) Lines() []LineEntry {
	return b.lines
}

// Err returns the first encoding error.
func (b *Builder) Err() error {
	return b.err
}

// SetLine sets the source line of the instructions emitted next.
func (b *Builder) SetLine(line int) {
	b.line = line
}

// Emit appends op with its operands and returns the pc of the instruction.
func (b *Builder) Emit(op Opcode, operands ...int) int {
	pc := len(b.code)
	if b.err != nil {
		return pc
	}
	if b.line > 0 && (len(b.lines) == 0 || b.lines[len(b.lines)-1].Line != b.line) {
		b.lines = append(b.lines, LineEntry{PC: pc, Line: b.line})
	}
	code, err := AppendInstruction(b.code, Instruction{Op: op, Operands: operands})
	if err != nil {
		b.err = err
		return pc
	}
	b.code = code
	return pc
}

// ---------------------------------------------------------------------------
// Labels for forward jumps
// ---------------------------------------------------------------------------

// Label is a forward jump target. Jumps to it are emitted with a
// placeholder offset and patched when the label is marked.
type Label struct {
	resolved bool
	refs     []int // positions of the offset operands to patch
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// EmitJump emits a forward jump to label. operands are the leading operands
// of op; the offset is always the last operand.
func (b *Builder) EmitJump(op Opcode, label *Label, operands ...int) {
	if label.resolved {
		b.fail(fmt.Errorf("%s to a resolved label; use EmitLoop for backward jumps", op))
		return
	}
	pc := b.Emit(op, append(operands, 0)...)
	if b.err == nil {
		label.refs = append(label.refs, pc+op.Size()-2)
	}
}

// Mark resolves label to the current position, patching every jump to it.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		b.fail(fmt.Errorf("label already resolved"))
		return
	}
	label.resolved = true
	target := len(b.code)
	for _, ref := range label.refs {
		offset := target - (ref + 2) // from the end of the jump
		if offset > OperandWide.Max() {
			b.fail(fmt.Errorf("jump of %d bytes is too large", offset))
			return
		}
		b.code[ref] = byte(offset)
		b.code[ref+1] = byte(offset >> 8)
	}
	label.refs = nil
}

// EmitLoop emits a backward jump to target.
func (b *Builder) EmitLoop(target int) {
	offset := len(b.code) + OpLoop.Size() - target
	if offset > OperandWide.Max() {
		b.fail(fmt.Errorf("loop of %d bytes is too large", offset))
		return
	}
	b.Emit(OpLoop, offset)
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
