package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("eira.vm")

// Default resource limits.
const (
	DefaultRegisterStack = 4096
	DefaultMaxFrames     = 256
)

// RuntimeError aborts a running program: a register or field index out of
// bounds, an unexpected value tag, or exhausted resources.
type RuntimeError struct {
	Msg   string
	Chunk string
	PC    int
	Line  int
}

func (e *RuntimeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s (in %s at pc %d)", e.Line, e.Msg, e.Chunk, e.PC)
	}
	return fmt.Sprintf("%s (in %s at pc %d)", e.Msg, e.Chunk, e.PC)
}

// Stage names the pipeline stage that produced the error.
func (e *RuntimeError) Stage() string { return "runtime" }

// ---------------------------------------------------------------------------
// CallFrame
// ---------------------------------------------------------------------------

// CallFrame is the execution state of one spell invocation. Its registers
// are the window Base .. Base+Chunk.RegisterCount of the shared register
// stack.
type CallFrame struct {
	Chunk   *Chunk
	Closure *Closure
	PC      int
	Base    int
	Dest    int // absolute caller register receiving the result; -1 for the entry frame
}

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithOutput sets the writer chant writes to. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(in *Interpreter) { in.out = w }
}

// WithRegisterStack sets the size of the shared register stack.
func WithRegisterStack(n int) Option {
	return func(in *Interpreter) {
		if n > 0 {
			in.stackSize = n
		}
	}
}

// WithMaxFrames sets the maximum call depth.
func WithMaxFrames(n int) Option {
	return func(in *Interpreter) {
		if n > 0 {
			in.maxFrames = n
		}
	}
}

// WithTrace logs every executed instruction at debug level.
func WithTrace(on bool) Option {
	return func(in *Interpreter) { in.trace = on }
}

// Interpreter executes a Program over a register stack and a call-frame
// stack. It is single-threaded and owns all values it creates.
type Interpreter struct {
	prog      *Program
	registers []Value
	globals   []Value
	frames    []CallFrame

	out       io.Writer
	stackSize int
	maxFrames int
	trace     bool
}

// NewInterpreter creates an interpreter for prog.
func NewInterpreter(prog *Program, opts ...Option) *Interpreter {
	in := &Interpreter{
		prog:      prog,
		out:       os.Stdout,
		stackSize: DefaultRegisterStack,
		maxFrames: DefaultMaxFrames,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Run executes the program from its entry chunk until the entry frame
// releases, HALT executes, or a RuntimeError aborts it. The returned value
// holds one reference owned by the caller.
func (in *Interpreter) Run() (Value, error) {
	if in.prog == nil || in.prog.Entry < 0 || in.prog.Entry >= len(in.prog.Chunks) {
		return Unit, &RuntimeError{Msg: "program has no entry chunk", Chunk: "<none>"}
	}
	entry := in.prog.Chunks[in.prog.Entry]

	// The frame stack never grows past its capacity, so frame pointers stay
	// valid while calls push new frames.
	in.registers = make([]Value, in.stackSize)
	in.globals = make([]Value, in.prog.Globals)
	in.frames = make([]CallFrame, 0, in.maxFrames)
	defer in.teardown()

	if entry.RegisterCount > len(in.registers) {
		return Unit, &RuntimeError{Msg: "register stack overflow", Chunk: entry.Name}
	}
	in.frames = append(in.frames, CallFrame{Chunk: entry, Dest: -1})
	log.Debugf("running %s with %d chunks", entry.Name, len(in.prog.Chunks))
	return in.execute()
}

// teardown releases everything still held by registers and globals.
func (in *Interpreter) teardown() {
	for i := range in.registers {
		in.registers[i].Release()
		in.registers[i] = Unit
	}
	for i := range in.globals {
		in.globals[i].Release()
		in.globals[i] = Unit
	}
	in.frames = in.frames[:0]
}

func (in *Interpreter) fault(f *CallFrame, pc int, format string, args ...interface{}) error {
	return &RuntimeError{
		Msg:   fmt.Sprintf(format, args...),
		Chunk: f.Chunk.Name,
		PC:    pc,
		Line:  f.Chunk.LineFor(pc),
	}
}

// set stores v in slot, retaining it and releasing the previous value.
func set(slot *Value, v Value) {
	v.Retain()
	old := *slot
	*slot = v
	old.Release()
}

func (in *Interpreter) execute() (Value, error) {
	var ops [MaxOperands]int
	for {
		f := &in.frames[len(in.frames)-1]
		code := f.Chunk.Code

		if f.PC >= len(code) {
			// Falling off the end of a chunk releases unit.
			if done, result := in.ret(Unit); done {
				return result, nil
			}
			continue
		}

		pc := f.PC
		d, err := decodeInto(code, pc, &ops)
		if err != nil {
			return Unit, in.fault(f, pc, "%v", err)
		}
		for i, o := range d.Operands {
			if o.Kind == OperandReg && ops[i] >= f.Chunk.RegisterCount {
				return Unit, in.fault(f, pc, "%s: register r%d outside frame window of %d registers",
					d.Name, ops[i], f.Chunk.RegisterCount)
			}
		}
		if in.trace {
			ins := Instruction{Op: d.Op, Operands: ops[:len(d.Operands)]}
			log.Debugf("%-12s %04d  %s", f.Chunk.Name, pc, ins)
		}
		f.PC = pc + d.Size
		r := in.registers[f.Base : f.Base+f.Chunk.RegisterCount]

		switch d.Op {
		case OpNop:

		case OpHalt:
			return Unit, nil

		case OpConstant:
			if ops[1] >= len(f.Chunk.Constants) {
				return Unit, in.fault(f, pc, "constant %d outside pool of %d", ops[1], len(f.Chunk.Constants))
			}
			set(&r[ops[0]], f.Chunk.Constants[ops[1]].Value())

		case OpTrue:
			set(&r[ops[0]], TruthValue(true))

		case OpFalse:
			set(&r[ops[0]], TruthValue(false))

		case OpUnit:
			set(&r[ops[0]], Unit)

		case OpMove:
			set(&r[ops[0]], r[ops[1]])

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
			a, b := r[ops[1]], r[ops[2]]
			if a.kind != KindInt || b.kind != KindInt {
				return Unit, in.fault(f, pc, "%s expects int operands, got %s and %s", d.Name, a.kind, b.kind)
			}
			v, err := arith(d.Op, a.n, b.n)
			if err != nil {
				return Unit, in.fault(f, pc, "%v", err)
			}
			set(&r[ops[0]], v)

		case OpNegate:
			a := r[ops[1]]
			if a.kind != KindInt {
				return Unit, in.fault(f, pc, "NEGATE expects an int operand, got %s", a.kind)
			}
			set(&r[ops[0]], IntValue(-a.n))

		case OpConcat:
			a, b := r[ops[1]], r[ops[2]]
			if a.kind != KindText || b.kind != KindText {
				return Unit, in.fault(f, pc, "CONCAT expects text operands, got %s and %s", a.kind, b.kind)
			}
			set(&r[ops[0]], TextValue(a.s+b.s))

		case OpEqual:
			set(&r[ops[0]], TruthValue(r[ops[1]].Equal(r[ops[2]])))

		case OpNotEqual:
			set(&r[ops[0]], TruthValue(!r[ops[1]].Equal(r[ops[2]])))

		case OpNot:
			a := r[ops[1]]
			if a.kind != KindTruth {
				return Unit, in.fault(f, pc, "NOT expects a truth operand, got %s", a.kind)
			}
			set(&r[ops[0]], TruthValue(!a.Truth()))

		case OpGetGlobal:
			if ops[1] >= len(in.globals) {
				return Unit, in.fault(f, pc, "global slot %d outside %d globals", ops[1], len(in.globals))
			}
			set(&r[ops[0]], in.globals[ops[1]])

		case OpSetGlobal:
			if ops[1] >= len(in.globals) {
				return Unit, in.fault(f, pc, "global slot %d outside %d globals", ops[1], len(in.globals))
			}
			set(&in.globals[ops[1]], r[ops[0]])

		case OpJump:
			f.PC += ops[0]
			if f.PC > len(code) {
				return Unit, in.fault(f, pc, "jump target %d past end of code", f.PC)
			}

		case OpJumpIfFalse:
			cond := r[ops[0]]
			if cond.kind != KindTruth {
				return Unit, in.fault(f, pc, "JUMP_IF_FALSE expects a truth condition, got %s", cond.kind)
			}
			if !cond.Truth() {
				f.PC += ops[1]
				if f.PC > len(code) {
					return Unit, in.fault(f, pc, "jump target %d past end of code", f.PC)
				}
			}

		case OpLoop:
			f.PC -= ops[0]
			if f.PC < 0 {
				return Unit, in.fault(f, pc, "loop target %d before start of code", f.PC)
			}

		case OpCall:
			if ops[1] >= len(in.prog.Chunks) {
				return Unit, in.fault(f, pc, "chunk %d outside %d chunks", ops[1], len(in.prog.Chunks))
			}
			if err := in.call(f, pc, ops[0], in.prog.Chunks[ops[1]], nil, ops[2], ops[3]); err != nil {
				return Unit, err
			}

		case OpInvoke:
			callee := r[ops[1]]
			var chunk *Chunk
			var closure *Closure
			switch callee.kind {
			case KindSpell:
				if callee.SpellIndex() >= len(in.prog.Chunks) {
					return Unit, in.fault(f, pc, "chunk %d outside %d chunks", callee.SpellIndex(), len(in.prog.Chunks))
				}
				chunk = in.prog.Chunks[callee.SpellIndex()]
			case KindClosure:
				closure = callee.Closure()
				chunk = closure.Chunk
			default:
				return Unit, in.fault(f, pc, "INVOKE expects a spell, got %s", callee.kind)
			}
			if err := in.call(f, pc, ops[0], chunk, closure, ops[2], ops[3]); err != nil {
				return Unit, err
			}

		case OpRelease:
			if done, result := in.ret(r[ops[0]]); done {
				return result, nil
			}

		case OpNewSign:
			if ops[1] >= len(in.prog.Schemas) {
				return Unit, in.fault(f, pc, "schema %d outside %d schemas", ops[1], len(in.prog.Schemas))
			}
			schema := in.prog.Schemas[ops[1]]
			base, n := ops[2], len(schema.Fields)
			if base+n > len(r) {
				return Unit, in.fault(f, pc, "fields r%d..r%d of %s outside frame window of %d registers",
					base, base+n-1, schema.Name, len(r))
			}
			fields := make([]Value, n)
			for i := range fields {
				fields[i] = r[base+i]
				fields[i].Retain()
			}
			set(&r[ops[0]], NewSignInstance(schema, fields))

		case OpGetField:
			inst, err := in.field(f, pc, r[ops[1]], ops[2])
			if err != nil {
				return Unit, err
			}
			set(&r[ops[0]], inst.Fields[ops[2]])

		case OpSetField:
			inst, err := in.field(f, pc, r[ops[0]], ops[1])
			if err != nil {
				return Unit, err
			}
			set(&inst.Fields[ops[1]], r[ops[2]])

		case OpSpellRef:
			if ops[1] >= len(in.prog.Chunks) {
				return Unit, in.fault(f, pc, "chunk %d outside %d chunks", ops[1], len(in.prog.Chunks))
			}
			set(&r[ops[0]], SpellValue(ops[1], in.prog.Chunks[ops[1]]))

		case OpClosure:
			v, err := in.closure(f, pc, r, ops[1])
			if err != nil {
				return Unit, err
			}
			set(&r[ops[0]], v)

		case OpNewCell:
			set(&r[ops[0]], NewCell())

		case OpGetCell:
			cell := r[ops[1]].Cell()
			if cell == nil {
				return Unit, in.fault(f, pc, "GET_CELL expects a cell in r%d, got %s", ops[1], r[ops[1]].kind)
			}
			set(&r[ops[0]], cell.Value)

		case OpSetCell:
			cell := r[ops[0]].Cell()
			if cell == nil {
				return Unit, in.fault(f, pc, "SET_CELL expects a cell in r%d, got %s", ops[0], r[ops[0]].kind)
			}
			cell.Set(r[ops[1]])

		case OpGetCapture:
			cell, err := in.captured(f, pc, ops[1])
			if err != nil {
				return Unit, err
			}
			set(&r[ops[0]], cell.Value)

		case OpSetCapture:
			cell, err := in.captured(f, pc, ops[0])
			if err != nil {
				return Unit, err
			}
			cell.Set(r[ops[1]])

		case OpChant:
			if _, err := fmt.Fprintln(in.out, r[ops[0]].String()); err != nil {
				return Unit, in.fault(f, pc, "chant: %v", err)
			}

		default:
			return Unit, in.fault(f, pc, "unhandled opcode %s", d.Name)
		}
	}
}

func arith(op Opcode, a, b int64) (Value, error) {
	switch op {
	case OpAdd:
		return IntValue(a + b), nil
	case OpSub:
		return IntValue(a - b), nil
	case OpMul:
		return IntValue(a * b), nil
	case OpDiv, OpMod:
		if b == 0 {
			return Unit, fmt.Errorf("division by zero")
		}
		if op == OpDiv {
			return IntValue(a / b), nil
		}
		return IntValue(a % b), nil
	case OpGreater:
		return TruthValue(a > b), nil
	case OpGreaterEqual:
		return TruthValue(a >= b), nil
	case OpLess:
		return TruthValue(a < b), nil
	case OpLessEqual:
		return TruthValue(a <= b), nil
	}
	return Unit, fmt.Errorf("%s is not arithmetic", op)
}

// call pushes a frame for chunk. Arguments are copied from the caller's
// registers base..base+argc-1 into the callee's first registers; the callee
// window starts right after the caller's.
func (in *Interpreter) call(f *CallFrame, pc, dest int, chunk *Chunk, closure *Closure, base, argc int) error {
	if argc != chunk.Arity {
		return in.fault(f, pc, "%s expects %d arguments, got %d", chunk.Name, chunk.Arity, argc)
	}
	if base+argc > f.Chunk.RegisterCount {
		return in.fault(f, pc, "arguments r%d..r%d outside frame window of %d registers",
			base, base+argc-1, f.Chunk.RegisterCount)
	}
	if len(in.frames) >= in.maxFrames {
		return in.fault(f, pc, "call depth exceeds %d frames", in.maxFrames)
	}
	newBase := f.Base + f.Chunk.RegisterCount
	if newBase+chunk.RegisterCount > len(in.registers) {
		return in.fault(f, pc, "register stack overflow calling %s", chunk.Name)
	}
	for i := 0; i < argc; i++ {
		set(&in.registers[newBase+i], in.registers[f.Base+base+i])
	}
	if closure != nil {
		closure.retain()
	}
	in.frames = append(in.frames, CallFrame{
		Chunk:   chunk,
		Closure: closure,
		Base:    newBase,
		Dest:    f.Base + dest,
	})
	return nil
}

// ret pops the current frame, releasing its window, and delivers v to the
// caller. done is true when the entry frame released; result then holds a
// reference for the caller of Run.
func (in *Interpreter) ret(v Value) (done bool, result Value) {
	f := in.frames[len(in.frames)-1]
	v.Retain()
	for i := f.Base; i < f.Base+f.Chunk.RegisterCount; i++ {
		in.registers[i].Release()
		in.registers[i] = Unit
	}
	if f.Closure != nil {
		f.Closure.release()
	}
	in.frames = in.frames[:len(in.frames)-1]
	if len(in.frames) == 0 {
		return true, v
	}
	set(&in.registers[f.Dest], v)
	v.Release()
	return false, Unit
}

func (in *Interpreter) field(f *CallFrame, pc int, obj Value, index int) (*SignInstance, error) {
	inst := obj.Sign()
	if inst == nil {
		return nil, in.fault(f, pc, "field access expects a sign, got %s", obj.kind)
	}
	if index >= len(inst.Fields) {
		return nil, in.fault(f, pc, "field index %d outside schema %s of %d fields", index, inst.Schema.Name, len(inst.Fields))
	}
	return inst, nil
}

func (in *Interpreter) closure(f *CallFrame, pc int, r []Value, index int) (Value, error) {
	if index >= len(in.prog.Chunks) {
		return Unit, in.fault(f, pc, "chunk %d outside %d chunks", index, len(in.prog.Chunks))
	}
	chunk := in.prog.Chunks[index]
	cells := make([]*Cell, len(chunk.Captures))
	for i, c := range chunk.Captures {
		var cell *Cell
		if c.Local {
			if c.Index >= len(r) {
				return Unit, in.fault(f, pc, "capture %d of %s: register r%d outside frame window of %d registers",
					i, chunk.Name, c.Index, len(r))
			}
			cell = r[c.Index].Cell()
		} else if f.Closure != nil && c.Index < len(f.Closure.Cells) {
			cell = f.Closure.Cells[c.Index]
		}
		if cell == nil {
			for _, held := range cells[:i] {
				held.release()
			}
			return Unit, in.fault(f, pc, "capture %d of %s has no cell", i, chunk.Name)
		}
		cell.retain()
		cells[i] = cell
	}
	return NewClosure(index, chunk, cells), nil
}

func (in *Interpreter) captured(f *CallFrame, pc, index int) (*Cell, error) {
	if f.Closure == nil || index >= len(f.Closure.Cells) {
		return nil, in.fault(f, pc, "capture %d outside the closure of %s", index, f.Chunk.Name)
	}
	return f.Closure.Cells[index], nil
}
