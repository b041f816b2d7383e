package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func sampleProgram(t *testing.T) *Program {
	t.Helper()
	double := assemble(t, "double", 1, 2, func(b *Builder, c *Chunk) {
		b.SetLine(2)
		b.Emit(OpAdd, 1, 0, 0)
		b.Emit(OpRelease, 1)
	})
	main := assemble(t, "main", 0, 4, func(b *Builder, c *Chunk) {
		b.SetLine(1)
		b.Emit(OpConstant, 0, c.AddConstant(Constant{Int: 21}))
		b.Emit(OpCall, 1, 1, 0, 1)
		b.SetLine(3)
		b.Emit(OpConstant, 2, c.AddConstant(Constant{Text: "done", IsText: true}))
		b.Emit(OpChant, 2)
		b.Emit(OpNewSign, 3, 0, 0)
		b.Emit(OpRelease, 1)
	})
	return &Program{
		Chunks:  []*Chunk{main, double},
		Schemas: []*Schema{{Name: "Magic", Fields: []string{"power"}}},
		Globals: 1,
	}
}

func TestImageRoundTrip(t *testing.T) {
	prog := sampleProgram(t)
	data, err := MarshalImage(prog)
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}

	again, err := MarshalImage(prog)
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Errorf("encoding is not deterministic")
	}

	loaded, err := UnmarshalImage(data)
	if err != nil {
		t.Fatalf("UnmarshalImage: %v", err)
	}
	if loaded.Disassemble() != prog.Disassemble() {
		t.Errorf("disassembly changed:\n%s\nwant:\n%s", loaded.Disassemble(), prog.Disassemble())
	}
	if loaded.Globals != 1 || loaded.Entry != 0 {
		t.Errorf("globals %d, entry %d", loaded.Globals, loaded.Entry)
	}

	var out bytes.Buffer
	v, err := NewInterpreter(loaded, WithOutput(&out)).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.Int() != 42 || out.String() != "done\n" {
		t.Errorf("result %s, output %q", v, out.String())
	}
}

func TestUnmarshalImageRejects(t *testing.T) {
	encode := func(img image) []byte {
		data, err := imageEncMode.Marshal(img)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return data
	}
	broken := sampleProgram(t)
	broken.Chunks[1].RegisterCount = 1

	tests := []struct {
		name string
		data []byte
		msg  string
	}{
		{"garbage", []byte{0xff, 0x00, 0x13}, ""},
		{"wrong magic", encode(image{Magic: "ELF!", Version: ImageVersion, Program: sampleProgram(t)}), "magic"},
		{"wrong version", encode(image{Magic: ImageMagic, Version: ImageVersion + 1, Program: sampleProgram(t)}), "version"},
		{"missing program", encode(image{Magic: ImageMagic, Version: ImageVersion}), "no program"},
		{"fails verification", encode(image{Magic: ImageMagic, Version: ImageVersion, Program: broken}), "outside window"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := UnmarshalImage(tc.data)
			if !errors.Is(err, ErrBadImage) {
				t.Fatalf("error = %v, want ErrBadImage", err)
			}
			if !strings.Contains(err.Error(), tc.msg) {
				t.Errorf("error = %v, want it to mention %q", err, tc.msg)
			}
		})
	}
}

func TestMarshalNilProgram(t *testing.T) {
	if _, err := MarshalImage(nil); err == nil {
		t.Errorf("nil program marshaled")
	}
}

func TestVerify(t *testing.T) {
	if err := sampleProgram(t).Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(p *Program)
	}{
		{"no chunks", func(p *Program) { p.Chunks = nil }},
		{"entry out of range", func(p *Program) { p.Entry = 5 }},
		{"nil chunk", func(p *Program) { p.Chunks[1] = nil }},
		{"constant index", func(p *Program) { p.Chunks[0].Constants = p.Chunks[0].Constants[:1] }},
		{"chunk index", func(p *Program) { p.Chunks = p.Chunks[:1] }},
		{"schema index", func(p *Program) { p.Schemas = nil }},
		{"arity above registers", func(p *Program) { p.Chunks[1].Arity = 3 }},
		{"truncated code", func(p *Program) { p.Chunks[0].Code = p.Chunks[0].Code[:5] }},
	}
	for _, tc := range tests {
		p := sampleProgram(t)
		tc.mutate(p)
		if err := p.Verify(); !errors.Is(err, ErrInvalidProgram) {
			t.Errorf("%s: Verify = %v, want ErrInvalidProgram", tc.name, err)
		}
	}
}
