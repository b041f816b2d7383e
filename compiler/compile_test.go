package compiler

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/eira/vm"
)

// run compiles and executes src, returning the released value and the
// chanted output.
func run(t *testing.T, src string, opts ...Option) (vm.Value, string) {
	t.Helper()
	prog, err := Compile(src, opts...)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if err := prog.Verify(); err != nil {
		t.Fatalf("Verify: %v\n%s", err, prog.Disassemble())
	}
	var out bytes.Buffer
	result, err := vm.NewInterpreter(prog, vm.WithOutput(&out)).Run()
	if err != nil {
		t.Fatalf("Run: %v\n%s", err, prog.Disassemble())
	}
	return result, out.String()
}

func TestCompileAndRunResults(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"addition", "1 + 2", "3"},
		{"precedence", "2 + 3 * 4 - 10 / 5", "12"},
		{"modulo and negation", "-(17 % 5)", "-2"},
		{"concatenation", `"ab" & "cd"`, "abcd"},
		{"comparison", "3 >= 3 && 2 != 3", "true"},
		{"text equality", `"a" == "b"`, "false"},
		{"or short circuit", "false || true", "true"},
		{"seal folding", "seal a = 6; seal b = a * 7; b", "42"},
		{"globals", "mark x = 1; x = x + 41; x", "42"},
		{"empty program", "", "unit"},
		{"statement program", "mark x = 1;", "unit"},
		{"struct field round-trip", "sign Magic { type: NumWeave } mark m = cast Magic { type: 5 }; m.type", "5"},
		{"field assignment", "sign Magic { power: NumWeave } mark m = cast Magic { power: 1 }; m.power = m.power + 9; m.power", "10"},
		{"nested signs", `sign Rune { glyph: TextWeave } sign Scroll { rune: Rune } cast Scroll { rune: cast Rune { glyph: "ansuz" } }.rune.glyph`, "ansuz"},
		{"static recursion", "spell fib(n: NumWeave) :: NumWeave { fate n < 2 { release n; } release fib(n - 1) + fib(n - 2); } fib(15)", "610"},
		{"cast with", "spell add(a: NumWeave, b: NumWeave) :: NumWeave { release a + b; } cast add with 40, 2", "42"},
		{"spell value", "spell one() :: NumWeave { release 1; } bind g = one; g() + g()", "2"},
		{"unit spell falls off its end", "spell noop() { mark x = 1; } noop()", "unit"},
		{"bare release", "spell early() { release; } early()", "unit"},
		{"tome seal in member default", "tome T { seal k = 4; seal j = k + 1; mark x = k * j; } cast T {}.x", "20"},
		{"tome seal shadows global", "mark k = 100; tome T { seal k = 4; mark x = k * 2; } cast T {}.x", "8"},
		{"tome default casts another tome", "tome A { mark v = 3; } tome B { mark a = cast A {}; } cast B {}.a.v", "3"},
		{"sign printing", "sign P { x: NumWeave, y: TextWeave } cast P { y: \"b\", x: 1 }", "P { x: 1, y: b }"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, _ := run(t, tc.src)
			if got := result.String(); got != tc.want {
				t.Errorf("result = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCompileAndRunOutput(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			"shadowing",
			`mark x = 1; { mark x = 10; chant x; { mark x = "deep"; chant x; } chant x; } chant x;`,
			"10\ndeep\n10\n1\n",
		},
		{
			"zero values",
			"mark n: NumWeave; mark t: TextWeave; mark b: TruthWeave; chant n; chant t; chant b;",
			"0\n\nfalse\n",
		},
		{
			"fate and divert",
			`spell classify(n: NumWeave) :: TextWeave {
				fate n < 0 { release "negative"; }
				divert fate n == 0 { release "zero"; }
				divert { release "positive"; }
			}
			chant classify(-3); chant classify(0); chant classify(8);`,
			"negative\nzero\npositive\n",
		},
		{
			"while with sever and flow",
			`mark i = 0; mark sum = 0;
			while true {
				i = i + 1;
				fate i > 10 { sever; }
				fate i % 2 == 1 { flow; }
				sum = sum + i;
			}
			chant sum; chant i;`,
			"30\n11\n",
		},
		{
			"short circuit skips the right side",
			`spell boom() :: TruthWeave { chant "boom"; release true; }
			chant false && boom(); chant true || boom(); chant true && boom();`,
			"false\ntrue\nboom\ntrue\n",
		},
		{
			"field order independence",
			`sign P { x: NumWeave, y: NumWeave, z: NumWeave }
			mark p = cast P { z: 3, x: 1, y: 2 };
			mark q = cast P { y: 20, z: 30, x: 10 };
			chant p.x; chant p.y; chant p.z; chant q.x; chant q.y; chant q.z;`,
			"1\n2\n3\n10\n20\n30\n",
		},
		{
			"cast evaluates fields in source order",
			`spell say(t: TextWeave, n: NumWeave) :: NumWeave { chant t; release n; }
			sign P { x: NumWeave, y: NumWeave }
			chant cast P { y: say("y", 2), x: say("x", 1) };`,
			"y\nx\nP { x: 1, y: 2 }\n",
		},
		{
			"attuned spells",
			`sign Magic { power: NumWeave }
			attune Magic {
				spell doubled() :: NumWeave { release self.power * 2; }
				spell boost(n: NumWeave) { self.power = self.power + n; }
			}
			mark m = cast Magic { power: 4 };
			chant m.doubled(); m.boost(3); chant m.power;`,
			"8\n7\n",
		},
		{
			"tomes",
			`tome Account {
				forge mark balance: NumWeave = 0;
				secret mark pin: NumWeave = 1234;
				seal bank: TextWeave = "Eira";
				spell deposit(n: NumWeave) { self.balance = self.balance + n; }
				spell check(p: NumWeave) :: TruthWeave { release p == self.pin; }
			}
			mark a = cast Account {};
			a.deposit(50); a.deposit(25);
			chant a.balance; chant a.bank; chant a.check(1234); chant a.check(1);
			chant cast Account { balance: 9 }.balance;`,
			"75\nEira\ntrue\nfalse\n9\n",
		},
		{
			"closure over a local",
			`spell counter() :: NumWeave {
				mark n = 0;
				spell bump() { n = n + 1; }
				bump(); bump(); bump();
				release n;
			}
			chant counter(); chant counter();`,
			"3\n3\n",
		},
		{
			"closure through two levels",
			`spell outer() :: NumWeave {
				mark n = 10;
				spell middle() :: NumWeave {
					spell inner() :: NumWeave { n = n + 1; release n; }
					inner();
					release inner();
				}
				mark r = middle();
				release r + n;
			}
			chant outer();`,
			"24\n",
		},
		{
			"recursive closure",
			`spell run() :: NumWeave {
				spell fact(n: NumWeave) :: NumWeave {
					fate n < 2 { release 1; }
					release n * fact(n - 1);
				}
				release fact(5);
			}
			chant run();`,
			"120\n",
		},
		{
			"captured parameter",
			`spell scale(k: NumWeave) :: NumWeave {
				spell by(v: NumWeave) :: NumWeave { release v * k; }
				release by(7);
			}
			chant scale(6);`,
			"42\n",
		},
		{
			"closure in an entry block",
			`{ mark k = 2; spell twice(v: NumWeave) :: NumWeave { release v * k; } chant twice(21); }`,
			"42\n",
		},
		{
			"closures in a loop get fresh cells",
			`mark total = 0; mark i = 0;
			while i < 3 {
				i = i + 1;
				mark local = i * 10;
				spell read() :: NumWeave { release local; }
				total = total + read();
			}
			chant total;`,
			"60\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, out := run(t, tc.src)
			if out != tc.want {
				t.Errorf("output = %q, want %q", out, tc.want)
			}
		})
	}
}

func TestCompileChannel(t *testing.T) {
	units := MapImporter{
		"std::math": "spell square(n: NumWeave) :: NumWeave { release n * n; } seal two = 2; mark calls = 0;",
	}
	result, _ := run(t, "channel std::math; channel std::math; calls = calls + 1; square(7) + two + calls", WithImporter(units))
	if result.Int() != 52 {
		t.Errorf("result = %s, want 52", result)
	}
}

func TestCompileStageErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		stage string
	}{
		{"lex", `chant "open`, "lex"},
		{"parse", "chant 1", "parse"},
		{"missing release", "spell f() :: NumWeave { chant 1; }", "parse"},
		{"seal reassignment", "seal x = 0; x = 1;", "weave"},
		{"strand", `"a" * "b"`, "weave"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.src)
			var serr StageError
			if !errors.As(err, &serr) {
				t.Fatalf("Compile(%q) error = %v, want a StageError", tc.src, err)
			}
			if serr.Stage() != tc.stage {
				t.Errorf("Stage() = %q, want %q (%v)", serr.Stage(), tc.stage, err)
			}
			if err := Check(tc.src); err == nil {
				t.Errorf("Check(%q) accepted an invalid program", tc.src)
			}
		})
	}
}

func TestErrorPositionAndMessage(t *testing.T) {
	err := Check("mark x = 1;\nseal y = 2;\n  y = x;")
	pos, ok := ErrorPosition(err)
	if !ok {
		t.Fatalf("ErrorPosition(%v) found no position", err)
	}
	if pos.Line != 3 || pos.Column != 3 {
		t.Errorf("position = %s, want 3:3", pos)
	}
	if msg := ErrorMessage(err); !strings.HasPrefix(msg, "cannot assign to seal y") {
		t.Errorf("ErrorMessage = %q", msg)
	}

	plain := errors.New("disk on fire")
	if _, ok := ErrorPosition(plain); ok {
		t.Error("plain error has a position")
	}
	if ErrorMessage(plain) != "disk on fire" {
		t.Errorf("ErrorMessage(plain) = %q", ErrorMessage(plain))
	}
}

func TestCompileRegisterOverflow(t *testing.T) {
	depth := 200
	src := strings.Repeat("1 + (", depth) + "1" + strings.Repeat(")", depth)
	_, err := Compile(src)
	var gerr *GenError
	if !errors.As(err, &gerr) {
		t.Fatalf("error = %v, want *GenError", err)
	}
	if !strings.Contains(gerr.Msg, "registers") {
		t.Errorf("Msg = %q", gerr.Msg)
	}
}

func TestCompileRuntimeFault(t *testing.T) {
	prog, err := Compile("mark z = 0;\nmark q = 1;\nq / z")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	_, err = vm.NewInterpreter(prog).Run()
	var rerr *vm.RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *vm.RuntimeError", err)
	}
	if rerr.Line != 3 {
		t.Errorf("Line = %d, want 3", rerr.Line)
	}
}

func TestCompileChunkLayout(t *testing.T) {
	prog, err := Compile(`spell add(a: NumWeave, b: NumWeave) :: NumWeave { release a + b; }
sign Magic { power: NumWeave, name: TextWeave }
mark g = add(1, 2);`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(prog.Chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(prog.Chunks))
	}
	if prog.Entry != 0 || prog.Chunks[0].Name != "<entry>" {
		t.Errorf("entry = %d (%s)", prog.Entry, prog.Chunks[0].Name)
	}
	add := prog.Chunks[1]
	if add.Name != "add" || add.Arity != 2 {
		t.Errorf("add chunk = %s/%d", add.Name, add.Arity)
	}
	if prog.Globals != 1 {
		t.Errorf("globals = %d, want 1", prog.Globals)
	}
	if len(prog.Schemas) != 1 || strings.Join(prog.Schemas[0].Fields, ",") != "power,name" {
		t.Errorf("schemas = %+v", prog.Schemas)
	}

	// Every chunk ends by releasing unit.
	for _, c := range prog.Chunks {
		n := len(c.Code)
		if n < 4 || vm.Opcode(c.Code[n-4]) != vm.OpUnit || vm.Opcode(c.Code[n-2]) != vm.OpRelease {
			t.Errorf("chunk %s does not end in UNIT; RELEASE:\n%s", c.Name, vm.DisassembleChunk(c))
		}
	}
}

func TestCompileImageRoundTrip(t *testing.T) {
	prog, err := Compile(`sign P { x: NumWeave } spell f(n: NumWeave) :: NumWeave { release n * 2; } chant cast P { x: f(21) }.x;`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	data, err := vm.MarshalImage(prog)
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}
	loaded, err := vm.UnmarshalImage(data)
	if err != nil {
		t.Fatalf("UnmarshalImage: %v", err)
	}
	var out bytes.Buffer
	if _, err := vm.NewInterpreter(loaded, vm.WithOutput(&out)).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q, want 42", out.String())
	}
}
