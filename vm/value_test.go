package vm

import "testing"

func TestValueEqual(t *testing.T) {
	magic := &Schema{Name: "Magic", Fields: []string{"power"}}
	a := NewSignInstance(magic, []Value{IntValue(1)})
	b := NewSignInstance(magic, []Value{IntValue(1)})

	tests := []struct {
		name string
		x, y Value
		want bool
	}{
		{"equal ints", IntValue(3), IntValue(3), true},
		{"different ints", IntValue(3), IntValue(4), false},
		{"equal text", TextValue("rune"), TextValue("rune"), true},
		{"different text", TextValue("rune"), TextValue("runes"), false},
		{"truths", TruthValue(true), TruthValue(true), true},
		{"unit", Unit, Unit, true},
		{"int and truth", IntValue(1), TruthValue(true), false},
		{"unit and zero", Unit, IntValue(0), false},
		{"same sign", a, a, true},
		{"equal-looking signs", a, b, false},
		{"spells", SpellValue(2, nil), SpellValue(2, nil), true},
	}
	for _, tc := range tests {
		if got := tc.x.Equal(tc.y); got != tc.want {
			t.Errorf("%s: Equal = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestValueString(t *testing.T) {
	magic := &Schema{Name: "Magic", Fields: []string{"power", "name"}}
	f := &Chunk{Name: "f"}
	cell := NewCell()
	cell.Cell().Set(IntValue(7))

	tests := []struct {
		v    Value
		want string
	}{
		{IntValue(-12), "-12"},
		{TruthValue(false), "false"},
		{TextValue("plain"), "plain"},
		{Unit, "unit"},
		{NewSignInstance(magic, []Value{IntValue(5), TextValue("fire")}), "Magic { power: 5, name: fire }"},
		{NewClosure(1, f, nil), "<spell f>"},
		{SpellValue(1, f), "<spell f>"},
		{SpellValue(3, nil), "<spell #3>"},
		{NewClosure(2, nil, nil), "<spell>"},
		{cell, "<cell 7>"},
	}
	for _, tc := range tests {
		if got := tc.v.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestSignReleaseFreesFields(t *testing.T) {
	inner := NewSignInstance(&Schema{Name: "Rune"}, nil)
	inner.Retain()
	outer := NewSignInstance(&Schema{Name: "Magic", Fields: []string{"rune"}}, []Value{inner})
	outer.Retain()

	outer.Retain()
	outer.Release()
	if outer.Sign().Fields == nil {
		t.Fatalf("fields freed while a reference remained")
	}

	outer.Release()
	if outer.Sign().Refs() != 0 || outer.Sign().Fields != nil {
		t.Errorf("outer not freed: refs %d", outer.Sign().Refs())
	}
	if inner.Sign().Refs() != 0 {
		t.Errorf("inner refs = %d, want 0", inner.Sign().Refs())
	}
}

func TestCellSetAndRelease(t *testing.T) {
	held := NewSignInstance(&Schema{Name: "Rune"}, nil)
	v := NewCell()
	v.Retain()
	cell := v.Cell()

	cell.Set(held)
	if held.Sign().Refs() != 1 {
		t.Errorf("after Set refs = %d, want 1", held.Sign().Refs())
	}
	cell.Set(IntValue(1))
	if held.Sign().Refs() != 0 {
		t.Errorf("after overwrite refs = %d, want 0", held.Sign().Refs())
	}

	cell.Set(held)
	v.Release()
	if held.Sign().Refs() != 0 || cell.Value.Kind() != KindUnit {
		t.Errorf("release kept the cell's value alive")
	}
}

func TestClosureReleasesCells(t *testing.T) {
	cv := NewCell()
	cv.Retain()
	cell := cv.Cell()
	cell.Set(IntValue(3))

	cell.retain()
	clo := NewClosure(0, &Chunk{Name: "f"}, []*Cell{cell})
	clo.Retain()
	if cell.Refs() != 2 {
		t.Fatalf("cell refs = %d, want 2", cell.Refs())
	}

	clo.Release()
	if cell.Refs() != 1 || cell.Value.Int() != 3 {
		t.Errorf("closure release: cell refs %d, value %s", cell.Refs(), cell.Value)
	}
	cv.Release()
	if cell.Refs() != 0 || cell.Value.Kind() != KindUnit {
		t.Errorf("cell not freed")
	}
}

func TestKindString(t *testing.T) {
	if KindSign.String() != "sign" || KindCell.String() != "cell" {
		t.Errorf("kind names: %s %s", KindSign, KindCell)
	}
	if Kind(40).String() != "Kind(40)" {
		t.Errorf("unknown kind: %s", Kind(40))
	}
}
