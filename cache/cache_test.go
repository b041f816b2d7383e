package cache

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/eira/compiler"
	"github.com/chazu/eira/vm"
)

func openCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "nested", "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := openCache(t)
	src := "spell twice(n: NumWeave) :: NumWeave { release n * 2; }\ntwice(21)"

	if _, err := c.Get(src, nil); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get on empty cache: err = %v, want ErrMiss", err)
	}

	prog, err := compiler.Compile(src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if err := c.Put(src, prog, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Storing again replaces the row.
	if err := c.Put(src, prog, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n, err := c.Len(); err != nil || n != 1 {
		t.Errorf("Len = %d, %v; want 1", n, err)
	}

	cached, err := c.Get(src, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cached.Disassemble() != prog.Disassemble() {
		t.Errorf("cached program differs:\n%s\nwant:\n%s", cached.Disassemble(), prog.Disassemble())
	}
	v, err := vm.NewInterpreter(cached).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.Int() != 42 {
		t.Errorf("result = %s, want 42", v)
	}

	if _, err := c.Get(src+" ", nil); !errors.Is(err, ErrMiss) {
		t.Errorf("Get of different source: err = %v, want ErrMiss", err)
	}
}

func TestGetDropsUnreadableImage(t *testing.T) {
	c := openCache(t)
	src := "1 + 2"
	if _, err := c.db.Exec("INSERT INTO programs (key, image, created) VALUES (?, ?, ?)",
		Key(src), []byte("not an image"), time.Now().Unix()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := c.Get(src, nil); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get: err = %v, want ErrMiss", err)
	}
	if n, _ := c.Len(); n != 0 {
		t.Errorf("unreadable image kept: %d rows", n)
	}

	// Same for an unreadable unit list in front of a good image.
	prog, err := compiler.Compile(src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	data, err := vm.MarshalImage(prog)
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}
	if _, err := c.db.Exec("INSERT INTO programs (key, image, units, created) VALUES (?, ?, ?, ?)",
		Key(src), data, []byte{0xff, 0x00}, time.Now().Unix()); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := c.Get(src, nil); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get with bad units: err = %v, want ErrMiss", err)
	}
	if n, _ := c.Len(); n != 0 {
		t.Errorf("row with unreadable units kept: %d rows", n)
	}
}

func TestGetChecksChanneledUnits(t *testing.T) {
	c := openCache(t)
	units := compiler.MapImporter{"std::math": "spell k() :: NumWeave { release 1; }"}
	src := "channel std::math;\nk()"

	tracker := Track(units)
	prog, err := compiler.Compile(src, compiler.WithImporter(tracker))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	recorded := tracker.Units()
	if len(recorded) != 1 || len(recorded[0].Path) != 2 || recorded[0].Path[1] != "math" {
		t.Fatalf("Units = %+v, want std::math", recorded)
	}
	if err := c.Put(src, prog, recorded); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := c.Get(src, units); err != nil {
		t.Fatalf("Get with unchanged units: %v", err)
	}

	tests := []struct {
		name     string
		importer compiler.Importer
	}{
		{"edited unit", compiler.MapImporter{"std::math": "spell k() :: NumWeave { release 2; }"}},
		{"removed unit", compiler.MapImporter{}},
		{"no importer", nil},
	}
	for _, tc := range tests {
		if _, err := c.Get(src, tc.importer); !errors.Is(err, ErrMiss) {
			t.Errorf("%s: err = %v, want ErrMiss", tc.name, err)
		}
	}
}

func TestTrackerWithoutImporter(t *testing.T) {
	tracker := Track(nil)
	if _, err := tracker.Import([]string{"std", "math"}); err == nil {
		t.Error("Import without an importer succeeded")
	}
	if len(tracker.Units()) != 0 {
		t.Errorf("failed import was recorded: %+v", tracker.Units())
	}
}

func TestOpenRebuildsOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE programs (key TEXT PRIMARY KEY, image BLOB NOT NULL, created INTEGER NOT NULL)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Exec("INSERT INTO programs VALUES ('k', x'00', 0)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	db.Close()

	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	if n, err := c.Len(); err != nil || n != 0 {
		t.Errorf("Len = %d, %v; want an empty rebuilt table", n, err)
	}
	prog, err := compiler.Compile("1")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if err := c.Put("1", prog, nil); err != nil {
		t.Fatalf("Put after rebuild: %v", err)
	}
}

func TestPrune(t *testing.T) {
	c := openCache(t)
	prog, err := compiler.Compile("1")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if err := c.Put("1", prog, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := c.db.Exec("UPDATE programs SET created = ?", time.Now().Add(-48*time.Hour).Unix()); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.Put("2", prog, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	removed, err := c.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune removed %d, want 1", removed)
	}
	if _, err := c.Get("2", nil); err != nil {
		t.Errorf("recent program pruned: %v", err)
	}
}

func TestKey(t *testing.T) {
	if Key("a") == Key("b") {
		t.Error("different sources share a key")
	}
	if Key("a") != Key("a") {
		t.Error("key is not stable")
	}
	if len(Key("")) != 64 {
		t.Errorf("key length = %d, want 64", len(Key("")))
	}
}
