// Package cache stores compiled programs in SQLite, keyed by the source
// text they were compiled from. Each row also records the channeled units
// the program was built with; a row whose units changed is a miss.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/eira/compiler"
	"github.com/chazu/eira/vm"
)

var log = commonlog.GetLogger("eira.cache")

// ErrMiss indicates no program is cached for the source.
var ErrMiss = errors.New("cache miss")

// schemaVersion is stored in PRAGMA user_version. Older databases are
// rebuilt, which only costs a recompile.
const schemaVersion = 2

// Cache handles SQLite storage for program images.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Debugf("opened %s", path)
	return &Cache{db: db, path: path}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version != schemaVersion {
		if _, err := db.Exec("DROP TABLE IF EXISTS programs"); err != nil {
			return fmt.Errorf("dropping old table: %w", err)
		}
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		key TEXT PRIMARY KEY,
		image BLOB NOT NULL,
		units BLOB,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating table: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("setting schema version: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Key returns the cache key of src: the SHA-256 of the source text and the
// image version, so a new instruction set never loads stale images.
func Key(src string) string {
	h := sha256.New()
	h.Write([]byte(vm.ImageMagic))
	h.Write([]byte(strconv.Itoa(vm.ImageVersion)))
	h.Write([]byte{0})
	h.Write([]byte(src))
	return hex.EncodeToString(h.Sum(nil))
}

func sum(src string) string {
	h := sha256.Sum256([]byte(src))
	return hex.EncodeToString(h[:])
}

// ---------------------------------------------------------------------------
// Channeled units
// ---------------------------------------------------------------------------

// Unit is a channeled source a cached program was compiled with.
type Unit struct {
	Path []string `cbor:"1,keyasint"`
	Sum  string   `cbor:"2,keyasint"`
}

// Tracker is an importer that records every unit it resolves.
type Tracker struct {
	importer compiler.Importer
	units    []Unit
}

// Track wraps importer, which may be nil.
func Track(importer compiler.Importer) *Tracker {
	return &Tracker{importer: importer}
}

// Import resolves path through the wrapped importer and records the unit.
func (t *Tracker) Import(path []string) (string, error) {
	if t.importer == nil {
		return "", errors.New("no importer configured")
	}
	src, err := t.importer.Import(path)
	if err != nil {
		return "", err
	}
	t.units = append(t.units, Unit{Path: append([]string(nil), path...), Sum: sum(src)})
	return src, nil
}

// Units returns the units resolved so far, in resolution order.
func (t *Tracker) Units() []Unit {
	return t.units
}

// current reports whether every unit still resolves to the source it was
// recorded with.
func current(units []Unit, importer compiler.Importer) bool {
	for _, u := range units {
		if importer == nil {
			return false
		}
		src, err := importer.Import(u.Path)
		if err != nil || sum(src) != u.Sum {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

// Get returns the program cached for src, or ErrMiss. importer resolves the
// units the program channeled; if any of them changed the entry is a miss.
// A stored image that no longer verifies is removed and reported as a miss.
func (c *Cache) Get(src string, importer compiler.Importer) (*vm.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(src)
	var data, unitData []byte
	err := c.db.QueryRow("SELECT image, units FROM programs WHERE key = ?", key).Scan(&data, &unitData)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("miss %s", key[:12])
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}

	var units []Unit
	if len(unitData) > 0 {
		if err := cbor.Unmarshal(unitData, &units); err != nil {
			return nil, c.drop(key, err)
		}
	}
	if !current(units, importer) {
		log.Debugf("stale %s: channeled units changed", key[:12])
		return nil, ErrMiss
	}

	prog, err := vm.UnmarshalImage(data)
	if err != nil {
		return nil, c.drop(key, err)
	}
	log.Debugf("hit %s", key[:12])
	return prog, nil
}

// drop deletes an unreadable row and reports the lookup as a miss.
func (c *Cache) drop(key string, cause error) error {
	log.Warningf("dropping unreadable image %s: %s", key[:12], cause)
	if _, err := c.db.Exec("DELETE FROM programs WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	return ErrMiss
}

// Put stores prog as the compiled form of src, built with the given
// channeled units.
func (c *Cache) Put(src string, prog *vm.Program, units []Unit) error {
	data, err := vm.MarshalImage(prog)
	if err != nil {
		return fmt.Errorf("encoding program: %w", err)
	}
	unitData, err := cbor.Marshal(units)
	if err != nil {
		return fmt.Errorf("encoding units: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO programs (key, image, units, created) VALUES (?, ?, ?, ?)",
		Key(src), data, unitData, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

// Len returns the number of cached programs.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return n, nil
}

// Prune removes programs cached before the given time and returns how many
// were removed.
func (c *Cache) Prune(before time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM programs WHERE created < ?", before.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning programs: %w", err)
	}
	return res.RowsAffected()
}
