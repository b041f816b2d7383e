// Package manifest handles eira.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/eira/vm"
)

// FileName is the name of the project configuration file.
const FileName = "eira.toml"

// Manifest represents an eira.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	Source  Source      `toml:"source"`
	VM      VMConfig    `toml:"vm"`
	Cache   CacheConfig `toml:"cache"`
	Log     LogConfig   `toml:"log"`

	// Dir is the directory containing the eira.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"`
}

// Source configures the directories searched by channel statements.
type Source struct {
	Dirs []string `toml:"dirs"`
}

// VMConfig sets interpreter limits.
type VMConfig struct {
	Registers int  `toml:"registers"`
	Frames    int  `toml:"frames"`
	Trace     bool `toml:"trace"`
}

// CacheConfig configures the compiled-program cache.
type CacheConfig struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no eira.toml exists, rooted
// at dir.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses an eira.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if m.VM.Registers < 0 || m.VM.Frames < 0 {
		return nil, fmt.Errorf("%s: vm limits must not be negative", path)
	}

	m.applyDefaults()
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Project.Entry == "" {
		m.Project.Entry = "main.eira"
	}
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.VM.Registers == 0 {
		m.VM.Registers = vm.DefaultRegisterStack
	}
	if m.VM.Frames == 0 {
		m.VM.Frames = vm.DefaultMaxFrames
	}
	if m.Cache.Enabled == nil {
		enabled := true
		m.Cache.Enabled = &enabled
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".eira", "cache.db")
	}
}

// FindAndLoad walks up from startDir to find an eira.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// EntryPath returns the path of the program run when no file is named.
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Project.Entry)
}

// CachePath returns the path of the cache database.
func (m *Manifest) CachePath() string {
	return m.resolve(m.Cache.Path)
}

// CacheEnabled reports whether compiled programs are cached.
func (m *Manifest) CacheEnabled() bool {
	return m.Cache.Enabled == nil || *m.Cache.Enabled
}

// LogPath returns the log file, or nil to log to stderr.
func (m *Manifest) LogPath() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.resolve(m.Log.File)
	return &path
}

// VMOptions returns the interpreter options for the configured limits.
func (m *Manifest) VMOptions() []vm.Option {
	return []vm.Option{
		vm.WithRegisterStack(m.VM.Registers),
		vm.WithMaxFrames(m.VM.Frames),
		vm.WithTrace(m.VM.Trace),
	}
}

func (m *Manifest) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.Dir, path)
}
