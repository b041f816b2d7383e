package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/eira/compiler"
)

// UnitExt is the file extension of source units.
const UnitExt = ".eira"

// UnitFile maps a channel path to a file path relative to a source
// directory: std::math -> std/math.eira.
func UnitFile(path []string) (string, error) {
	if len(path) == 0 {
		return "", fmt.Errorf("empty unit path")
	}
	for _, seg := range path {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) {
			return "", fmt.Errorf("invalid unit path segment %q in %s", seg, strings.Join(path, "::"))
		}
	}
	return filepath.Join(path...) + UnitExt, nil
}

// Importer returns a resolver for channel statements that reads units from
// the source directories, first match wins.
func (m *Manifest) Importer() compiler.Importer {
	dirs := m.SourceDirPaths()
	return compiler.ImporterFunc(func(path []string) (string, error) {
		rel, err := UnitFile(path)
		if err != nil {
			return "", err
		}
		for _, dir := range dirs {
			data, err := os.ReadFile(filepath.Join(dir, rel))
			if err == nil {
				return string(data), nil
			}
			if !errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("cannot read unit %s: %w", strings.Join(path, "::"), err)
			}
		}
		return "", fmt.Errorf("unit %s not found in %s", strings.Join(path, "::"), strings.Join(m.Source.Dirs, ", "))
	})
}
