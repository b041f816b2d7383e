package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"

	"github.com/chazu/eira/cache"
	"github.com/chazu/eira/compiler"
	"github.com/chazu/eira/manifest"
	"github.com/chazu/eira/vm"
)

var log = commonlog.GetLogger("eira")

// config is one invocation of the CLI.
type config struct {
	manifest *manifest.Manifest
	file     string // source file; empty for the manifest entry
	image    string // run this image instead of compiling
	output   string // write the image here instead of running
	check    bool
	disasm   bool
	useCache bool

	stdout io.Writer
	stderr io.Writer
	color  bool
}

// colorEnabled reports whether diagnostics written to f may use ANSI colors.
func colorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// run executes the invocation and returns the process exit status.
func (c *config) run() int {
	prog, err := c.load()
	if err != nil {
		c.report(err)
		return 1
	}
	if prog == nil {
		return 0
	}

	switch {
	case c.output != "":
		data, err := vm.MarshalImage(prog)
		if err != nil {
			c.report(err)
			return 1
		}
		if err := os.WriteFile(c.output, data, 0644); err != nil {
			c.report(fmt.Errorf("writing image: %w", err))
			return 1
		}
		log.Infof("wrote %s (%d bytes)", c.output, len(data))
		return 0

	case c.disasm:
		fmt.Fprint(c.stdout, prog.Disassemble())
		return 0
	}

	opts := append(c.manifest.VMOptions(), vm.WithOutput(c.stdout))
	result, err := vm.NewInterpreter(prog, opts...).Run()
	if err != nil {
		c.report(err)
		return 1
	}
	defer result.Release()
	if result.Kind() != vm.KindUnit {
		fmt.Fprintln(c.stdout, result.String())
	}
	return 0
}

// load returns the program to run: a stored image, a cached compilation,
// or a fresh one. It returns nil after a successful check.
func (c *config) load() (*vm.Program, error) {
	if c.image != "" {
		data, err := os.ReadFile(c.image)
		if err != nil {
			return nil, fmt.Errorf("reading image: %w", err)
		}
		return vm.UnmarshalImage(data)
	}

	path := c.file
	if path == "" {
		path = c.manifest.EntryPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	src := string(data)
	importer := c.manifest.Importer()
	tracker := cache.Track(importer)
	opts := []compiler.Option{
		compiler.WithImporter(tracker),
		compiler.WithFileName(filepath.Base(path)),
	}

	if c.check {
		return nil, compiler.Check(src, opts...)
	}

	var store *cache.Cache
	if c.useCache {
		store, err = cache.Open(c.manifest.CachePath())
		if err != nil {
			log.Warningf("cache disabled: %s", err)
		} else {
			defer store.Close()
			prog, err := store.Get(src, importer)
			if err == nil {
				return prog, nil
			}
			if !errors.Is(err, cache.ErrMiss) {
				log.Warningf("cache read: %s", err)
			}
		}
	}

	prog, err := compiler.Compile(src, opts...)
	if err != nil {
		return nil, err
	}
	if store != nil {
		if err := store.Put(src, prog, tracker.Units()); err != nil {
			log.Warningf("cache write: %s", err)
		}
	}
	return prog, nil
}

const (
	ansiRed   = "\x1b[31m"
	ansiBold  = "\x1b[1m"
	ansiReset = "\x1b[0m"
)

// report prints err as "<stage> error at line:col: msg".
func (c *config) report(err error) {
	fmt.Fprintln(c.stderr, c.format(err))
}

func (c *config) format(err error) string {
	var (
		stageErr   compiler.StageError
		runtimeErr *vm.RuntimeError
		head, body string
	)
	switch {
	case errors.As(err, &runtimeErr):
		head = "runtime error"
		if runtimeErr.Line > 0 {
			head += fmt.Sprintf(" at line %d", runtimeErr.Line)
		}
		body = fmt.Sprintf("%s (in %s)", runtimeErr.Msg, runtimeErr.Chunk)
	case errors.As(err, &stageErr):
		head = stageErr.Stage() + " error"
		if pos, ok := compiler.ErrorPosition(err); ok {
			head += " at " + pos.String()
		}
		body = compiler.ErrorMessage(err)
	default:
		head = "error"
		body = err.Error()
	}

	if c.color {
		return ansiBold + ansiRed + head + ":" + ansiReset + " " + body
	}
	return head + ": " + body
}
