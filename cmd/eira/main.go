// Eira CLI - compiles and runs Eira programs
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/eira/manifest"
	"github.com/chazu/eira/server"
)

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string   { return fmt.Sprint(int(*v)) }
func (v *verbosity) Set(string) error { *v++; return nil }
func (v *verbosity) IsBoolFlag() bool { return true }

func main() {
	var verbose verbosity
	flag.Var(&verbose, "v", "Verbose output (repeat for more)")
	trace := flag.Bool("trace", false, "Log every executed instruction")
	disasm := flag.Bool("disasm", false, "Print the disassembled program instead of running it")
	check := flag.Bool("check", false, "Only check the program for errors")
	output := flag.String("o", "", "Write the compiled program image to `file` instead of running it")
	image := flag.String("image", "", "Run a compiled program image from `file`")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	noCache := flag.Bool("no-cache", false, "Do not read or write the program cache")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: eira [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles and runs an Eira program. Without a file, runs the entry\n")
		fmt.Fprintf(os.Stderr, "named in eira.toml, or main.eira.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  eira hello.eira               # Compile and run\n")
		fmt.Fprintf(os.Stderr, "  eira -disasm hello.eira       # Show the bytecode\n")
		fmt.Fprintf(os.Stderr, "  eira -o hello.eirc hello.eira # Write an image\n")
		fmt.Fprintf(os.Stderr, "  eira -image hello.eirc        # Run an image\n")
		fmt.Fprintf(os.Stderr, "  eira -lsp                     # Language server\n")
	}
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default(wd)
	}

	level := m.Log.Verbosity + int(verbose)
	if *trace {
		m.VM.Trace = true
		if level < 2 {
			level = 2
		}
	}
	commonlog.Configure(level, m.LogPath())

	if *lspMode {
		if err := server.NewLSP(m.Importer()).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := &config{
		manifest: m,
		file:     flag.Arg(0),
		image:    *image,
		output:   *output,
		check:    *check,
		disasm:   *disasm,
		useCache: !*noCache && m.CacheEnabled(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		color:    colorEnabled(os.Stderr),
	}
	os.Exit(cfg.run())
}
