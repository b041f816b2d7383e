package compiler

import (
	"errors"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/eira/vm"
)

var log = commonlog.GetLogger("eira.compiler")

// StageError is implemented by the errors of every pipeline stage.
type StageError interface {
	error
	Stage() string
}

// Option configures Compile and Check.
type Option func(*options)

type options struct {
	importer Importer
	fileName string
}

// WithImporter sets the resolver for channel statements.
func WithImporter(importer Importer) Option {
	return func(o *options) {
		o.importer = importer
	}
}

// WithFileName names the source in log output.
func WithFileName(name string) Option {
	return func(o *options) {
		o.fileName = name
	}
}

func newOptions(opts []Option) *options {
	o := &options{fileName: "<input>"}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Compile runs the whole pipeline over src: lex, parse, weave analysis and
// code generation. The first error of any stage is returned unchanged.
func Compile(src string, opts ...Option) (*vm.Program, error) {
	o := newOptions(opts)
	start := time.Now()

	prog, an, err := analyze(src, o)
	if err != nil {
		return nil, err
	}
	out, err := Generate(prog, an)
	if err != nil {
		return nil, err
	}
	log.Debugf("compiled %s: %d chunks, %d schemas, %d globals in %s",
		o.fileName, len(out.Chunks), len(out.Schemas), out.Globals, time.Since(start))
	return out, nil
}

// Check runs the front end over src without generating code.
func Check(src string, opts ...Option) error {
	_, _, err := analyze(src, newOptions(opts))
	return err
}

func analyze(src string, o *options) (*Program, *Analysis, error) {
	start := time.Now()
	prog, err := Parse(src)
	if err != nil {
		return nil, nil, err
	}
	log.Debugf("parsed %s: %d statements in %s", o.fileName, len(prog.Stmts), time.Since(start))

	an, err := NewAnalyzer(o.importer).Analyze(prog)
	if err != nil {
		return nil, nil, err
	}
	log.Debugf("analyzed %s: %d spells, %d schemas", o.fileName, len(an.Spells), len(an.Schemas))
	return prog, an, nil
}

// ErrorPosition returns the source position carried by a stage error.
func ErrorPosition(err error) (Position, bool) {
	var (
		lexErr   *LexError
		parseErr *ParseError
		weaveErr *WeaveError
		genErr   *GenError
	)
	switch {
	case errors.As(err, &lexErr):
		return lexErr.Pos, true
	case errors.As(err, &parseErr):
		return parseErr.Pos, true
	case errors.As(err, &weaveErr):
		return weaveErr.Pos, true
	case errors.As(err, &genErr):
		return genErr.Pos, true
	}
	return Position{}, false
}

// ErrorMessage returns the message of a stage error without its position.
func ErrorMessage(err error) string {
	var (
		lexErr   *LexError
		parseErr *ParseError
		weaveErr *WeaveError
		genErr   *GenError
	)
	switch {
	case errors.As(err, &lexErr):
		return lexErr.Msg
	case errors.As(err, &parseErr):
		return parseErr.Msg
	case errors.As(err, &weaveErr):
		return weaveErr.Msg
	case errors.As(err, &genErr):
		return genErr.Msg
	}
	return err.Error()
}
