package styleopt

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bep/godartsass/v2"
	"github.com/rs/zerolog/log"

	"github.com/fpang/asset-pipeline/internal/asset"
)

// CompileOptions configures one preprocessor invocation.
type CompileOptions struct {
	IncludePaths []string
	// Indented selects the indented (.sass) syntax instead of SCSS.
	Indented bool
}

// Compiler turns preprocessed stylesheet source into plain CSS. Failures
// should be *asset.Error values of kind CompileFailed.
type Compiler interface {
	Compile(source []byte, opts CompileOptions) ([]byte, error)
}

// errCompilerClosed is returned by Compile after Close.
var errCompilerClosed = errors.New("dart-sass compiler is closed")

// SassCompiler compiles SCSS through an embedded dart-sass process. The
// process is started on first use and shared by all callers; Close stops it.
type SassCompiler struct {
	// Binary is the dart-sass executable. Empty means "sass" on PATH.
	Binary string

	mu         sync.Mutex
	started    bool
	closed     bool
	transpiler *godartsass.Transpiler
	startErr   error
}

// NewSassCompiler returns a compiler for the given dart-sass binary.
func NewSassCompiler(binary string) *SassCompiler {
	return &SassCompiler{Binary: binary}
}

func (c *SassCompiler) start() (*godartsass.Transpiler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errCompilerClosed
	}
	if !c.started {
		c.started = true
		log.Debug().Str("binary", c.Binary).Msg("Starting dart-sass transpiler")
		c.transpiler, c.startErr = godartsass.Start(godartsass.Options{
			DartSassEmbeddedFilename: c.Binary,
		})
	}
	return c.transpiler, c.startErr
}

// Compile implements Compiler.
func (c *SassCompiler) Compile(source []byte, opts CompileOptions) ([]byte, error) {
	t, err := c.start()
	if err != nil {
		return nil, &asset.Error{Kind: asset.ErrCompileFailed, Err: fmt.Errorf("start dart-sass: %w", err)}
	}

	syntax := godartsass.SourceSyntaxSCSS
	if opts.Indented {
		syntax = godartsass.SourceSyntaxSASS
	}

	res, err := t.Execute(godartsass.Args{
		Source:       string(source),
		OutputStyle:  godartsass.OutputStyleExpanded,
		SourceSyntax: syntax,
		IncludePaths: opts.IncludePaths,
	})
	if err != nil {
		ae := &asset.Error{Kind: asset.ErrCompileFailed, Err: err}
		var sassErr godartsass.SassError
		if errors.As(err, &sassErr) {
			span := spanAt(source, sassErr.Span.Start.Offset)
			ae.Span = &span
			ae.Err = errors.New(sassErr.Message)
		}
		return nil, ae
	}
	return []byte(res.CSS), nil
}

// Close stops the dart-sass process if it was started. Compile fails once
// Close has been called.
func (c *SassCompiler) Close() error {
	c.mu.Lock()
	t := c.transpiler
	c.closed = true
	c.transpiler = nil
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Close()
}
