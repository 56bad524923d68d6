// Package styleopt compiles, validates, lowers and minifies stylesheets.
//
// Stages, each a possible failure point:
//  1. preprocessed input is compiled to CSS (CompileFailed with span)
//  2. the CSS is checked for structural errors (ParseFailed with span)
//  3. syntax is lowered and vendor-prefixed for the browser target set
//  4. the result is minified, staying CSS2-compatible for legacy targets
package styleopt

import (
	"bytes"
	"fmt"
	"path"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"

	"github.com/fpang/asset-pipeline/internal/asset"
)

const mediaTypeCSS = "text/css"

// Optimizer runs the stylesheet stages. It is safe for concurrent use as
// long as its Compiler is.
type Optimizer struct {
	Compiler Compiler
}

// New returns an Optimizer using compiler for preprocessed sources. A nil
// compiler makes every preprocessed input fail with CompileFailed.
func New(compiler Compiler) *Optimizer {
	return &Optimizer{Compiler: compiler}
}

// Optimize processes one stylesheet. name is used for diagnostics and to
// pick the indented Sass syntax for .sass files.
func (o *Optimizer) Optimize(name string, source []byte, preprocessed bool, opts asset.StyleOptions) (*asset.Output, error) {
	src := source
	if preprocessed {
		if o.Compiler == nil {
			return nil, &asset.Error{Kind: asset.ErrCompileFailed, Err: fmt.Errorf("no stylesheet preprocessor configured")}
		}
		compiled, err := o.Compiler.Compile(source, CompileOptions{
			IncludePaths: opts.IncludePaths,
			Indented:     path.Ext(name) == ".sass",
		})
		if err != nil {
			return nil, asset.AsError(err, asset.ErrCompileFailed)
		}
		log.Debug().
			Str("name", name).
			Int("source_size", len(source)).
			Int("compiled_size", len(compiled)).
			Msg("Compiled preprocessed stylesheet")
		src = compiled
	}

	if err := validate(src); err != nil {
		return nil, err
	}

	targets := ParseTargets(opts.Targets)
	if len(targets.Engines) > 0 {
		lowered, err := lower(name, src, targets)
		if err != nil {
			return nil, err
		}
		src = lowered
	}

	if opts.Minify {
		minified, err := minifyCSS(src, targets.Legacy)
		if err != nil {
			return nil, err
		}
		src = minified
	}

	log.Debug().
		Str("name", name).
		Int("input_size", len(source)).
		Int("output_size", len(src)).
		Int("engines", len(targets.Engines)).
		Bool("minify", opts.Minify).
		Msg("Stylesheet optimization complete")

	return &asset.Output{
		Data:      src,
		Format:    "css",
		MediaType: mediaTypeCSS,
		Optimized: !bytes.Equal(src, source),
	}, nil
}

// lower runs esbuild's CSS transform so that syntax the targets lack (for
// example nesting) is rewritten and required vendor prefixes are added.
func lower(name string, src []byte, targets Targets) ([]byte, error) {
	res := api.Transform(string(src), api.TransformOptions{
		Loader:     api.LoaderCSS,
		Engines:    targets.Engines,
		Sourcefile: name,
		LogLevel:   api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return nil, messageError(asset.ErrParseFailed, res.Errors[0])
	}
	return res.Code, nil
}

func minifyCSS(src []byte, legacy bool) ([]byte, error) {
	m := minify.New()
	m.Add(mediaTypeCSS, &css.Minifier{KeepCSS2: legacy})
	out, err := m.Bytes(mediaTypeCSS, src)
	if err != nil {
		return nil, &asset.Error{Kind: asset.ErrParseFailed, Err: fmt.Errorf("minify: %w", err)}
	}
	return out, nil
}

// messageError converts an esbuild diagnostic into an *asset.Error.
func messageError(kind asset.ErrorKind, msg api.Message) *asset.Error {
	ae := &asset.Error{Kind: kind, Err: fmt.Errorf("%s", msg.Text)}
	if msg.Location != nil {
		ae.Span = &asset.Span{Line: msg.Location.Line, Column: msg.Location.Column + 1}
	}
	return ae
}
