// Package scriptopt parses, resolves, bundles and minifies JavaScript
// modules with esbuild.
//
// Stages:
//  1. parse the entry module (ParseFailed with span)
//  2. resolve imports relative to the resolution root (ResolutionFailed
//     naming the specifier)
//  3. bundle every reachable module exactly once
//  4. tree-shake and optionally minify/mangle
//  5. emit a single output; any failure emits nothing
package scriptopt

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/fpang/asset-pipeline/internal/asset"
)

const (
	mediaTypeJS = "text/javascript"
	stdinModule = "<stdin>"
)

// unresolvedImport matches esbuild's resolution diagnostic.
var unresolvedImport = regexp.MustCompile(`^Could not resolve "([^"]+)"`)

// Optimizer bundles script modules. The zero value is ready to use.
type Optimizer struct {
	// Target is the language level of emitted code. Zero means ES2020.
	Target api.Target
}

// New returns an Optimizer emitting ES2020.
func New() *Optimizer {
	return &Optimizer{Target: api.ES2020}
}

// Optimize bundles the module in source, named name, resolving its imports
// against opts.Root.
func (o *Optimizer) Optimize(name string, source []byte, opts asset.ScriptOptions) (*asset.Output, error) {
	loader := loaderFor(name)

	// Stage 1: parse alone so syntax errors are reported against the entry
	// module before any resolution happens.
	parsed := api.Transform(string(source), api.TransformOptions{
		Loader:     loader,
		Sourcefile: name,
		LogLevel:   api.LogLevelSilent,
	})
	if len(parsed.Errors) > 0 {
		return nil, messageError(asset.ErrParseFailed, parsed.Errors[0])
	}

	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &asset.Error{Kind: asset.ErrIOFailure, Err: fmt.Errorf("resolve root %q: %w", root, err)}
	}

	target := o.Target
	if target == api.DefaultTarget {
		target = api.ES2020
	}

	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   string(source),
			ResolveDir: absRoot,
			Sourcefile: name,
			Loader:     loader,
		},
		AbsWorkingDir:     absRoot,
		Bundle:            true,
		Write:             false,
		Metafile:          true,
		Format:            api.FormatESModule,
		Platform:          api.PlatformBrowser,
		Target:            target,
		TreeShaking:       api.TreeShakingTrue,
		MinifyWhitespace:  opts.Minify,
		MinifySyntax:      opts.Minify,
		MinifyIdentifiers: opts.Mangle,
		LegalComments:     api.LegalCommentsNone,
		Charset:           api.CharsetUTF8,
		LogLevel:          api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		return nil, buildError(result.Errors)
	}
	if len(result.OutputFiles) != 1 {
		return nil, &asset.Error{Kind: asset.ErrParseFailed,
			Err: fmt.Errorf("bundler produced %d outputs, want 1", len(result.OutputFiles))}
	}

	modules, err := bundledModules(result.Metafile, name)
	if err != nil {
		log.Warn().Err(err).Str("name", name).Msg("Could not read bundle metafile")
	}

	out := result.OutputFiles[0].Contents

	log.Debug().
		Str("name", name).
		Str("root", absRoot).
		Int("modules", len(modules)).
		Int("input_size", len(source)).
		Int("output_size", len(out)).
		Bool("minify", opts.Minify).
		Bool("mangle", opts.Mangle).
		Msg("Script bundle complete")

	return &asset.Output{
		Data:      out,
		Format:    "js",
		MediaType: mediaTypeJS,
		Optimized: true,
		Modules:   modules,
	}, nil
}

// buildError picks the most specific diagnostic: an unresolved import wins
// over anything else so callers can report the missing specifier.
func buildError(msgs []api.Message) *asset.Error {
	for _, m := range msgs {
		if match := unresolvedImport.FindStringSubmatch(m.Text); match != nil {
			ae := messageError(asset.ErrResolutionFailed, m)
			ae.Specifier = match[1]
			return ae
		}
	}
	return messageError(asset.ErrParseFailed, msgs[0])
}

func messageError(kind asset.ErrorKind, msg api.Message) *asset.Error {
	ae := &asset.Error{Kind: kind, Err: fmt.Errorf("%s", msg.Text)}
	if msg.Location != nil {
		ae.Span = &asset.Span{Line: msg.Location.Line, Column: msg.Location.Column + 1}
	}
	return ae
}

type metafile struct {
	Inputs map[string]json.RawMessage `json:"inputs"`
}

// bundledModules lists the files esbuild pulled into the bundle, relative
// to the resolution root and sorted. Each module appears once no matter how
// many modules import it.
func bundledModules(meta, entry string) ([]string, error) {
	if meta == "" {
		return nil, nil
	}
	var mf metafile
	if err := json.Unmarshal([]byte(meta), &mf); err != nil {
		return nil, fmt.Errorf("parse metafile: %w", err)
	}
	modules := make([]string, 0, len(mf.Inputs))
	for path := range mf.Inputs {
		if path == entry || strings.HasPrefix(path, stdinModule) {
			continue
		}
		modules = append(modules, filepath.ToSlash(path))
	}
	sort.Strings(modules)
	return modules, nil
}

func loaderFor(name string) api.Loader {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}
