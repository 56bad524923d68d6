package styleopt

import (
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/fpang/asset-pipeline/internal/asset"
)

type fakeCompiler struct {
	out  []byte
	err  error
	seen CompileOptions
}

func (f *fakeCompiler) Compile(source []byte, opts CompileOptions) ([]byte, error) {
	f.seen = opts
	return f.out, f.err
}

func TestOptimizeMinifiesSimpleRule(t *testing.T) {
	tests := []struct {
		name    string
		targets []string
	}{
		{name: "no targets"},
		{name: "modern targets", targets: []string{"chrome 120", "firefox 121", "safari 17"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := New(nil).Optimize("site.css", []byte("body { color: red; }"), false,
				asset.StyleOptions{Minify: true, Targets: tt.targets})
			if err != nil {
				t.Fatalf("Optimize() error = %v", err)
			}
			if got := string(out.Data); got != "body{color:red}" {
				t.Errorf("output = %q, want %q", got, "body{color:red}")
			}
			if out.Format != "css" || out.MediaType != "text/css" {
				t.Errorf("format = (%q, %q), want (css, text/css)", out.Format, out.MediaType)
			}
			if !out.Optimized {
				t.Error("Optimized = false, want true")
			}
		})
	}
}

func TestOptimizeIsDeterministic(t *testing.T) {
	src := []byte(".card {\n  margin: 0px 0px 0px 0px;\n  color: #ff0000;\n}\n")
	opts := asset.StyleOptions{Minify: true, Targets: []string{"chrome 100"}}
	a, err := New(nil).Optimize("a.css", src, false, opts)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	b, err := New(nil).Optimize("a.css", src, false, opts)
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if string(a.Data) != string(b.Data) {
		t.Errorf("outputs differ: %q vs %q", a.Data, b.Data)
	}
}

func TestOptimizeLowersNestingForOldTargets(t *testing.T) {
	src := []byte(".a { .b { color: red } }")
	out, err := New(nil).Optimize("nest.css", src, false,
		asset.StyleOptions{Minify: true, Targets: []string{"chrome 100"}})
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if !strings.Contains(string(out.Data), ".a .b{color:red}") {
		t.Errorf("output = %q, want nested rule lowered", out.Data)
	}
}

func TestOptimizeWithoutMinify(t *testing.T) {
	src := []byte("a { color: blue; }\n")
	out, err := New(nil).Optimize("plain.css", src, false, asset.StyleOptions{})
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if string(out.Data) != string(src) {
		t.Errorf("output = %q, want source unchanged", out.Data)
	}
	if out.Optimized {
		t.Error("Optimized = true for untouched source")
	}
}

func TestOptimizeParseFailures(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantLine int
	}{
		{name: "unclosed block", src: "body {\n  color: red;\n", wantLine: 1},
		{name: "stray closer", src: "body {\n  color: red;\n}\n}\n", wantLine: 4},
		{name: "mismatched bracket", src: "a {\n  b: calc(1px + 2px];\n}\n", wantLine: 2},
		{name: "unterminated string", src: "a {\n  content: \"oops\n}\n", wantLine: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil).Optimize("bad.css", []byte(tt.src), false, asset.StyleOptions{Minify: true})
			var ae *asset.Error
			if !errors.As(err, &ae) {
				t.Fatalf("Optimize() error = %v, want *asset.Error", err)
			}
			if ae.Kind != asset.ErrParseFailed {
				t.Errorf("Kind = %v, want ParseFailed", ae.Kind)
			}
			if ae.Span == nil {
				t.Fatal("Span = nil, want a location")
			}
			if ae.Span.Line != tt.wantLine {
				t.Errorf("Span.Line = %d, want %d", ae.Span.Line, tt.wantLine)
			}
			if ae.Span.Column < 1 {
				t.Errorf("Span.Column = %d, want >= 1", ae.Span.Column)
			}
		})
	}
}

func TestOptimizePreprocessedUsesCompiler(t *testing.T) {
	fc := &fakeCompiler{out: []byte(".nav a {\n  color: green;\n}\n")}
	out, err := New(fc).Optimize("nav.scss", []byte(".nav { a { color: $green; } }"), true,
		asset.StyleOptions{Minify: true, IncludePaths: []string{"styles/partials"}})
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if got := string(out.Data); got != ".nav a{color:green}" {
		t.Errorf("output = %q, want %q", got, ".nav a{color:green}")
	}
	if len(fc.seen.IncludePaths) != 1 || fc.seen.IncludePaths[0] != "styles/partials" {
		t.Errorf("include paths = %v, want [styles/partials]", fc.seen.IncludePaths)
	}
	if fc.seen.Indented {
		t.Error("Indented = true for .scss source")
	}
}

func TestOptimizeCompileFailure(t *testing.T) {
	fc := &fakeCompiler{err: &asset.Error{
		Kind: asset.ErrCompileFailed,
		Span: &asset.Span{Line: 3, Column: 12},
		Err:  errors.New("Undefined variable."),
	}}
	_, err := New(fc).Optimize("theme.sass", []byte("a\n  color: $nope"), true, asset.StyleOptions{})
	var ae *asset.Error
	if !errors.As(err, &ae) || ae.Kind != asset.ErrCompileFailed {
		t.Fatalf("Optimize() error = %v, want CompileFailed", err)
	}
	if ae.Span == nil || ae.Span.Line != 3 {
		t.Errorf("Span = %v, want line 3", ae.Span)
	}
	if !fc.seen.Indented {
		t.Error("Indented = false for .sass source")
	}

	_, err = New(nil).Optimize("x.scss", []byte("a{}"), true, asset.StyleOptions{})
	if !errors.As(err, &ae) || ae.Kind != asset.ErrCompileFailed {
		t.Errorf("Optimize() without compiler error = %v, want CompileFailed", err)
	}
}

func TestSassCompilerIntegration(t *testing.T) {
	bin, err := exec.LookPath("sass")
	if err != nil {
		t.Skip("dart-sass not installed")
	}
	c := NewSassCompiler(bin)
	defer c.Close()

	out, err := New(c).Optimize("vars.scss", []byte("$c: red;\nbody { color: $c; }\n"), true,
		asset.StyleOptions{Minify: true})
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if got := string(out.Data); got != "body{color:red}" {
		t.Errorf("output = %q, want body{color:red}", got)
	}

	_, err = New(c).Optimize("broken.scss", []byte("body {\n  color: $missing;\n}\n"), true, asset.StyleOptions{})
	var ae *asset.Error
	if !errors.As(err, &ae) || ae.Kind != asset.ErrCompileFailed {
		t.Fatalf("Optimize() error = %v, want CompileFailed", err)
	}
}

func TestSassCompilerCloseBeforeUse(t *testing.T) {
	c := NewSassCompiler("/nonexistent/dart-sass")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Compile([]byte("a{}"), CompileOptions{})
		}()
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	wg.Wait()

	_, err := c.Compile([]byte("a{}"), CompileOptions{})
	var ae *asset.Error
	if !errors.As(err, &ae) || ae.Kind != asset.ErrCompileFailed {
		t.Fatalf("Compile() after Close error = %v, want CompileFailed", err)
	}
	if !errors.Is(err, errCompilerClosed) {
		t.Errorf("Compile() after Close error = %v, want errCompilerClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestParseTargets(t *testing.T) {
	got := ParseTargets([]string{"Chrome 100", "chrome 90", "ios_saf 15.2-15.4", "ie 11", "bogus 1", "malformed"})
	if !got.Legacy {
		t.Error("Legacy = false with ie in targets")
	}
	want := map[api.EngineName]string{
		api.EngineChrome: "90",
		api.EngineIOS:    "15.2",
		api.EngineIE:     "11",
	}
	if len(got.Engines) != len(want) {
		t.Fatalf("Engines = %v, want %d entries", got.Engines, len(want))
	}
	for _, e := range got.Engines {
		if want[e.Name] != e.Version {
			t.Errorf("engine %v version = %q, want %q", e.Name, e.Version, want[e.Name])
		}
	}
	for i := 1; i < len(got.Engines); i++ {
		if got.Engines[i-1].Name > got.Engines[i].Name {
			t.Error("Engines not sorted")
		}
	}

	if ParseTargets([]string{"chrome 120"}).Legacy {
		t.Error("Legacy = true for modern-only targets")
	}
}

func TestVersionLess(t *testing.T) {
	if !versionLess("9", "10") || !versionLess("15.2", "15.10") || versionLess("16", "16.0") {
		t.Error("versionLess ordering wrong")
	}
}
