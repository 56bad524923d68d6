package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fpang/asset-pipeline/internal/asset"
	"github.com/fpang/asset-pipeline/internal/cache"
	"github.com/fpang/asset-pipeline/internal/manifest"
	"github.com/fpang/asset-pipeline/internal/metrics"
	"github.com/fpang/asset-pipeline/internal/sink"
)

var corruptJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func styleDefaults() asset.OptimizationOptions {
	return asset.OptimizationOptions{Style: asset.StyleOptions{Minify: true}}
}

func newTestPipeline(t *testing.T, opts Options) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	if opts.Sink == nil {
		opts.Sink = sink.NewDir(dir)
	}
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, dir
}

// outputFiles lists regular files under dir, relative and sorted.
func outputFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
	sort.Strings(files)
	return files
}

func tinyGIF(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("gif encode: %v", err)
	}
	return buf.Bytes()
}

func TestRunIsolatesFailures(t *testing.T) {
	p, _ := newTestPipeline(t, Options{Defaults: styleDefaults()})
	m, errs, err := p.Run(context.Background(), []asset.Input{
		{Key: "css/site", Name: "site.css", Data: []byte("body { color: red; }")},
		{Key: "img/broken", Name: "broken.jpg", Data: corruptJPEG},
		{Key: "txt/readme", Name: "readme.txt", Data: []byte("hello")},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(m.Entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(m.Entries), m.Entries)
	}
	if _, ok := m.Lookup("img/broken"); ok {
		t.Error("failed asset has a manifest entry")
	}
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	if errs[0].Key != "img/broken" || errs[0].Kind != asset.ErrDecodeFailed {
		t.Errorf("error = %v, want DecodeFailed for img/broken", errs[0])
	}

	css, _ := m.Lookup("css/site")
	if !strings.HasSuffix(css.Path, ".css") || len(css.Path) != 64+len(".css") {
		t.Errorf("css path = %q, want <64 hex>.css", css.Path)
	}
	if css.Size != len("body{color:red}") || !css.Optimized {
		t.Errorf("css entry = %+v", css)
	}
}

func TestRunDeduplicatesIdenticalContent(t *testing.T) {
	p, dir := newTestPipeline(t, Options{})
	m, errs, err := p.Run(context.Background(), []asset.Input{
		{Key: "a", Name: "a.txt", Data: []byte("same bytes")},
		{Key: "b", Name: "b.txt", Data: []byte("same bytes")},
	})
	if err != nil || len(errs) != 0 {
		t.Fatalf("Run() = %v, %v", errs, err)
	}
	a, _ := m.Lookup("a")
	b, _ := m.Lookup("b")
	if a.Path != b.Path {
		t.Errorf("paths differ: %q vs %q", a.Path, b.Path)
	}
	if files := outputFiles(t, dir); len(files) != 1 || files[0] != a.Path {
		t.Errorf("files = %v, want only %s", files, a.Path)
	}
}

func TestRunManifestIsDeterministic(t *testing.T) {
	assets := []asset.Input{
		{Key: "z", Name: "z.css", Data: []byte(".z { margin: 0px; }")},
		{Key: "m", Name: "m.txt", Data: []byte("middle")},
		{Key: "a", Name: "a.css", Data: []byte(".a { color: blue; }")},
		{Key: "dup", Name: "dup.txt", Data: []byte("middle")},
	}
	reversed := make([]asset.Input, len(assets))
	for i := range assets {
		reversed[len(assets)-1-i] = assets[i]
	}

	var outputs [][]byte
	for _, tc := range []struct {
		workers int
		in      []asset.Input
	}{{1, assets}, {8, reversed}, {3, assets}} {
		p, _ := newTestPipeline(t, Options{Workers: tc.workers, Defaults: styleDefaults()})
		m, _, err := p.Run(context.Background(), tc.in)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		data, err := m.Marshal()
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		outputs = append(outputs, data)
	}
	for i := 1; i < len(outputs); i++ {
		if !bytes.Equal(outputs[0], outputs[i]) {
			t.Errorf("manifest %d differs:\n%s\n%s", i, outputs[0], outputs[i])
		}
	}
}

func TestRunRejectsDuplicateKeys(t *testing.T) {
	p, dir := newTestPipeline(t, Options{})
	_, _, err := p.Run(context.Background(), []asset.Input{
		{Key: "x", Name: "x.txt", Data: []byte("1")},
		{Key: "x", Name: "y.txt", Data: []byte("2")},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Run() error = %v, want ErrInvalidInput", err)
	}
	if files := outputFiles(t, dir); len(files) != 0 {
		t.Errorf("files written for rejected run: %v", files)
	}

	_, _, err = p.Run(context.Background(), []asset.Input{{Name: "nokey.txt"}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Run() with empty key error = %v, want ErrInvalidInput", err)
	}
}

func TestRunFallsBackToOriginalBytes(t *testing.T) {
	gifData := tinyGIF(t)
	p, dir := newTestPipeline(t, Options{})
	m, errs, err := p.Run(context.Background(), []asset.Input{
		{Key: "img/anim", Name: "anim.gif", Data: gifData},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(errs) != 1 || errs[0].Kind != asset.ErrUnsupportedFormat {
		t.Fatalf("errs = %v, want one UnsupportedFormat", errs)
	}
	e, ok := m.Lookup("img/anim")
	if !ok {
		t.Fatal("fallback asset missing from manifest")
	}
	if e.Optimized || !strings.HasSuffix(e.Path, ".gif") || e.Size != len(gifData) {
		t.Errorf("entry = %+v, want original gif bytes", e)
	}
	written, err := os.ReadFile(filepath.Join(dir, e.Path))
	if err != nil || !bytes.Equal(written, gifData) {
		t.Errorf("written file differs from original: %v", err)
	}
}

func TestRunKeepsSourceExtensionForSameFormat(t *testing.T) {
	tests := []struct {
		format, src, want string
	}{
		{"jpg", "jpeg", "jpeg"},
		{"jpg", "jpg", "jpg"},
		{"webp", "jpeg", "webp"},
		{"css", "scss", "css"},
		{"js", "ts", "js"},
		{"", "bin", "bin"},
		{"txt", "txt", "txt"},
	}
	for _, tt := range tests {
		if got := outputExt(tt.format, tt.src); got != tt.want {
			t.Errorf("outputExt(%q, %q) = %q, want %q", tt.format, tt.src, got, tt.want)
		}
	}
}

type countingStyles struct {
	calls atomic.Int32
}

func (c *countingStyles) Optimize(name string, source []byte, _ bool, _ asset.StyleOptions) (*asset.Output, error) {
	c.calls.Add(1)
	return &asset.Output{Data: bytes.ToUpper(source), Format: "css", MediaType: "text/css", Optimized: true}, nil
}

func TestRunUsesCache(t *testing.T) {
	styles := &countingStyles{}
	mem := cache.NewMemory()
	var emf bytes.Buffer
	p, _ := newTestPipeline(t, Options{
		Cache:             mem,
		Styles:            styles,
		Metrics:           &emf,
		MetricsDimensions: map[string]string{"Output": "dir"},
	})
	assets := []asset.Input{{Key: "s", Name: "s.css", Data: []byte("a{}")}}

	first, _, err := p.Run(context.Background(), assets)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	emf.Reset()
	second, _, err := p.Run(context.Background(), assets)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := styles.calls.Load(); n != 1 {
		t.Errorf("optimizer called %d times, want 1", n)
	}
	if mem.Len() != 1 {
		t.Errorf("cache has %d entries, want 1", mem.Len())
	}
	a, _ := first.Marshal()
	b, _ := second.Marshal()
	if !bytes.Equal(a, b) {
		t.Errorf("cached run manifest differs:\n%s\n%s", a, b)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(emf.Bytes(), &doc); err != nil {
		t.Fatalf("metrics line is not JSON: %v\n%s", err, emf.String())
	}
	if doc[metrics.CacheHits] != float64(1) || doc[metrics.AssetsTotal] != float64(1) {
		t.Errorf("metrics = %v, want one asset and one cache hit", doc)
	}
	if doc["Output"] != "dir" {
		t.Errorf("Output dimension = %v, want dir", doc["Output"])
	}
}

func TestRunScriptResolutionFailure(t *testing.T) {
	root := t.TempDir()
	p, dir := newTestPipeline(t, Options{
		Defaults: asset.OptimizationOptions{Script: asset.ScriptOptions{Root: root}},
	})
	m, errs, err := p.Run(context.Background(), []asset.Input{
		{Key: "js/app", Name: "app.js", Data: []byte("import { x } from \"./nope.js\";\nexport default x;\n")},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(m.Entries) != 0 {
		t.Errorf("entries = %+v, want none", m.Entries)
	}
	if len(errs) != 1 || errs[0].Kind != asset.ErrResolutionFailed || errs[0].Specifier != "./nope.js" {
		t.Fatalf("errs = %v, want ResolutionFailed naming ./nope.js", errs)
	}
	if files := outputFiles(t, dir); len(files) != 0 {
		t.Errorf("files written for failed script: %v", files)
	}
}

func TestRunScriptCacheTracksDependencies(t *testing.T) {
	root := t.TempDir()
	util := filepath.Join(root, "util.js")
	if err := os.WriteFile(util, []byte("export const n = 1;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, _ := newTestPipeline(t, Options{
		Cache:    cache.NewMemory(),
		Defaults: asset.OptimizationOptions{Script: asset.ScriptOptions{Root: root}},
	})
	assets := []asset.Input{{Key: "js/main", Name: "main.js", Data: []byte("import { n } from \"./util.js\";\nexport const v = n;\n")}}

	first, errs, err := p.Run(context.Background(), assets)
	if err != nil || len(errs) != 0 {
		t.Fatalf("Run() = %v, %v", errs, err)
	}
	if err := os.WriteFile(util, []byte("export const n = 2;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, errs, err := p.Run(context.Background(), assets)
	if err != nil || len(errs) != 0 {
		t.Fatalf("Run() = %v, %v", errs, err)
	}
	a, _ := first.Lookup("js/main")
	b, _ := second.Lookup("js/main")
	if a.Hash == b.Hash {
		t.Error("changed dependency did not change the bundle")
	}
}

type panickingImages struct{}

func (panickingImages) Optimize([]byte, asset.ImageOptions) (*asset.Output, error) {
	panic("codec exploded")
}

func TestRunRecoversOptimizerPanic(t *testing.T) {
	p, _ := newTestPipeline(t, Options{Images: panickingImages{}})
	m, errs, err := p.Run(context.Background(), []asset.Input{
		{Key: "img", Name: "x.png", Data: []byte("whatever")},
		{Key: "txt", Name: "x.txt", Data: []byte("fine")},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(errs) != 1 || errs[0].Key != "img" || errs[0].Kind != asset.ErrDecodeFailed {
		t.Fatalf("errs = %v, want DecodeFailed for img", errs)
	}
	if _, ok := m.Lookup("txt"); !ok || len(m.Entries) != 1 {
		t.Errorf("entries = %+v, want only txt", m.Entries)
	}
}

type failingSink struct {
	*sink.Dir
	suffix string
}

func (f failingSink) Write(ctx context.Context, path string, data []byte, mediaType string) error {
	if strings.HasSuffix(path, f.suffix) {
		return errors.New("disk full")
	}
	return f.Dir.Write(ctx, path, data, mediaType)
}

func TestRunSinkFailureIsPerAsset(t *testing.T) {
	fs := failingSink{Dir: sink.NewDir(t.TempDir()), suffix: ".txt"}
	p, _ := newTestPipeline(t, Options{Sink: fs, Defaults: styleDefaults()})
	m, errs, err := p.Run(context.Background(), []asset.Input{
		{Key: "a", Name: "a.txt", Data: []byte("shared")},
		{Key: "b", Name: "b.txt", Data: []byte("shared")},
		{Key: "c", Name: "c.css", Data: []byte("p { color: red; }")},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(errs) != 2 {
		t.Fatalf("errs = %v, want IOFailure for a and b", errs)
	}
	for i, key := range []string{"a", "b"} {
		if errs[i].Key != key || errs[i].Kind != asset.ErrIOFailure {
			t.Errorf("errs[%d] = %v, want IOFailure for %s", i, errs[i], key)
		}
	}
	if len(m.Entries) != 1 || m.Entries[0].Key != "c" {
		t.Errorf("entries = %+v, want only c", m.Entries)
	}
}

func TestRunPrecompressesText(t *testing.T) {
	css := []byte(strings.Repeat(".card { margin: 0; padding: 0; }\n", 50))
	p, dir := newTestPipeline(t, Options{Precompress: true})
	m, _, err := p.Run(context.Background(), []asset.Input{
		{Key: "css", Name: "big.css", Data: css},
		{Key: "gif", Name: "tiny.gif", Kind: asset.KindPassthrough, Data: tinyGIF(t)},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	e, _ := m.Lookup("css")
	files := outputFiles(t, dir)
	want := map[string]bool{e.Path: true, e.Path + ".gz": true, e.Path + ".zst": true}
	for _, f := range files {
		delete(want, f)
		if strings.HasSuffix(f, ".gif.gz") || strings.HasSuffix(f, ".gif.zst") {
			t.Errorf("binary output was precompressed: %s", f)
		}
	}
	if len(want) != 0 {
		t.Errorf("missing outputs %v in %v", want, files)
	}
}

func TestRunReadsSourcePath(t *testing.T) {
	src := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(src, []byte("from disk"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, _ := newTestPipeline(t, Options{})
	m, errs, err := p.Run(context.Background(), []asset.Input{
		{Key: "notes", SourcePath: src},
		{Key: "gone", SourcePath: filepath.Join(t.TempDir(), "missing.txt")},
		{Key: "hollow", Name: "hollow.txt"},
		{Key: "empty", Name: "empty.txt", Data: []byte{}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if e, ok := m.Lookup("notes"); !ok || e.Size != len("from disk") || !strings.HasSuffix(e.Path, ".txt") {
		t.Errorf("notes entry = %+v, %v", e, ok)
	}
	if e, ok := m.Lookup("empty"); !ok || e.Size != 0 {
		t.Errorf("empty entry = %+v, %v, want a zero-size entry", e, ok)
	}
	if len(m.Entries) != 2 {
		t.Errorf("entries = %+v, want notes and empty", m.Entries)
	}
	failed := map[string]asset.ErrorKind{}
	for _, e := range errs {
		failed[e.Key] = e.Kind
	}
	if len(errs) != 2 || failed["gone"] != asset.ErrIOFailure || failed["hollow"] != asset.ErrIOFailure {
		t.Errorf("errs = %v, want IOFailure for gone and hollow", errs)
	}
}

func TestRunCancelled(t *testing.T) {
	p, _ := newTestPipeline(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := p.Run(ctx, []asset.Input{{Key: "a", Name: "a.txt", Data: []byte("x")}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestBuildWritesManifest(t *testing.T) {
	p, dir := newTestPipeline(t, Options{ManifestName: "manifest.json"})
	m, _, err := p.Build(context.Background(), []asset.Input{{Key: "a", Name: "a.txt", Data: []byte("x")}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	parsed, err := manifest.Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(parsed.Entries) != 1 || parsed.Entries[0] != m.Entries[0] {
		t.Errorf("written manifest = %+v, want %+v", parsed.Entries, m.Entries)
	}
}

func TestNewRequiresSink(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without sink error = nil")
	}
}
