package descriptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fpang/asset-pipeline/internal/asset"
)

const sample = `{
  // relative to this file
  "root": "web",
  "assets": [
    {"key": "css/site", "source": "styles/site.scss", "kind": "scss"},
    {"key": "img/hero", "source": "img/hero.jpg",
     "options": {"image": {"format": "avif"}}}, // trailing comma below
  ],
}`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assets.jsonc")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	defaults := asset.OptimizationOptions{
		Image: asset.ImageOptions{Quality: 70},
		Style: asset.StyleOptions{Targets: []string{"chrome 100"}},
	}

	inputs, err := Load(path, defaults)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("got %d inputs, want 2", len(inputs))
	}

	css := inputs[0]
	if css.Key != "css/site" || css.Kind != asset.KindSass || css.Name != "site.scss" {
		t.Errorf("css input = %+v", css)
	}
	if want := filepath.Join(dir, "web", "styles", "site.scss"); css.SourcePath != want {
		t.Errorf("SourcePath = %q, want %q", css.SourcePath, want)
	}
	if css.Options != nil {
		t.Error("asset without options got an override")
	}

	img := inputs[1]
	if img.Options == nil {
		t.Fatal("options override missing")
	}
	if img.Options.Image.Format != asset.FormatAVIF || img.Options.Image.Quality != 70 {
		t.Errorf("merged image options = %+v", img.Options.Image)
	}
	if len(img.Options.Style.Targets) != 1 {
		t.Errorf("style defaults lost: %+v", img.Options.Style)
	}
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"not json":   `{"assets": [`,
		"no key":     `{"assets": [{"source": "a.css"}]}`,
		"no source":  `{"assets": [{"key": "a"}]}`,
		"wrong type": `{"assets": {"key": "a"}}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(in)); err == nil {
				t.Error("Parse() error = nil")
			}
		})
	}
}

func TestLoadBadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonc")
	body := `{"assets": [{"key": "a", "source": "a.png", "options": {"image": {"quality": "high"}}}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, asset.OptimizationOptions{}); err == nil {
		t.Error("Load() error = nil for mistyped option")
	}
}
