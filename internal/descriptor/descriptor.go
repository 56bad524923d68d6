// Package descriptor reads asset descriptor files: JSONC documents listing
// the assets of one build. Comments and trailing commas are allowed.
//
//	{
//	  // sources are relative to this file unless root is set
//	  "root": "web",
//	  "assets": [
//	    {"key": "css/site", "source": "styles/site.scss"},
//	    {"key": "img/hero", "source": "img/hero.jpg",
//	     "options": {"image": {"format": "avif"}}},
//	  ],
//	}
package descriptor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/fpang/asset-pipeline/internal/asset"
)

// File is a parsed descriptor.
type File struct {
	// Root is the directory sources are resolved against, relative to the
	// descriptor file.
	Root   string  `json:"root"`
	Assets []Asset `json:"assets"`
}

// Asset is one descriptor entry.
type Asset struct {
	Key       string     `json:"key"`
	Source    string     `json:"source"`
	Kind      asset.Kind `json:"kind"`
	MediaType string     `json:"media_type"`
	// Options are merged over the build defaults.
	Options json.RawMessage `json:"options"`
}

// Parse strips JSONC comments and trailing commas from data and decodes it.
func Parse(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return nil, fmt.Errorf("parsing descriptor: %w", err)
	}
	for i, a := range f.Assets {
		if a.Key == "" {
			return nil, fmt.Errorf("parsing descriptor: asset %d has no key", i)
		}
		if a.Source == "" {
			return nil, fmt.Errorf("parsing descriptor: asset %q has no source", a.Key)
		}
	}
	return &f, nil
}

// Load reads the descriptor at path and returns pipeline inputs. Per-asset
// options are decoded over a copy of defaults, so an entry only names what
// it changes.
func Load(path string, defaults asset.OptimizationOptions) ([]asset.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Join(filepath.Dir(path), filepath.FromSlash(f.Root))
	inputs := make([]asset.Input, 0, len(f.Assets))
	for _, a := range f.Assets {
		source := filepath.FromSlash(a.Source)
		if !filepath.IsAbs(source) {
			source = filepath.Join(base, source)
		}
		in := asset.Input{
			Key:        a.Key,
			Kind:       a.Kind,
			MediaType:  a.MediaType,
			Name:       filepath.Base(source),
			SourcePath: source,
		}
		if len(a.Options) > 0 {
			opts := cloneOptions(defaults)
			if err := json.Unmarshal(a.Options, &opts); err != nil {
				return nil, fmt.Errorf("%s: options for %q: %w", path, a.Key, err)
			}
			in.Options = &opts
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// cloneOptions copies the slice fields so decoding into the copy cannot
// write through to defaults.
func cloneOptions(o asset.OptimizationOptions) asset.OptimizationOptions {
	o.Style.Targets = append([]string(nil), o.Style.Targets...)
	o.Style.IncludePaths = append([]string(nil), o.Style.IncludePaths...)
	return o
}
