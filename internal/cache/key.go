package cache

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/fpang/asset-pipeline/internal/asset"
	"github.com/fpang/asset-pipeline/internal/content"
)

// keyVersion is mixed into every options hash. Bump it when an optimizer
// changes its output for the same options.
const keyVersion = 1

// Key identifies a cache entry.
type Key struct {
	Input   content.Hash
	Options content.Hash
}

// String returns the key's file-name-safe form.
func (k Key) String() string {
	return k.Input.String() + "-" + k.Options.String()
}

// optionsKey holds only what can change an optimizer's output for a route.
// Options for other routes are left zero so that, for example, changing the
// image quality does not invalidate cached stylesheets.
type optionsKey struct {
	Version int                  `cbor:"1,keyasint"`
	Route   string               `cbor:"2,keyasint"`
	Ext     string               `cbor:"3,keyasint"`
	Image   *asset.ImageOptions  `cbor:"4,keyasint,omitempty"`
	Style   *asset.StyleOptions  `cbor:"5,keyasint,omitempty"`
	Script  *asset.ScriptOptions `cbor:"6,keyasint,omitempty"`
}

// NewKey derives the cache key for optimizing data along route with opts.
// The options are hashed through deterministic CBOR so equal options always
// produce the same key.
func NewKey(data []byte, route asset.Route, ext string, opts asset.OptimizationOptions) (Key, error) {
	ok := optionsKey{Version: keyVersion, Route: route.String(), Ext: ext}
	switch route {
	case asset.RouteImage:
		img := opts.Image
		ok.Image = &img
	case asset.RouteStyle:
		style := opts.Style
		ok.Style = &style
	case asset.RouteScript:
		script := opts.Script
		ok.Script = &script
	}
	encoded, err := encMode.Marshal(ok)
	if err != nil {
		return Key{}, err
	}
	return Key{Input: content.Sum(data), Options: content.Sum(encoded)}, nil
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}
