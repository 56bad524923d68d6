package asset

import (
	"mime"
	"strings"
)

// Route is the closed set of optimization paths. Adding a kind means adding
// a Route value here and a handler for it in the pipeline's route table.
type Route int

const (
	RoutePassthrough Route = iota
	RouteImage
	RouteStyle
	RouteScript
)

// String returns the lower-case route name used in logs and cache keys.
func (r Route) String() string {
	switch r {
	case RouteImage:
		return "image"
	case RouteStyle:
		return "style"
	case RouteScript:
		return "script"
	default:
		return "passthrough"
	}
}

// extensionRoutes maps lower-cased extensions (without dot) to routes.
var extensionRoutes = map[string]Route{
	"jpg":  RouteImage,
	"jpeg": RouteImage,
	"png":  RouteImage,
	"gif":  RouteImage,
	"webp": RouteImage,
	"bmp":  RouteImage,
	"tif":  RouteImage,
	"tiff": RouteImage,
	"css":  RouteStyle,
	"scss": RouteStyle,
	"sass": RouteStyle,
	"js":   RouteScript,
	"mjs":  RouteScript,
	"cjs":  RouteScript,
	"jsx":  RouteScript,
	"ts":   RouteScript,
	"tsx":  RouteScript,
}

// mediaTypeRoutes maps media types to routes for inputs without a usable
// extension.
var mediaTypeRoutes = map[string]Route{
	"image/jpeg":             RouteImage,
	"image/png":              RouteImage,
	"image/gif":              RouteImage,
	"image/webp":             RouteImage,
	"image/bmp":              RouteImage,
	"image/tiff":             RouteImage,
	"text/css":               RouteStyle,
	"text/x-scss":            RouteStyle,
	"text/x-sass":            RouteStyle,
	"text/javascript":        RouteScript,
	"application/javascript": RouteScript,
	"application/typescript": RouteScript,
}

var kindRoutes = map[Kind]Route{
	KindImage:       RouteImage,
	KindStyle:       RouteStyle,
	KindSass:        RouteStyle,
	KindScript:      RouteScript,
	KindPassthrough: RoutePassthrough,
}

// Classify picks the optimization route for an input. An explicit Kind wins,
// then the extension, then the media type. Anything unrecognized is a
// passthrough; Classify never fails.
func Classify(in Input) Route {
	if r, ok := kindRoutes[in.Kind]; ok {
		return r
	}
	if r, ok := extensionRoutes[in.Ext()]; ok {
		return r
	}
	if r, ok := mediaTypeRoutes[normalizeMediaType(in.MediaType)]; ok {
		return r
	}
	return RoutePassthrough
}

// IsPreprocessed reports whether a style input needs the Sass compiler.
func IsPreprocessed(in Input) bool {
	if in.Kind == KindSass {
		return true
	}
	switch in.Ext() {
	case "scss", "sass":
		return true
	}
	switch normalizeMediaType(in.MediaType) {
	case "text/x-scss", "text/x-sass":
		return true
	}
	return false
}

// MediaTypeFor returns the media type for an output extension, falling back
// to application/octet-stream.
func MediaTypeFor(ext string) string {
	switch ext {
	case "":
		return "application/octet-stream"
	case "js", "mjs", "cjs":
		return "text/javascript"
	case "avif":
		return "image/avif"
	case "webp":
		return "image/webp"
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func normalizeMediaType(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
