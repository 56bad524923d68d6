package styleopt

import (
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

// Targets is a resolved browser target set translated into the engine list
// esbuild uses to decide which syntax lowering and vendor prefixes are
// needed.
type Targets struct {
	Engines []api.Engine
	// Legacy is set when any target predates CSS3 shorthand support, which
	// keeps the minifier on CSS2-compatible output.
	Legacy bool
}

var browserEngines = map[string]api.EngineName{
	"chrome":   api.EngineChrome,
	"and_chr":  api.EngineChrome,
	"edge":     api.EngineEdge,
	"firefox":  api.EngineFirefox,
	"and_ff":   api.EngineFirefox,
	"ff":       api.EngineFirefox,
	"safari":   api.EngineSafari,
	"ios":      api.EngineIOS,
	"ios_saf":  api.EngineIOS,
	"opera":    api.EngineOpera,
	"ie":       api.EngineIE,
	"explorer": api.EngineIE,
}

// ParseTargets converts entries such as "chrome 100", "ios_saf 15.2-15.4"
// or "ie 11" into engines. For ranges the lowest version is kept. Unknown
// browsers are skipped. The result is sorted so equal sets compare equal.
func ParseTargets(entries []string) Targets {
	lowest := make(map[api.EngineName]string)
	var t Targets

	for _, entry := range entries {
		fields := strings.Fields(strings.ToLower(entry))
		if len(fields) != 2 {
			log.Warn().Str("target", entry).Msg("Ignoring malformed browser target")
			continue
		}
		name, ok := browserEngines[fields[0]]
		if !ok {
			log.Debug().Str("target", entry).Msg("Ignoring browser without an engine mapping")
			continue
		}
		version := fields[1]
		if i := strings.IndexByte(version, '-'); i > 0 {
			version = version[:i]
		}
		if prev, seen := lowest[name]; !seen || versionLess(version, prev) {
			lowest[name] = version
		}
		if name == api.EngineIE {
			t.Legacy = true
		}
	}

	for name, version := range lowest {
		t.Engines = append(t.Engines, api.Engine{Name: name, Version: version})
	}
	sort.Slice(t.Engines, func(i, j int) bool {
		return t.Engines[i].Name < t.Engines[j].Name
	})
	return t
}

// versionLess compares dotted numeric versions component by component.
func versionLess(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x = atoi(as[i])
		}
		if i < len(bs) {
			y = atoi(bs[i])
		}
		if x != y {
			return x < y
		}
	}
	return false
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
