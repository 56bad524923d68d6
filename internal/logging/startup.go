package logging

import (
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects build identity, configuration, outputs, and
// feature flags, then emits a single structured zerolog event summarising
// how a build was configured. Reading that one line is usually enough to
// explain why two builds produced different manifests.
type StartupLogger struct {
	name         string
	version      string
	runID        string
	initDuration time.Duration

	outputs  map[string]string
	features map[string]bool
	config   map[string]string
}

// NewStartupLogger creates a StartupLogger for the given tool name
// (e.g. "assetpipe").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:     name,
		outputs:  make(map[string]string),
		features: make(map[string]bool),
		config:   make(map[string]string),
	}
}

// Version sets the version string baked into the binary at build time.
func (s *StartupLogger) Version(v string) *StartupLogger {
	s.version = v
	return s
}

// RunID sets the identifier of the build being started.
func (s *StartupLogger) RunID(id string) *StartupLogger {
	s.runID = id
	return s
}

// Output registers a destination the build writes to, such as the output
// directory or an S3 bucket.
func (s *StartupLogger) Output(label, location string) *StartupLogger {
	s.outputs[label] = location
	return s
}

// Feature registers a boolean feature flag (e.g. "precompress", "cache").
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long setup took before the build started.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// Log emits a single structured INFO log event with all collected information.
func (s *StartupLogger) Log() {
	evt := log.Info()

	tool := zerolog.Dict().
		Str("name", s.name).
		Str("go_version", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.GOMAXPROCS(0)).
		Str("log_level", EnvOrDefault("ASSETPIPE_LOG_LEVEL", "info"))
	if s.version != "" {
		tool = tool.Str("version", s.version)
	}
	evt = evt.Dict("tool", tool)

	if s.runID != "" {
		evt = evt.Str("run_id", s.runID)
	}
	if len(s.outputs) > 0 {
		evt = evt.Dict("outputs", dictFromMap(s.outputs))
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for _, k := range sortedKeys(s.features) {
			d = d.Bool(k, s.features[k])
		}
		evt = evt.Dict("features", d)
	}
	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}
	if s.initDuration > 0 {
		evt = evt.Dur("init_duration", s.initDuration)
	}

	evt.Msg("Asset build starting")
}

// dictFromMap converts a map[string]string into a zerolog.Event (Dict)
// with keys in sorted order.
func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for _, k := range sortedKeys(m) {
		d = d.Str(k, m[k])
	}
	return d
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
