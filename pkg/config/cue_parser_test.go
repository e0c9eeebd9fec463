package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleCUE = `
package dcsingest

deposits: {
	base_dir:       "/srv/deposits"
	cache_capacity: 25
}

ids: allocator: "sqlite"
store: {
	path:    "/srv/ingest.db"
	archive: true
}

phases: [
	{number: 1, services: ["checksum", "policy"], pause_after: true},
	{number: 2, services: ["businessobject"]},
]

scripts: [{name: "tagger", file: "tagger.star", timeout: "5s"}]

telemetry: log_format: "json"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func validationErrors(t *testing.T, err error) ValidationErrors {
	t.Helper()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error = %v, want ValidationErrors", err)
	}
	return verrs
}

func TestCUEParser_ParseInline(t *testing.T) {
	cfg, err := NewCUEParser(nil).ParseInline(sampleCUE)
	if err != nil {
		t.Fatalf("ParseInline() error = %v", err)
	}

	if cfg.Deposits.BaseDir != "/srv/deposits" || cfg.Deposits.CacheCapacity != 25 {
		t.Errorf("deposits = %+v", cfg.Deposits)
	}
	// Defaults survive for fields the file leaves out.
	if cfg.Deposits.PackagingProfile != DefaultPackagingProfile || cfg.IDs.BatchSize != 10 {
		t.Errorf("defaults lost: %+v %+v", cfg.Deposits, cfg.IDs)
	}
	if cfg.Server.Address != ":8080" || cfg.Server.ReadTimeout.Std() != 30*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Phases) != 2 || !cfg.Phases[0].PauseAfter || cfg.Phases[1].Services[0] != "businessobject" {
		t.Errorf("phases = %+v", cfg.Phases)
	}
	if cfg.Scripts[0].Timeout.Std() != 5*time.Second {
		t.Errorf("script timeout = %v", cfg.Scripts[0].Timeout)
	}
	if cfg.Telemetry.LogFormat != "json" || cfg.Telemetry.LogLevel != "info" {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestCUEParser_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown field", `phases: [{number: 1, services: ["a"]}], colour: "blue"`, "colour"},
		{"bad allocator", `phases: [{number: 1, services: ["a"]}], ids: allocator: "redis"`, "allocator"},
		{"negative capacity", `phases: [{number: 1, services: ["a"]}], deposits: cache_capacity: -1`, "cache_capacity"},
		{"empty services", `phases: [{number: 1, services: []}]`, "services"},
		{"bad duration", `phases: [{number: 1, services: ["a"]}], server: read_timeout: "soon"`, "read_timeout"},
		{"syntax", `phases: [`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCUEParser(nil).ParseInline(tt.content)
			verrs := validationErrors(t, err)
			if !strings.Contains(verrs.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", verrs.Error(), tt.want)
			}
		})
	}
}

func TestCUEParser_ParseFilesUnifies(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.cue")
	phases := filepath.Join(dir, "phases.cue")
	if err := os.WriteFile(base, []byte(`deposits: base_dir: "/data"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(phases, []byte(`phases: [{number: 1, services: ["checksum"]}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewCUEParser(nil).Parse(context.Background(), []string{base, phases})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Deposits.BaseDir != "/data" || len(cfg.Phases) != 1 {
		t.Errorf("config = %+v", cfg)
	}
	if len(cfg.SourceFiles) != 2 {
		t.Errorf("SourceFiles = %v", cfg.SourceFiles)
	}
}

func TestCUEParser_ReportsFilePosition(t *testing.T) {
	path := writeConfig(t, "bad.cue", "phases: [{number: 1, services: [\"a\"]}]\nids: batch_size: 0\n")

	_, err := NewCUEParser(nil).Parse(context.Background(), []string{path})
	verrs := validationErrors(t, err)
	found := false
	for _, e := range verrs {
		if e.Path == "ids.batch_size" && e.File == path {
			found = true
		}
	}
	if !found {
		t.Errorf("no ids.batch_size error in %s: %v", path, verrs)
	}
}

func TestCUEParser_NoSources(t *testing.T) {
	if _, err := NewCUEParser(nil).Parse(context.Background(), nil); err == nil {
		t.Error("expected error for no sources")
	}
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"cue", "dcsingest.cue", `
deposits: base_dir: "/srv/d"
phases: [{number: 1, services: ["checksum"]}]
`},
		{"yaml", "dcsingest.yaml", `
deposits:
  base_dir: /srv/d
phases:
  - number: 1
    services: [checksum]
`},
		{"json", "dcsingest.json", `{"deposits": {"base_dir": "/srv/d"}, "phases": [{"number": 1, "services": ["checksum"]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)
			cfg, err := Load(context.Background(), path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Deposits.BaseDir != "/srv/d" || cfg.Phases[0].Services[0] != "checksum" {
				t.Errorf("config = %+v", cfg)
			}
			if cfg.Deposits.CacheCapacity != 100 {
				t.Errorf("CacheCapacity = %d, want default 100", cfg.Deposits.CacheCapacity)
			}
			if len(cfg.SourceFiles) != 1 || cfg.SourceFiles[0] != path {
				t.Errorf("SourceFiles = %v", cfg.SourceFiles)
			}
		})
	}
}

func TestLoad_YAMLUsesSchema(t *testing.T) {
	path := writeConfig(t, "bad.yaml", "phases:\n  - number: 1\n    services: [checksum]\nids:\n  allocator: redis\n")

	_, err := Load(context.Background(), path)
	verrs := validationErrors(t, err)
	if verrs[0].File != path {
		t.Errorf("File = %q, want %q", verrs[0].File, path)
	}
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	path := writeConfig(t, "dcsingest.toml", "")
	if _, err := Load(context.Background(), path); err == nil {
		t.Error("expected error for .toml")
	}
	if _, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.cue")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Phases = []PhaseConfig{{Number: 1, Services: []string{"checksum"}}}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		known  []string
		want   string
	}{
		{"valid", func(*Config) {}, nil, ""},
		{"no phases", func(c *Config) { c.Phases = nil }, nil, "phases"},
		{"duplicate phase", func(c *Config) {
			c.Phases = append(c.Phases, PhaseConfig{Number: 1, Services: []string{"checksum"}})
		}, nil, "declared twice"},
		{"duplicate script", func(c *Config) {
			c.Scripts = []ScriptConfig{{Name: "a", File: "a.star"}, {Name: "a", File: "b.star"}}
		}, nil, "script \"a\""},
		{"sqlite without path", func(c *Config) { c.IDs.Allocator = "sqlite" }, nil, "store.path"},
		{"archive without path", func(c *Config) { c.Store.Archive = true }, nil, "store.path"},
		{"otlp without endpoint", func(c *Config) { c.Telemetry.TracingExporter = "otlp" }, nil, "tracing_endpoint"},
		{"known service", func(*Config) {}, []string{"checksum", "policy"}, ""},
		{"unknown service", func(*Config) {}, []string{"policy"}, "unknown service \"checksum\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate(tt.known...)
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"1m30s"`)); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("Std() = %v", d.Std())
	}
	if err := d.UnmarshalJSON([]byte(`2000000000`)); err != nil || d.Std() != 2*time.Second {
		t.Errorf("numeric duration = %v, %v", d, err)
	}
	if err := d.UnmarshalJSON([]byte(`"later"`)); err == nil {
		t.Error("expected error for invalid duration")
	}
	out, err := d.MarshalJSON()
	if err != nil || string(out) != `"2s"` {
		t.Errorf("MarshalJSON() = %s, %v", out, err)
	}
}

func TestConfig_ToTelemetry(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.LogLevel = "debug"
	cfg.Telemetry.TracingExporter = "stdout"
	cfg.Telemetry.Metrics = false

	tc := cfg.ToTelemetry("1.2.3")
	if tc.ServiceVersion != "1.2.3" || tc.Logging.Level != "debug" {
		t.Errorf("telemetry config = %+v", tc)
	}
	if !tc.Tracing.Enabled || tc.Tracing.Exporter != "stdout" || tc.Metrics.Enabled {
		t.Errorf("tracing/metrics = %+v %+v", tc.Tracing, tc.Metrics)
	}
	if tc.Metrics.Namespace != "dcsingest" {
		t.Errorf("namespace = %q", tc.Metrics.Namespace)
	}
}
