package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dataconservancy/dcs-ingest/pkg/telemetry"
)

// Config is the complete ingest service configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Deposits  DepositsConfig  `json:"deposits"`
	IDs       IDsConfig       `json:"ids"`
	Store     StoreConfig     `json:"store"`
	Phases    []PhaseConfig   `json:"phases" validate:"required,min=1,dive"`
	Scripts   []ScriptConfig  `json:"scripts,omitempty" validate:"dive"`
	Policies  PoliciesConfig  `json:"policies"`
	Telemetry TelemetryConfig `json:"telemetry"`

	// SourceFiles are the files the configuration was read from.
	SourceFiles []string `json:"-"`
}

// ServerConfig configures the HTTP deposit API.
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080".
	Address string `json:"address" validate:"required"`

	ReadTimeout     Duration `json:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`

	// MaxUploadBytes limits deposit bodies. Zero means unlimited.
	MaxUploadBytes int64 `json:"max_upload_bytes" validate:"gte=0"`
}

// DepositsConfig configures deposit handling.
type DepositsConfig struct {
	// BaseDir holds one extraction directory per deposit.
	BaseDir string `json:"base_dir" validate:"required"`

	// PackagingProfile is the only accepted packaging identifier.
	PackagingProfile string `json:"packaging_profile" validate:"required"`

	// CacheCapacity is the number of deposits kept in memory.
	CacheCapacity int `json:"cache_capacity" validate:"gt=0"`

	// StrictPackaging rejects deposits that are not a known archive format
	// instead of storing them as a single file.
	StrictPackaging bool `json:"strict_packaging"`

	// TempDir is where non-seekable zip uploads are spooled.
	TempDir string `json:"temp_dir,omitempty"`
}

// IDsConfig configures identifier allocation.
type IDsConfig struct {
	// Allocator is "memory" (random UUIDs) or "sqlite" (durable sequences).
	Allocator string `json:"allocator" validate:"oneof=memory sqlite"`

	// BatchSize is how many event ids a deposit draws at a time.
	BatchSize int `json:"batch_size" validate:"gt=0"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Path string `json:"path,omitempty"`

	// Archive keeps finished and evicted deposits in the store.
	Archive bool `json:"archive"`
}

// PhaseConfig declares one ingest phase.
type PhaseConfig struct {
	Number     int      `json:"number" validate:"gt=0"`
	PauseAfter bool     `json:"pause_after"`
	Services   []string `json:"services" validate:"required,min=1,dive,required"`
}

// ScriptConfig declares a Starlark script service.
type ScriptConfig struct {
	Name    string   `json:"name" validate:"required"`
	File    string   `json:"file" validate:"required"`
	Timeout Duration `json:"timeout,omitempty"`
}

// PoliciesConfig configures deposit policy evaluation.
type PoliciesConfig struct {
	// Paths lists .rego/.json files or directories loaded next to the built-ins.
	Paths []string `json:"paths,omitempty"`

	// Watch reloads Paths when files change.
	Watch bool `json:"watch"`

	// Enforce fails the phase when a deposit is denied.
	Enforce bool `json:"enforce"`

	// Disabled lists policies to switch off, built-ins included.
	Disabled []string `json:"disabled,omitempty"`
}

// TelemetryConfig configures logging, metrics and tracing.
type TelemetryConfig struct {
	Environment     string  `json:"environment,omitempty"`
	LogLevel        string  `json:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat       string  `json:"log_format" validate:"oneof=console json"`
	Metrics         bool    `json:"metrics"`
	MetricsPrefix   string  `json:"metrics_namespace,omitempty"`
	TracingExporter string  `json:"tracing_exporter" validate:"oneof=none stdout otlp"`
	TracingEndpoint string  `json:"tracing_endpoint,omitempty" validate:"required_if=TracingExporter otlp"`
	SamplingRate    float64 `json:"sampling_rate" validate:"gte=0,lte=1"`
}

// DefaultPackagingProfile is the BagIt profile accepted by default.
const DefaultPackagingProfile = "http://dataconservancy.org/schemas/bagit/0.98"

// Default returns the configuration used for any field a file leaves out.
// Phases have no default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(10 * time.Minute),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Deposits: DepositsConfig{
			BaseDir:          "deposits",
			PackagingProfile: DefaultPackagingProfile,
			CacheCapacity:    100,
		},
		IDs: IDsConfig{
			Allocator: "memory",
			BatchSize: 10,
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "console",
			Metrics:         true,
			MetricsPrefix:   "dcsingest",
			TracingExporter: "none",
			SamplingRate:    1.0,
		},
	}
}

// NeedsStore reports whether the configuration uses the SQLite store.
func (c *Config) NeedsStore() bool {
	return c.IDs.Allocator == "sqlite" || c.Store.Archive
}

// ToTelemetry converts the telemetry section to a telemetry.Config.
func (c *Config) ToTelemetry(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	if c.Telemetry.Environment != "" {
		tc.Environment = c.Telemetry.Environment
	}
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	tc.Metrics.Enabled = c.Telemetry.Metrics
	if c.Telemetry.MetricsPrefix != "" {
		tc.Metrics.Namespace = c.Telemetry.MetricsPrefix
	}
	tc.Tracing.Enabled = c.Telemetry.TracingExporter != "none"
	tc.Tracing.Exporter = c.Telemetry.TracingExporter
	tc.Tracing.Endpoint = c.Telemetry.TracingEndpoint
	tc.Tracing.SamplingRate = c.Telemetry.SamplingRate
	return tc
}

// Duration is a time.Duration written as a Go duration string such as "30s".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	*d = Duration(n)
	return nil
}

// ValidationError is a configuration problem with its location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path, e.g. "phases[0].services".
	Path string `json:"path,omitempty"`

	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every problem found in a configuration.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.String()
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}
