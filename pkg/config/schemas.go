package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry holds the CUE definitions configuration documents are
// unified with before decoding.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(ConfigSchema, builtinConfigSchema, "#Config"); err != nil {
		panic(err)
	}
	return sr
}

// ConfigSchema is the name of the schema for a whole configuration file.
const ConfigSchema = "config"

// Context returns the CUE context values must be built in to be unified with
// the registry's schemas.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles source and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, definition string) error {
	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, definition)
	}

	sr.mu.Lock()
	sr.schemas[name] = def
	sr.mu.Unlock()
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Apply unifies val with the named schema and checks the result is concrete.
// val must have been built in Context().
func (sr *SchemaRegistry) Apply(name string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema encodes data and validates it against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if _, err := sr.Apply(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinConfigSchema = `
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Config: {
	server?: {
		address?:          string
		read_timeout?:     #Duration
		write_timeout?:    #Duration
		shutdown_timeout?: #Duration
		max_upload_bytes?: int & >=0
	}

	deposits?: {
		base_dir?:          string & !=""
		packaging_profile?: string & !=""
		cache_capacity?:    int & >0
		strict_packaging?:  bool
		temp_dir?:          string
	}

	ids?: {
		allocator?:  "memory" | "sqlite"
		batch_size?: int & >0
	}

	store?: {
		path?:    string
		archive?: bool
	}

	phases: [...#Phase]

	scripts?: [...#Script]

	policies?: {
		paths?: [...string]
		watch?:    bool
		enforce?:  bool
		disabled?: [...string]
	}

	telemetry?: {
		environment?:       string
		log_level?:         "trace" | "debug" | "info" | "warn" | "error"
		log_format?:        "console" | "json"
		metrics?:           bool
		metrics_namespace?: string
		tracing_exporter?:  "none" | "stdout" | "otlp"
		tracing_endpoint?:  string
		sampling_rate?:     number & >=0 & <=1
	}
}

#Phase: {
	number:       int & >0
	pause_after?: bool
	services: [string, ...string]
}

#Script: {
	name:     string & =~"^[a-z0-9][a-z0-9_-]*$"
	file:     string & !=""
	timeout?: #Duration
}
`
