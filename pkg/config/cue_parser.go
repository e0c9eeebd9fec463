package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// CUEParser reads configuration written in CUE. Sources are unified, so a
// configuration may be split across files or a package directory.
type CUEParser struct {
	schemas *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser(schemas *SchemaRegistry) *CUEParser {
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}
	return &CUEParser{schemas: schemas}
}

// Parse evaluates sources, checks them against the configuration schema and
// decodes the result over Default(). Problems are returned as ValidationErrors.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*Config, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var (
		value    cue.Value
		files    []string
		problems ValidationErrors
	)
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var (
			val  cue.Value
			errs ValidationErrors
		)
		if info.IsDir() {
			var dirFiles []string
			val, dirFiles, errs = cp.loadDirectory(source)
			files = append(files, dirFiles...)
		} else {
			val, errs = cp.loadFile(source)
			files = append(files, source)
		}
		problems = append(problems, errs...)
		if len(errs) > 0 {
			continue
		}
		if value.Exists() {
			value = value.Unify(val)
		} else {
			value = val
		}
	}
	if len(problems) > 0 {
		return nil, problems
	}

	cfg, err := cp.decode(value)
	if err != nil {
		return nil, err
	}
	cfg.SourceFiles = files
	return cfg, nil
}

// ParseInline parses CUE source text.
func (cp *CUEParser) ParseInline(content string) (*Config, error) {
	val := cp.schemas.Context().CompileString(content, cue.Filename("inline.cue"))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	return cp.decode(val)
}

func (cp *CUEParser) decode(val cue.Value) (*Config, error) {
	unified, err := cp.schemas.Apply(ConfigSchema, val)
	if err != nil {
		return nil, convertCUEErrors(err)
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, convertCUEErrors(err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, ValidationErrors) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, nil, ValidationErrors{{File: dir, Message: "no CUE files found"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, convertCUEErrors(inst.Err)
	}

	val := cp.schemas.Context().BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}
	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, ValidationErrors) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, ValidationErrors{{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}}
	}

	val := cp.schemas.Context().CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// convertCUEErrors flattens a CUE error list into ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		// Prefer the user's file over the schema the value was unified with.
		for _, pos := range errors.Positions(e) {
			if ve.File != "" && pos.Filename() == ConfigSchema+".cue" {
				continue
			}
			if ve.File == "" || ve.File == ConfigSchema+".cue" {
				ve.File = pos.Filename()
				ve.Line = pos.Line()
				ve.Column = pos.Column()
			}
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = ValidationErrors{{Message: err.Error()}}
	}
	return out
}
