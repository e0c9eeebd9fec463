package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration from a .cue, .yaml, .yml or .json file, or from
// a directory holding a CUE package, and validates it.
func Load(ctx context.Context, path string) (*Config, error) {
	schemas := NewSchemaRegistry()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	var cfg *Config
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case info.IsDir() || ext == ".cue":
		cfg, err = NewCUEParser(schemas).Parse(ctx, []string{path})
	case ext == ".yaml" || ext == ".yml" || ext == ".json":
		cfg, err = parseDocument(schemas, path)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDocument reads YAML or JSON (JSON is valid YAML) and checks it against
// the same CUE schema CUE files get.
func parseDocument(schemas *SchemaRegistry, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ValidationErrors{{File: path, Message: err.Error()}}
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	val := schemas.Context().Encode(doc)
	unified, err := schemas.Apply(ConfigSchema, val)
	if err != nil {
		problems := convertCUEErrors(err)
		for i := range problems {
			problems[i].File = path
		}
		return nil, problems
	}

	encoded, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(encoded, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.SourceFiles = []string{path}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// Report json field names so messages match the file.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks field constraints and cross-field rules. When known is
// non-empty every phase service must be one of known.
func (c *Config) Validate(known ...string) error {
	var problems ValidationErrors

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, ValidationError{
				Path:    strings.TrimPrefix(fe.Namespace(), "Config."),
				Message: fmt.Sprintf("failed on %q rule", fe.Tag()),
			})
		}
	}

	phases := make(map[int]bool, len(c.Phases))
	for i, p := range c.Phases {
		if phases[p.Number] {
			problems = append(problems, ValidationError{
				Path:    fmt.Sprintf("phases[%d].number", i),
				Message: fmt.Sprintf("phase %d is declared twice", p.Number),
			})
		}
		phases[p.Number] = true
	}

	scripts := make(map[string]bool, len(c.Scripts))
	for i, s := range c.Scripts {
		if scripts[s.Name] {
			problems = append(problems, ValidationError{
				Path:    fmt.Sprintf("scripts[%d].name", i),
				Message: fmt.Sprintf("script %q is declared twice", s.Name),
			})
		}
		scripts[s.Name] = true
	}

	if c.NeedsStore() && c.Store.Path == "" {
		problems = append(problems, ValidationError{
			Path:    "store.path",
			Message: "required when ids.allocator is sqlite or store.archive is set",
		})
	}

	if len(known) > 0 {
		available := make(map[string]bool, len(known))
		for _, id := range known {
			available[id] = true
		}
		for i, p := range c.Phases {
			for j, id := range p.Services {
				if !available[id] {
					problems = append(problems, ValidationError{
						Path:    fmt.Sprintf("phases[%d].services[%d]", i, j),
						Message: fmt.Sprintf("unknown service %q", id),
					})
				}
			}
		}
	}

	if len(problems) > 0 {
		return problems
	}
	return nil
}
