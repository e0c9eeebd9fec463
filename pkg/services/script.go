package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
	"github.com/dataconservancy/dcs-ingest/pkg/telemetry"
)

// DefaultScriptTimeout bounds one script execution.
const DefaultScriptTimeout = 30 * time.Second

// ScriptSetName names attribute sets written by scripts.
const ScriptSetName = "Script"

// ScriptService runs a Starlark script against a deposit.
//
// The script sees these globals:
//
//	deposit_id  string
//	user        string
//	files       list of dicts with path, name, size, format and checksum
//	attributes  dict of attribute set key to {"name": ..., "attributes": [...]}
//
// After execution, a global `attributes_out` dict of key to dict of name to value
// is written to the attribute store as Script sets under "script:<name>:<key>". A
// non-empty global `fail` string fails the service with that message.
type ScriptService struct {
	Name    string
	Source  string
	Timeout time.Duration
}

// NewScriptService returns a service running source under name.
func NewScriptService(name, source string, timeout time.Duration) (*ScriptService, error) {
	if name == "" {
		return nil, ingest.NewValidationError("script name is required").WithOperation("script.new")
	}
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	return &ScriptService{Name: name, Source: source, Timeout: timeout}, nil
}

// LoadScriptService reads a Starlark file into a ScriptService.
func LoadScriptService(name, path string, timeout time.Duration) (*ScriptService, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return NewScriptService(name, string(src), timeout)
}

// ScriptServiceID returns the service id of the script called name.
func ScriptServiceID(name string) string {
	return "script:" + name
}

func (s *ScriptService) ID() string { return ScriptServiceID(s.Name) }

// ScriptResult is the outcome of one script execution.
type ScriptResult struct {
	Output        map[string]interface{}
	ExecutionTime time.Duration
}

// Execute implements ingest.Service.
func (s *ScriptService) Execute(ctx context.Context, depositID string, state *ingest.IngestState) error {
	result, err := s.Evaluate(ctx, scriptInput(depositID, state))
	if err != nil {
		return err
	}

	if msg, ok := result.Output["fail"].(string); ok && msg != "" {
		return fmt.Errorf("script %s rejected deposit: %s", s.Name, msg)
	}

	keys, err := s.writeAttributes(state, result.Output["attributes_out"])
	if err != nil {
		return err
	}

	detail := fmt.Sprintf("wrote %d attribute sets in %s", len(keys), result.ExecutionTime.Round(time.Millisecond))
	if _, err := state.Events().Record(ctx, ingest.EventTypeScriptExecution, s.Name, detail, keys...); err != nil {
		return err
	}
	telemetry.FromContext(ctx).Debugf("script %s %s", s.Name, detail)
	return nil
}

func (s *ScriptService) writeAttributes(state *ingest.IngestState, out interface{}) ([]string, error) {
	if out == nil {
		return nil, nil
	}
	sets, ok := out.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("script %s: attributes_out must be a dict, got %T", s.Name, out)
	}

	names := make([]string, 0, len(sets))
	for k := range sets {
		names = append(names, k)
	}
	sort.Strings(names)

	keys := make([]string, 0, len(names))
	for _, name := range names {
		values, ok := sets[name].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("script %s: attributes_out[%q] must be a dict", s.Name, name)
		}
		attrNames := make([]string, 0, len(values))
		for a := range values {
			attrNames = append(attrNames, a)
		}
		sort.Strings(attrNames)

		set := ingest.NewAttributeSet(ScriptSetName)
		for _, a := range attrNames {
			set.Add(a, ingest.AttrTypeString, fmt.Sprint(values[a]))
		}
		key := "script:" + s.Name + ":" + name
		if err := state.Attributes().Update(key, set); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func scriptInput(depositID string, state *ingest.IngestState) map[string]interface{} {
	pkg := state.Package()
	files := make([]interface{}, 0, len(pkg.Files))
	for _, rel := range pkg.Files {
		set := fileSet(state, rel)
		size, _ := set.First(ingest.AttrFileSize)
		format, _ := set.First(ingest.AttrFileFormat)
		checksum, _ := set.First(ingest.AttrFileChecksum)
		files = append(files, map[string]interface{}{
			"path":     rel,
			"name":     filepath.Base(rel),
			"size":     size,
			"format":   format,
			"checksum": checksum,
		})
	}

	store := state.Attributes()
	attrs := make(map[string]interface{}, store.Len())
	for _, key := range store.Keys() {
		set, ok := store.Get(key)
		if !ok {
			continue
		}
		list := make([]interface{}, len(set.Attributes))
		for i, a := range set.Attributes {
			list[i] = map[string]interface{}{"name": a.Name, "type": a.Type, "value": a.Value}
		}
		attrs[key] = map[string]interface{}{"name": set.Name, "attributes": list}
	}

	return map[string]interface{}{
		"deposit_id": depositID,
		"user":       state.User(),
		"files":      files,
		"attributes": attrs,
	}
}

// Evaluate executes the script with input as predeclared globals and returns its
// public globals. The thread is cancelled when the timeout or ctx expires.
func (s *ScriptService) Evaluate(ctx context.Context, input map[string]interface{}) (*ScriptResult, error) {
	start := time.Now()
	evalCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  s.ID(),
		Print: func(_ *starlark.Thread, _ string) {},
	}

	type outcome struct {
		output map[string]interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := s.evaluateSync(thread, input)
		done <- outcome{out, err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		<-done
		return nil, fmt.Errorf("script %s: execution stopped after %v: %w", s.Name, time.Since(start).Round(time.Millisecond), evalCtx.Err())
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		return &ScriptResult{Output: o.output, ExecutionTime: time.Since(start)}, nil
	}
}

func (s *ScriptService) evaluateSync(thread *starlark.Thread, input map[string]interface{}) (map[string]interface{}, error) {
	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	for key, val := range input {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("script %s: failed to convert input %s: %w", s.Name, key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFile(thread, s.Name+".star", s.Source, predeclared)
	if err != nil {
		return nil, fmt.Errorf("script %s: execution failed: %w", s.Name, err)
	}

	output := make(map[string]interface{})
	for name, val := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if _, isFunc := val.(*starlark.Function); isFunc {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("script %s: failed to convert output %s: %w", s.Name, name, err)
		}
		output[name] = goVal
	}
	return output, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			gv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = gv
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
