package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/zju-rshub/rsagent/pkg/config"
)

// nestedParamKeys are legacy shapes the LLM sometimes emits; their contents
// are lifted to the top level of the data dict.
var nestedParamKeys = []string{"params", "parameters", "param"}

// dataKeyPattern matches the conventional data dict variable names: data,
// data1, data2, ...
var dataKeyPattern = regexp.MustCompile(`^data\d*$`)

// jsonFence extracts a fenced JSON block from LLM output.
var jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// ExtractJSONDocument pulls the parameter document out of an LLM response:
// the first ```json fence, or failing that the outermost braced object.
func ExtractJSONDocument(response string) (string, bool) {
	if m := jsonFence.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		return response[start : end+1], true
	}
	return "", false
}

// ParseDataDicts decodes a parameter document into flat data dicts. Three
// shapes are accepted, in order: a "tasks" list whose items carry "data"
// or "params" sub-objects; top-level "data"/"dataN" keys; or a single
// object that itself holds scenario parameters. Nested params sub-dicts
// are flattened in every case.
func ParseDataDicts(doc string, paramKeys map[string]bool) ([]map[string]any, error) {
	var root map[string]any
	if err := json.Unmarshal([]byte(doc), &root); err != nil {
		return nil, fmt.Errorf("parameter document is not valid JSON: %w", err)
	}

	if tasks, ok := root["tasks"].([]any); ok {
		dicts := make([]map[string]any, 0, len(tasks))
		for _, item := range tasks {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			for _, key := range append([]string{"data"}, nestedParamKeys...) {
				if sub, ok := entry[key].(map[string]any); ok {
					dicts = append(dicts, flattenParams(sub))
					break
				}
			}
		}
		if len(dicts) > 0 {
			return dicts, nil
		}
	}

	var dataKeys []string
	for key := range root {
		if value, isMap := root[key].(map[string]any); isMap && dataKeyPattern.MatchString(key) && len(value) > 0 {
			dataKeys = append(dataKeys, key)
		}
	}
	if len(dataKeys) > 0 {
		// Lexicographic order puts bare "data" first, then data1, data2...
		sort.Strings(dataKeys)
		dicts := make([]map[string]any, 0, len(dataKeys))
		for _, key := range dataKeys {
			dicts = append(dicts, flattenParams(root[key].(map[string]any)))
		}
		return dicts, nil
	}

	flat := flattenParams(root)
	for key := range flat {
		if paramKeys[key] {
			return []map[string]any{flat}, nil
		}
	}
	return nil, fmt.Errorf("parameter document holds no recognizable data dicts")
}

// flattenParams lifts a nested params sub-dict to the top level, keeping
// explicit top-level values on conflict.
func flattenParams(dict map[string]any) map[string]any {
	flat := make(map[string]any, len(dict))
	for k, v := range dict {
		flat[k] = v
	}
	for _, key := range nestedParamKeys {
		nested, ok := flat[key].(map[string]any)
		if !ok {
			continue
		}
		delete(flat, key)
		for k, v := range nested {
			if _, exists := flat[k]; !exists {
				flat[k] = v
			}
		}
		break
	}
	return flat
}

// ValidateDataDicts checks every dict against the scenario's parameter
// schema. All violations are collected so one correction round can fix
// them together.
func ValidateDataDicts(dicts []map[string]any, scenario *config.ScenarioConfig) error {
	var problems []string
	for i, dict := range dicts {
		for name, spec := range scenario.Params {
			value, present := dict[name]
			if !present {
				if spec.Required {
					problems = append(problems, fmt.Sprintf("dict %d: required parameter %q is missing", i+1, name))
				}
				continue
			}
			if err := checkParamValue(value, spec); err != nil {
				problems = append(problems, fmt.Sprintf("dict %d: parameter %q %v", i+1, name, err))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("parameter validation failed:\n%s", strings.Join(problems, "\n"))
	}
	return nil
}

// checkParamValue validates a scalar or a homogeneous list of scalars
// against one spec.
func checkParamValue(value any, spec config.ParamSpec) error {
	if list, ok := value.([]any); ok {
		for _, item := range list {
			if err := checkParamValue(item, spec); err != nil {
				return err
			}
		}
		return nil
	}

	switch spec.Type {
	case "number", "integer":
		num, ok := value.(float64)
		if !ok {
			return fmt.Errorf("must be a number, got %T", value)
		}
		if spec.Min != nil && num < *spec.Min {
			return fmt.Errorf("value %v is below minimum %v", num, *spec.Min)
		}
		if spec.Max != nil && num > *spec.Max {
			return fmt.Errorf("value %v is above maximum %v", num, *spec.Max)
		}
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("must be a string, got %T", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("must be a boolean, got %T", value)
		}
	}
	return nil
}
