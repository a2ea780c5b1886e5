package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Decode strictly decodes data. name selects the format by extension:
// .yaml and .yml are YAML, anything else is JSON. YAML goes through JSON so
// both formats share the same unknown-field and trailing-data checks.
func Decode(name string, data []byte) (*Config, error) {
	base := filepath.Base(name)
	if isYAML(name) {
		j, err := yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", base, err)
		}
		data = j
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", base, err)
	}
	// Unknown-field checks apply to the config object only; any second
	// value is trailing data.
	switch err := dec.Decode(&json.RawMessage{}); err {
	case io.EOF:
		return &cfg, nil
	case nil:
		return nil, fmt.Errorf("decode %s: trailing data", base)
	default:
		return nil, fmt.Errorf("decode %s: %w", base, err)
	}
}

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if v == nil {
		// Empty document.
		return []byte("{}"), nil
	}
	return json.Marshal(stringKeys(v))
}

// stringKeys rewrites YAML maps with non-string keys (e.g. `1: x`) into
// JSON-compatible maps.
func stringKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = stringKeys(e)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range x {
			x[i] = stringKeys(e)
		}
		return x
	default:
		return v
	}
}
