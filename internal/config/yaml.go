package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// normalizeInput returns JSON for the strict decoder. Files ending in .yaml or
// .yml are converted first; anything else is taken as JSON.
func normalizeInput(path string, data []byte) (jsonData []byte, format string, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		jsonData, err = yamlToJSON(data)
		return jsonData, "yaml", err
	default:
		return data, "json", nil
	}
}

// yamlToJSON converts a single YAML document. A stream with more than one
// document is rejected like trailing JSON data.
func yamlToJSON(data []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc any
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("yaml: more than one document")
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(jsonable(doc))
}

// jsonable stringifies non-string mapping keys (yaml.v3 decodes those maps as
// map[any]any), so numeric user ids work as keys of gateway.user_tokens.
func jsonable(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, child := range x {
			out[fmt.Sprint(k)] = jsonable(child)
		}
		return out
	case map[string]any:
		for k, child := range x {
			x[k] = jsonable(child)
		}
		return x
	case []any:
		for i, child := range x {
			x[i] = jsonable(child)
		}
		return x
	default:
		return v
	}
}
