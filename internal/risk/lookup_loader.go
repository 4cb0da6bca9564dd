package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const correlationSchema = `{
	"type": "object",
	"required": ["symbols", "matrix"],
	"properties": {
		"symbols": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 1
		},
		"matrix": {
			"type": "array",
			"items": {
				"type": "array",
				"items": {"type": "number", "minimum": -1, "maximum": 1}
			}
		}
	}
}`

type correlationFile struct {
	Symbols []string    `json:"symbols"`
	Matrix  [][]float64 `json:"matrix"`
}

// LoadCorrelationFile reads a schema-validated correlation matrix from JSON.
func LoadCorrelationFile(path string) (*StaticCorrelation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read correlation file failed: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("correlation.schema.json", strings.NewReader(correlationSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("correlation.schema.json")
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse correlation file failed: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("correlation file %s invalid: %w", path, err)
	}
	var cf correlationFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil, err
	}
	n := len(cf.Symbols)
	if len(cf.Matrix) != n {
		return nil, fmt.Errorf("correlation matrix has %d rows for %d symbols", len(cf.Matrix), n)
	}
	out := NewStaticCorrelation()
	for i, row := range cf.Matrix {
		if len(row) != n {
			return nil, fmt.Errorf("correlation row %d has %d columns, want %d", i, len(row), n)
		}
		for j := i + 1; j < n; j++ {
			out.Set(cf.Symbols[i], cf.Symbols[j], row[j])
		}
	}
	return out, nil
}

// LoadSectorFile reads a symbol-to-sector YAML map.
func LoadSectorFile(path string) (StaticSectors, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sector file failed: %w", err)
	}
	sectors := make(map[string]string)
	if err := yaml.Unmarshal(raw, &sectors); err != nil {
		return nil, fmt.Errorf("parse sector file failed: %w", err)
	}
	out := make(StaticSectors, len(sectors))
	for sym, sec := range sectors {
		out[strings.ToUpper(strings.TrimSpace(sym))] = sec
	}
	return out, nil
}
