package flatten

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Rule classifies one step label. The list is ordered: the first rule
// whose substring matches wins.
type Rule struct {
	Contains  string `json:"contains"`
	Categoria string `json:"categoria,omitempty"`
	Subtipo   string `json:"subtipo,omitempty"`
	Status    string `json:"status,omitempty"`
}

type rulesFile struct {
	Matchers []Rule `json:"matchers"`
}

const rulesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["matchers"],
  "properties": {
    "matchers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["contains"],
        "properties": {
          "contains": {"type": "string", "minLength": 1},
          "categoria": {"type": "string"},
          "subtipo": {"type": "string"},
          "status": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

func compileRulesSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(rulesSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rules.schema.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("rules.schema.json")
}

// LoadRules reads and validates the externally supplied rule table. A
// missing file yields the built-in defaults; a malformed one is an
// error, never a silent empty list.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultRules(), nil
	}
	if err != nil {
		return nil, err
	}
	return ParseRules(data)
}

// ParseRules validates raw JSON against the rule-table schema and
// decodes it.
func ParseRules(data []byte) ([]Rule, error) {
	schema, err := compileRulesSchema()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	var f rulesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	return f.Matchers, nil
}

// DefaultRules covers the recurring federal obligations when no rule
// file is supplied.
func DefaultRules() []Rule {
	return []Rule{
		{Contains: "reinf", Categoria: "process_step", Subtipo: "EFD-Reinf", Status: "Pendente"},
		{Contains: "efd-contrib", Categoria: "process_step", Subtipo: "EFD-Contribuições", Status: "Pendente"},
		{Contains: "efd", Categoria: "process_step", Subtipo: "EFD-Contribuições", Status: "Pendente"},
		{Contains: "dctf", Categoria: "process_step", Subtipo: "DCTFWeb", Status: "Pendente"},
		{Contains: "fechamento", Categoria: "process_step", Subtipo: "Fechamento", Status: "Pendente"},
	}
}

// Match returns the first rule whose substring appears in label,
// case-insensitively.
func Match(label string, rules []Rule) (Rule, bool) {
	low := strings.ToLower(label)
	for _, rule := range rules {
		needle := strings.ToLower(rule.Contains)
		if needle != "" && strings.Contains(low, needle) {
			return rule, true
		}
	}
	return Rule{}, false
}
