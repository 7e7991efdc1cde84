package rules

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"
)

// rulesSchema constrains the shape of the rules document before the
// per-rule ancestor validation runs.
const rulesSchema = `{
  "type": "object",
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "ancestor": {"type": "string"}
        },
        "required": ["name", "ancestor"]
      }
    }
  }
}`

type rulesDocument struct {
	Rules []Def `yaml:"rules"`
}

// LoadDefs reads a YAML rules document and returns its rule definitions in
// file order. The document is validated against the rules schema first.
//
// rootResource names the configured hierarchy root ("organizations/<id>").
// A document with no rules falls back to a single "default" rule for the
// root, so a bare configuration still audits against the home organization.
func LoadDefs(path, rootResource string) ([]Def, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	defs, err := ParseDefs(raw)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 && rootResource != "" {
		defs = []Def{{Name: "default", Ancestor: rootResource}}
	}
	return defs, nil
}

// ParseDefs decodes and schema-checks a raw YAML rules document.
func ParseDefs(raw []byte) ([]Def, error) {
	var doc rulesDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &InvalidRulesSchemaError{Index: 0, Reason: fmt.Sprintf("malformed rules document: %v", err)}
	}
	if err := validateDocument(raw); err != nil {
		return nil, err
	}
	return doc.Rules, nil
}

func validateDocument(raw []byte) error {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return &InvalidRulesSchemaError{Index: 0, Reason: fmt.Sprintf("malformed rules document: %v", err)}
	}
	if generic == nil {
		return nil
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("encoding rules document: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(rulesSchema))
	if err != nil {
		return fmt.Errorf("compiling rules schema: %w", err)
	}
	result := schema.ValidateJSON(asJSON)
	if !result.IsValid() {
		return &InvalidRulesSchemaError{Index: 0, Reason: fmt.Sprintf("rules document failed schema validation: %v", result.Errors)}
	}
	return nil
}
