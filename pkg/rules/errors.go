package rules

import "fmt"

// InvalidRulesSchemaError reports a malformed rule definition. It is fatal
// to rule-book construction: no partial rule book is usable.
type InvalidRulesSchemaError struct {
	Index  int
	Reason string
}

func (e *InvalidRulesSchemaError) Error() string {
	return fmt.Sprintf("invalid rule %d: %s", e.Index, e.Reason)
}
