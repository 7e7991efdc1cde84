// Package rules holds the policy rule book and the violation-evaluation
// engine for external project access.
//
// A rule names an approved ancestor (organization or folder). A project
// ancestry chain that does not pass through a rule's ancestor is external
// relative to that rule and produces one violation per missed rule.
package rules

import (
	"iter"

	"github.com/mayritza/orgsentry/pkg/resource"
)

// Def is a raw rule definition as deserialized from the rules document.
type Def struct {
	Name     string `yaml:"name"`
	Ancestor string `yaml:"ancestor"`
}

// Rule is a validated policy entry. Immutable once built; identified by its
// ancestor's (type, id), not its index.
type Rule struct {
	Name     string
	Index    int
	Ancestor resource.Resource
}

type ancestorKey struct {
	typ resource.Type
	id  string
}

// RuleBook maps each distinct ancestor to exactly one rule. Built once per
// scan and read-only afterward; shared across every identity evaluated.
type RuleBook struct {
	byAncestor map[ancestorKey]Rule
}

// BuildRuleBook validates and indexes the given definitions in order.
// When two definitions name the same ancestor the first one wins and later
// ones are silently dropped. An empty definition set yields an empty book.
func BuildRuleBook(defs []Def) (*RuleBook, error) {
	rb := &RuleBook{byAncestor: make(map[ancestorKey]Rule, len(defs))}
	for i, def := range defs {
		if def.Ancestor == "" {
			return nil, &InvalidRulesSchemaError{Index: i, Reason: "missing ancestor"}
		}
		ancestor, err := resource.ParseName(def.Ancestor)
		if err != nil {
			return nil, &InvalidRulesSchemaError{
				Index:  i,
				Reason: `ancestor must be "organizations/<id>" or "folders/<id>"`,
			}
		}
		key := ancestorKey{typ: ancestor.Type, id: ancestor.ID}
		if _, exists := rb.byAncestor[key]; exists {
			continue
		}
		rb.byAncestor[key] = Rule{Name: def.Name, Index: i, Ancestor: ancestor}
	}
	return rb, nil
}

// Len returns the number of rules in the book.
func (rb *RuleBook) Len() int {
	return len(rb.byAncestor)
}

// All iterates the rules in unspecified order.
func (rb *RuleBook) All() iter.Seq[Rule] {
	return func(yield func(Rule) bool) {
		for _, rule := range rb.byAncestor {
			if !yield(rule) {
				return
			}
		}
	}
}
