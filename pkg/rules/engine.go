package rules

import (
	"iter"
	"strings"

	"github.com/mayritza/orgsentry/pkg/ancestry"
	"github.com/mayritza/orgsentry/pkg/resource"
)

// ViolationType tags every violation produced by this engine.
const ViolationType = "EXTERNAL_PROJECT_ACCESS_VIOLATION"

// Violation asserts that a member's project ancestry does not pass through
// a rule's required ancestor. Always attributed to the chain's leaf project.
type Violation struct {
	ResourceType  resource.Type
	ResourceID    string
	RuleName      string
	RuleIndex     int
	RuleAncestor  resource.Resource
	FullName      string
	ViolationType string
	Member        string
	ResourceData  string
}

// Engine evaluates ancestry chains against an owned rule book.
type Engine struct {
	book *RuleBook
}

// NewEngine creates an engine without a rule book; call BuildRuleBook
// before evaluating.
func NewEngine() *Engine {
	return &Engine{}
}

// BuildRuleBook (re)builds the engine's rule book from raw definitions.
// An existing book is reused unless force is set.
func (e *Engine) BuildRuleBook(defs []Def, force bool) error {
	if e.book != nil && !force {
		return nil
	}
	book, err := BuildRuleBook(defs)
	if err != nil {
		return err
	}
	e.book = book
	return nil
}

// RuleBook returns the engine's current rule book, or nil if not yet built.
func (e *Engine) RuleBook() *RuleBook {
	return e.book
}

// FindViolations yields one violation for every rule whose ancestor is
// absent from the chain. A chain passing through every configured ancestor
// yields nothing; a chain outside all of them yields one violation per rule.
//
// The sequence is lazy and recomputed on every call. An empty chain or an
// unbuilt rule book yields nothing.
func (e *Engine) FindViolations(member string, chain ancestry.Chain) iter.Seq[Violation] {
	return func(yield func(Violation) bool) {
		if e.book == nil || len(chain) == 0 {
			return
		}
		leaf := chain.Leaf()
		for rule := range e.book.All() {
			if chain.Contains(rule.Ancestor) {
				continue
			}
			v := Violation{
				ResourceType:  resource.Project,
				ResourceID:    leaf.ID,
				RuleName:      rule.Name,
				RuleIndex:     rule.Index,
				RuleAncestor:  rule.Ancestor,
				FullName:      leaf.Name(),
				ViolationType: ViolationType,
				Member:        member,
				ResourceData:  strings.Join(chain.Names(), ","),
			}
			if !yield(v) {
				return
			}
		}
	}
}
