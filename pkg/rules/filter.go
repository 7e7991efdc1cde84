package rules

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
)

// Filter suppresses violations matching user-supplied CEL allowlist
// expressions, e.g. "member.endsWith('@example.com') && rule_name == 'sandbox'".
type Filter struct {
	programs []cel.Program
	exprs    []string
}

// NewFilter compiles the given CEL expressions. Compile errors are fatal:
// a broken allowlist must not silently let violations through.
func NewFilter(exprs []string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("member", decls.String),
			decls.NewVar("resource_id", decls.String),
			decls.NewVar("rule_name", decls.String),
			decls.NewVar("rule_index", decls.Int),
			decls.NewVar("full_name", decls.String),
			decls.NewVar("ancestors", decls.NewListType(decls.String)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	f := &Filter{exprs: exprs}
	for _, expr := range exprs {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("allowlist expression %q: %w", expr, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("allowlist expression %q: %w", expr, err)
		}
		f.programs = append(f.programs, prg)
	}
	return f, nil
}

// Suppressed reports whether any allowlist expression matches the violation.
// Evaluation errors fail open (the violation is kept) and are logged.
func (f *Filter) Suppressed(v Violation) bool {
	if f == nil || len(f.programs) == 0 {
		return false
	}
	vars := map[string]any{
		"member":      v.Member,
		"resource_id": v.ResourceID,
		"rule_name":   v.RuleName,
		"rule_index":  int64(v.RuleIndex),
		"full_name":   v.FullName,
		"ancestors":   strings.Split(v.ResourceData, ","),
	}
	for i, prg := range f.programs {
		out, _, err := prg.Eval(vars)
		if err != nil {
			slog.Error("Allowlist evaluation failed", "expression", f.exprs[i], "error", err)
			continue
		}
		if match, ok := out.Value().(bool); ok && match {
			return true
		}
	}
	return false
}
