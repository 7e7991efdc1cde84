// Package sink persists flattened scan violations and exports report
// artifacts. Sink failures are surfaced to the caller and never retried.
package sink

import (
	"context"
	"time"

	"github.com/mayritza/orgsentry/pkg/rules"
)

// ViolationData is the nested payload recorded alongside each violation row.
type ViolationData struct {
	FullName     string `json:"full_name"`
	Member       string `json:"member"`
	RuleAncestor string `json:"rule_ancestor"`
}

// Record is the flattened violation shape handed to a sink.
type Record struct {
	ResourceID    string        `json:"resource_id"`
	ResourceType  string        `json:"resource_type"`
	FullName      string        `json:"full_name"`
	RuleIndex     int           `json:"rule_index"`
	RuleName      string        `json:"rule_name"`
	ViolationType string        `json:"violation_type"`
	ViolationData ViolationData `json:"violation_data"`
	ResourceData  string        `json:"resource_data"`
}

// RunInfo identifies one scan invocation.
type RunInfo struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	MemberCount int
	RuleCount   int
}

// Sink durably records the violations of one scan run.
type Sink interface {
	Write(ctx context.Context, run RunInfo, records []Record) error
}

// Flatten converts an engine violation into the sink record shape.
func Flatten(v rules.Violation) Record {
	return Record{
		ResourceID:    v.ResourceID,
		ResourceType:  string(v.ResourceType),
		FullName:      v.FullName,
		RuleIndex:     v.RuleIndex,
		RuleName:      v.RuleName,
		ViolationType: v.ViolationType,
		ViolationData: ViolationData{
			FullName:     v.FullName,
			Member:       v.Member,
			RuleAncestor: v.RuleAncestor.Name(),
		},
		ResourceData: v.ResourceData,
	}
}
