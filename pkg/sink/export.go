package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mayritza/orgsentry/pkg/storage"
)

// Exporter renders violation records as report artifacts.
type Exporter struct {
	store storage.BlobStore
}

func NewExporter(store storage.BlobStore) *Exporter {
	return &Exporter{store: store}
}

// ExportCSV writes the violation report as CSV under the given key.
func (e *Exporter) ExportCSV(ctx context.Context, key string, records []Record) error {
	data, err := RenderCSV(records)
	if err != nil {
		return err
	}
	return e.store.Put(ctx, key, data)
}

// ExportJSON writes the violation report as indented JSON under the given key.
func (e *Exporter) ExportJSON(ctx context.Context, key string, records []Record) error {
	sorted := sortedRecords(records)
	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding violation report: %w", err)
	}
	return e.store.Put(ctx, key, data)
}

// RenderCSV renders records sorted by member, then resource id, then rule
// index, so exports are stable across runs.
func RenderCSV(records []Record) ([]byte, error) {
	sorted := sortedRecords(records)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"Member",
		"ResourceID",
		"ResourceType",
		"FullName",
		"RuleName",
		"RuleIndex",
		"RuleAncestor",
		"ViolationType",
		"ResourceData",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, rec := range sorted {
		row := []string{
			rec.ViolationData.Member,
			rec.ResourceID,
			rec.ResourceType,
			rec.FullName,
			rec.RuleName,
			fmt.Sprintf("%d", rec.RuleIndex),
			rec.ViolationData.RuleAncestor,
			rec.ViolationType,
			rec.ResourceData,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sortedRecords(records []Record) []Record {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ViolationData.Member != sorted[j].ViolationData.Member {
			return sorted[i].ViolationData.Member < sorted[j].ViolationData.Member
		}
		if sorted[i].ResourceID != sorted[j].ResourceID {
			return sorted[i].ResourceID < sorted[j].ResourceID
		}
		return sorted[i].RuleIndex < sorted[j].RuleIndex
	})
	return sorted
}
