package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mayritza/orgsentry/pkg/ancestry"
	"github.com/mayritza/orgsentry/pkg/inventory"
	"github.com/mayritza/orgsentry/pkg/rules"
	"github.com/mayritza/orgsentry/pkg/sink"
)

type fakeHierarchy struct {
	projects      map[string][]string
	ancestries    map[string][]ancestry.Descriptor
	listErr       map[string]error
	ancestryCalls atomic.Int64
	blockFor      map[string]bool
}

func (f *fakeHierarchy) ListProjects(ctx context.Context, member string) ([]string, error) {
	if f.blockFor[member] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.listErr[member]; err != nil {
		return nil, err
	}
	return f.projects[member], nil
}

func (f *fakeHierarchy) GetAncestry(ctx context.Context, projectID string) ([]ancestry.Descriptor, error) {
	f.ancestryCalls.Add(1)
	descs, ok := f.ancestries[projectID]
	if !ok {
		return nil, fmt.Errorf("unknown project %s", projectID)
	}
	return descs, nil
}

type memorySink struct {
	mu      sync.Mutex
	runs    []sink.RunInfo
	records [][]sink.Record
	err     error
}

func (m *memorySink) Write(ctx context.Context, run sink.RunInfo, records []sink.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, run)
	m.records = append(m.records, records)
	return nil
}

// ctxSink refuses writes under a canceled context, like a real
// transactional sink does.
type ctxSink struct {
	memorySink
}

func (c *ctxSink) Write(ctx context.Context, run sink.RunInfo, records []sink.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.memorySink.Write(ctx, run, records)
}

func newFakeHierarchy() *fakeHierarchy {
	return &fakeHierarchy{
		projects: map[string][]string{
			"user1@example.com": {"proj-inside"},
			"user2@example.com": {"proj-outside", "proj-inside"},
		},
		ancestries: map[string][]ancestry.Descriptor{
			"proj-inside": {
				{Type: "project", ID: "13579"},
				{Type: "folder", ID: "24680"},
				{Type: "organization", ID: "567890"},
			},
			"proj-outside": {
				{Type: "project", ID: "97531"},
				{Type: "organization", ID: "1357924680"},
			},
		},
		listErr:  map[string]error{},
		blockFor: map[string]bool{},
	}
}

func testEngine(t *testing.T) *rules.Engine {
	t.Helper()
	e := rules.NewEngine()
	err := e.BuildRuleBook([]rules.Def{{Name: "default", Ancestor: "organizations/567890"}}, true)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func testScanner(t *testing.T, client ancestry.HierarchyClient, out sink.Sink, opts ...Option) *Scanner {
	t.Helper()
	source := inventory.StaticSource{"user1@example.com", "user2@example.com"}
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return New(testEngine(t), source, client, out, opts...)
}

func TestRun(t *testing.T) {
	client := newFakeHierarchy()
	out := &memorySink{}
	s := testScanner(t, client, out)

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Partial {
		t.Error("unexpected partial result")
	}
	if result.Run.MemberCount != 2 || result.Run.RuleCount != 1 {
		t.Errorf("run info = %+v", result.Run)
	}
	if result.Run.ID == "" {
		t.Error("missing scan id")
	}

	// user1 is inside the approved org; only user2's proj-outside violates.
	if len(result.Records) != 1 {
		t.Fatalf("got %d violations, want 1", len(result.Records))
	}
	rec := result.Records[0]
	if rec.ResourceID != "97531" {
		t.Errorf("ResourceID = %q, want 97531", rec.ResourceID)
	}
	if rec.ViolationData.Member != "user2@example.com" {
		t.Errorf("Member = %q", rec.ViolationData.Member)
	}
	if rec.ViolationData.RuleAncestor != "organization/567890" {
		t.Errorf("RuleAncestor = %q", rec.ViolationData.RuleAncestor)
	}
	if rec.ViolationData.FullName != rec.FullName || rec.FullName != "project/97531" {
		t.Errorf("FullName = %q / %q", rec.FullName, rec.ViolationData.FullName)
	}
	if rec.ResourceData != "project/97531,organization/1357924680" {
		t.Errorf("ResourceData = %q", rec.ResourceData)
	}

	// The sink received exactly the scan's records.
	if len(out.runs) != 1 || len(out.records[0]) != 1 {
		t.Errorf("sink writes = %d runs", len(out.runs))
	}

	// proj-inside is shared by both members: ancestry fetched once.
	if calls := client.ancestryCalls.Load(); calls != 2 {
		t.Errorf("GetAncestry called %d times, want 2", calls)
	}
}

func TestRunFailureIsolation(t *testing.T) {
	client := newFakeHierarchy()
	client.listErr["user1@example.com"] = fmt.Errorf("expired: %w", ancestry.ErrCredentialRefresh)
	out := &memorySink{}
	s := testScanner(t, client, out)

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// user1 contributes nothing but user2 is still evaluated.
	if len(result.Records) != 1 {
		t.Errorf("got %d violations, want 1", len(result.Records))
	}
}

func TestRunUnexpectedErrorAborts(t *testing.T) {
	client := newFakeHierarchy()
	client.listErr["user2@example.com"] = errors.New("api exploded")
	out := &memorySink{}
	s := testScanner(t, client, out)

	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected scan to fail fast")
	}
	if len(out.runs) != 0 {
		t.Error("failed scan must not persist results")
	}
}

func TestRunSinkErrorPropagates(t *testing.T) {
	client := newFakeHierarchy()
	out := &memorySink{err: errors.New("disk full")}
	s := testScanner(t, client, out)

	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected sink failure to propagate")
	}
}

func TestRunPartialResults(t *testing.T) {
	client := newFakeHierarchy()
	client.blockFor["user2@example.com"] = true
	out := &memorySink{}

	ctx, cancel := context.WithCancel(context.Background())
	resolved := make(chan struct{}, 4)
	s := testScanner(t, client, out, WithProgress(func(ev Event) {
		if ev.Phase == "retrieve" {
			resolved <- struct{}{}
		}
	}))

	go func() {
		// Cancel once the unblocked member has resolved.
		<-resolved
		cancel()
	}()

	result, err := s.Run(ctx)
	if !errors.Is(err, ErrPartialResult) {
		t.Fatalf("expected ErrPartialResult, got %v", err)
	}
	if result == nil || !result.Partial {
		t.Fatal("expected a partial result")
	}
	// user1 resolved before cancellation and was evaluated and persisted.
	if result.Run.MemberCount != 1 {
		t.Errorf("partial member count = %d, want 1", result.Run.MemberCount)
	}
	if len(out.runs) != 1 {
		t.Error("partial results must still be persisted")
	}
}

func TestRunPartialResultsCanceledSink(t *testing.T) {
	// The sink sees the run context; cancellation that interrupted
	// retrieval must not abort persistence of the resolved portion.
	client := newFakeHierarchy()
	client.blockFor["user2@example.com"] = true
	out := &ctxSink{}

	ctx, cancel := context.WithCancel(context.Background())
	resolved := make(chan struct{}, 4)
	s := testScanner(t, client, out, WithProgress(func(ev Event) {
		if ev.Phase == "retrieve" {
			resolved <- struct{}{}
		}
	}))

	go func() {
		<-resolved
		cancel()
	}()

	result, err := s.Run(ctx)
	if !errors.Is(err, ErrPartialResult) {
		t.Fatalf("expected ErrPartialResult, got %v", err)
	}
	if result == nil || !result.Partial {
		t.Fatal("expected a partial result")
	}
	if len(out.runs) != 1 {
		t.Fatalf("partial run written %d times, want 1", len(out.runs))
	}
	if result.Run.MemberCount != 1 {
		t.Errorf("partial member count = %d, want 1", result.Run.MemberCount)
	}
}

func TestRunWithFilter(t *testing.T) {
	client := newFakeHierarchy()
	out := &memorySink{}
	filter, err := rules.NewFilter([]string{`member == "user2@example.com"`})
	if err != nil {
		t.Fatal(err)
	}
	s := testScanner(t, client, out, WithFilter(filter))

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Records) != 0 {
		t.Errorf("allowlisted member still produced %d violations", len(result.Records))
	}
}

func TestRunMemberOrderPreserved(t *testing.T) {
	client := newFakeHierarchy()
	// Both members end up outside the approved org.
	client.ancestries["proj-inside"] = []ancestry.Descriptor{
		{Type: "project", ID: "13579"},
		{Type: "organization", ID: "999"},
	}
	out := &memorySink{}
	s := testScanner(t, client, out, WithConcurrency(4))

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Records) != 3 {
		t.Fatalf("got %d violations, want 3", len(result.Records))
	}
	// Violations follow member enumeration order regardless of which
	// resolution finished first.
	if result.Records[0].ViolationData.Member != "user1@example.com" {
		t.Errorf("first violation member = %q", result.Records[0].ViolationData.Member)
	}
	for _, rec := range result.Records[1:] {
		if rec.ViolationData.Member != "user2@example.com" {
			t.Errorf("trailing violation member = %q", rec.ViolationData.Member)
		}
	}
}

func TestRunEmptyInventory(t *testing.T) {
	client := newFakeHierarchy()
	out := &memorySink{}
	s := New(testEngine(t), inventory.StaticSource{}, client, out,
		WithLogger(slog.New(slog.DiscardHandler)))

	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Records) != 0 || len(out.runs) != 1 {
		t.Error("empty scan must persist an empty violation set")
	}
	if time.Since(result.Run.StartedAt) > time.Minute {
		t.Error("implausible run timestamps")
	}
}
