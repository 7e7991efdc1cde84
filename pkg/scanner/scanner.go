// Package scanner orchestrates one external-project-access scan:
// RETRIEVE (enumerate members, resolve ancestries), EVALUATE (rules engine),
// OUTPUT (flatten, persist).
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mayritza/orgsentry/pkg/ancestry"
	"github.com/mayritza/orgsentry/pkg/inventory"
	"github.com/mayritza/orgsentry/pkg/rules"
	"github.com/mayritza/orgsentry/pkg/sink"
)

// ErrPartialResult indicates the scan was interrupted but the violations
// resolved up to that point were still evaluated and persisted.
var ErrPartialResult = errors.New("scan interrupted, partial results persisted")

// Event reports scan progress to an observer (the TUI).
type Event struct {
	Phase      string
	Member     string
	Chains     int
	Violations int
}

// ProgressFunc receives progress events. Must be fast; called inline.
type ProgressFunc func(Event)

// Result carries everything a scan produced.
type Result struct {
	Run     sink.RunInfo
	Records []sink.Record
	Partial bool
}

// Scanner runs scans. Construct with New; the ancestry cache is created per
// Run and discarded with it.
type Scanner struct {
	engine      *rules.Engine
	source      inventory.Source
	client      ancestry.HierarchyClient
	out         sink.Sink
	filter      *rules.Filter
	logger      *slog.Logger
	tracer      trace.Tracer
	progress    ProgressFunc
	concurrency int
}

// Option overrides a scanner default.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// WithFilter installs a violation allowlist filter.
func WithFilter(f *rules.Filter) Option {
	return func(s *Scanner) { s.filter = f }
}

// WithProgress installs a progress observer.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scanner) { s.progress = fn }
}

// WithConcurrency bounds parallel member resolution.
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New assembles a scanner. The rules engine must already hold a rule book.
func New(engine *rules.Engine, source inventory.Source, client ancestry.HierarchyClient, out sink.Sink, opts ...Option) *Scanner {
	s := &Scanner{
		engine:      engine,
		source:      source,
		client:      client,
		out:         out,
		logger:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
		tracer:      otel.Tracer("orgsentry/scanner"),
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// memberChains pairs a member with its resolved chains, in enumeration order.
type memberChains struct {
	member string
	chains []ancestry.Chain
}

// Run executes one scan. On interruption during retrieval the resolved
// portion is still evaluated and persisted, and the returned error wraps
// ErrPartialResult. Any other failure aborts before output.
func (s *Scanner) Run(ctx context.Context) (*Result, error) {
	run := sink.RunInfo{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	ctx, span := s.tracer.Start(ctx, "scan.run", trace.WithAttributes(
		attribute.String("scan.id", run.ID),
	))
	defer span.End()

	resolved, retrieveErr := s.retrieve(ctx)
	partial := false
	if retrieveErr != nil {
		if !errors.Is(retrieveErr, context.Canceled) && !errors.Is(retrieveErr, context.DeadlineExceeded) {
			span.RecordError(retrieveErr)
			span.SetStatus(codes.Error, retrieveErr.Error())
			return nil, retrieveErr
		}
		partial = true
		s.logger.Warn("Scan interrupted, evaluating resolved members only",
			"resolved_members", len(resolved))
	}

	records := s.evaluate(ctx, resolved)

	run.FinishedAt = time.Now().UTC()
	run.MemberCount = len(resolved)
	run.RuleCount = s.engine.RuleBook().Len()
	span.SetAttributes(
		attribute.Int("scan.members", run.MemberCount),
		attribute.Int("scan.violations", len(records)),
	)

	result := &Result{Run: run, Records: records, Partial: partial}

	// The cancellation that interrupted retrieval must not also cancel
	// persistence of the already-resolved portion.
	outCtx := ctx
	if partial {
		outCtx = context.WithoutCancel(ctx)
	}
	if err := s.output(outCtx, run, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if partial {
			return result, err
		}
		return nil, err
	}

	if partial {
		return result, fmt.Errorf("%w: %w", ErrPartialResult, retrieveErr)
	}
	return result, nil
}

// retrieve enumerates members and resolves each to its ancestry chains.
// Resolution is parallel across members; the shared cache guarantees at
// most one remote ancestry lookup per project for the whole run. Whatever
// was resolved before an error is returned alongside it.
func (s *Scanner) retrieve(parent context.Context) ([]memberChains, error) {
	ctx, span := s.tracer.Start(parent, "scan.retrieve")
	defer span.End()

	cache := ancestry.NewCache()
	resolver := ancestry.NewResolver(s.client, cache, s.logger)

	var (
		mu      sync.Mutex
		results []memberChains
		done    = make(map[int]bool)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	index := 0
	var sourceErr error
	for member, err := range s.source.Members(ctx) {
		if err != nil {
			sourceErr = err
			break
		}
		i, m := index, member
		index++

		mu.Lock()
		results = append(results, memberChains{member: m})
		mu.Unlock()

		g.Go(func() error {
			span.AddEvent("resolve", trace.WithAttributes(attribute.String("member", m)))
			chains, err := resolver.ResolveMember(gctx, m)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i].chains = chains
			done[i] = true
			mu.Unlock()
			s.emit(Event{Phase: "retrieve", Member: m, Chains: len(chains)})
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = sourceErr
	}
	span.SetAttributes(attribute.Int("scan.cached_projects", cache.Len()))

	if err != nil {
		span.RecordError(err)
		// Keep only members that finished resolving.
		mu.Lock()
		kept := results[:0]
		for i := range results {
			if done[i] {
				kept = append(kept, results[i])
			}
		}
		results = kept
		mu.Unlock()
		return results, err
	}
	return results, nil
}

// evaluate runs the rules engine over every chain, in member enumeration
// order, then chain order, then rule-book iteration order.
func (s *Scanner) evaluate(ctx context.Context, resolved []memberChains) []sink.Record {
	_, span := s.tracer.Start(ctx, "scan.evaluate")
	defer span.End()

	s.logger.Info("Finding project access violations", "members", len(resolved))

	var records []sink.Record
	suppressed := 0
	for _, mc := range resolved {
		for _, chain := range mc.chains {
			for v := range s.engine.FindViolations(mc.member, chain) {
				if s.filter.Suppressed(v) {
					suppressed++
					continue
				}
				records = append(records, sink.Flatten(v))
			}
		}
	}
	if suppressed > 0 {
		s.logger.Info("Violations suppressed by allowlist", "count", suppressed)
	}
	s.emit(Event{Phase: "evaluate", Violations: len(records)})
	span.SetAttributes(attribute.Int("scan.suppressed", suppressed))
	return records
}

// output hands the flattened violations to the sink. Sink failures abort
// the scan and are not retried.
func (s *Scanner) output(ctx context.Context, run sink.RunInfo, records []sink.Record) error {
	ctx, span := s.tracer.Start(ctx, "scan.output")
	defer span.End()

	if err := s.out.Write(ctx, run, records); err != nil {
		return fmt.Errorf("persisting scan results: %w", err)
	}
	s.emit(Event{Phase: "output", Violations: len(records)})
	s.logger.Info("Scan results persisted", "scan_id", run.ID, "violations", len(records))
	return nil
}

func (s *Scanner) emit(ev Event) {
	if s.progress != nil {
		s.progress(ev)
	}
}
