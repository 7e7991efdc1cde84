package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mayritza/orgsentry/pkg/crm"
	"github.com/mayritza/orgsentry/pkg/db"
	"github.com/mayritza/orgsentry/pkg/inventory"
	"github.com/mayritza/orgsentry/pkg/rules"
	"github.com/mayritza/orgsentry/pkg/scanner"
	"github.com/mayritza/orgsentry/pkg/sink"
	"github.com/mayritza/orgsentry/pkg/storage"
	"github.com/mayritza/orgsentry/pkg/telemetry"
	"github.com/mayritza/orgsentry/pkg/tui"
	"github.com/mayritza/orgsentry/pkg/version"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Audit project access against the ancestry rules",
	Long: `Enumerates audited identities, resolves each accessible project to its
organization/folder ancestry, and records a violation for every rule whose
approved ancestor the project does not descend from.

Use --headless for CI mode (no TUI).

Example:
  orgsentry scan --rules rules.yaml --root-resource organizations/567890
  orgsentry scan --headless --members alice@example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if headless, _ := cmd.Flags().GetBool("headless"); headless {
			cfg.Headless = true
		}
		return runScan(cmd.Context())
	},
}

func init() {
	scanCmd.Flags().Bool("headless", false, "Disable the interactive TUI")
	scanCmd.Flags().StringSliceVar(&cfg.Members, "members", nil, "Audit these identities instead of the inventory")
	scanCmd.Flags().StringSliceVar(&cfg.Allowlist, "allow", nil, "CEL expressions suppressing matching violations")
}

// buildScanner assembles the scan pipeline from configuration. The returned
// cleanup closes database handles.
func buildScanner(ctx context.Context, progress scanner.ProgressFunc) (*scanner.Scanner, func(), error) {
	logger := newLogger()

	var closers []func()
	if !cfg.SkipTelemetry {
		if shutdown, err := telemetry.Init(ctx, version.AppName, version.Current, cfg.OtelEndpoint); err != nil {
			logger.Warn("Telemetry init failed", "error", err)
		} else {
			closers = append(closers, func() { _ = shutdown(context.Background()) })
		}
	}

	defs, err := rules.LoadDefs(cfg.RulesFile, cfg.RootResource)
	if err != nil {
		return nil, nil, err
	}
	engine := rules.NewEngine()
	if err := engine.BuildRuleBook(defs, true); err != nil {
		return nil, nil, err
	}
	logger.Info("Rule book built", "rules", engine.RuleBook().Len())

	filter, err := rules.NewFilter(cfg.Allowlist)
	if err != nil {
		return nil, nil, err
	}

	var source inventory.Source
	if len(cfg.Members) > 0 {
		source = inventory.StaticSource(cfg.Members)
	} else {
		invConn, err := db.Open(cfg.InventoryDB)
		if err != nil {
			return nil, nil, fmt.Errorf("opening inventory database: %w", err)
		}
		closers = append(closers, func() { invConn.Close() })
		source = inventory.NewSQLiteSource(invConn, cfg.MemberKind)
	}

	resConn, err := db.Open(cfg.ResultsDB)
	if err != nil {
		return nil, nil, fmt.Errorf("opening results database: %w", err)
	}
	closers = append(closers, func() { resConn.Close() })
	out, err := sink.NewSQLiteSink(resConn)
	if err != nil {
		return nil, nil, err
	}

	client := crm.NewClient(envTokenSource, crm.WithRateLimit(cfg.APIRate, int(cfg.APIRate)))

	s := scanner.New(engine, source, client, out,
		scanner.WithLogger(logger),
		scanner.WithFilter(filter),
		scanner.WithConcurrency(cfg.MaxConcurrency),
		scanner.WithProgress(progress),
	)
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return s, cleanup, nil
}

// envTokenSource hands out the access token minted by the deployment's
// credential broker. Delegated per-member tokens are the broker's concern.
func envTokenSource(ctx context.Context, member string) (string, error) {
	token := os.Getenv("ORGSENTRY_ACCESS_TOKEN")
	if token == "" {
		return "", fmt.Errorf("ORGSENTRY_ACCESS_TOKEN is not set")
	}
	return token, nil
}

func runScan(ctx context.Context) error {
	if cfg.Headless {
		s, cleanup, err := buildScanner(ctx, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := s.Run(ctx)
		if err != nil && !errors.Is(err, scanner.ErrPartialResult) {
			return err
		}
		printSummary(result)
		return exportArtifacts(ctx, result)
	}

	// Quitting the TUI early cancels the scan rather than leaving it
	// running detached.
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan tea.Msg, 64)
	s, cleanup, err := buildScanner(ctx, func(ev scanner.Event) {
		events <- tui.ProgressMsg(ev)
	})
	if err != nil {
		return err
	}
	defer cleanup()

	go func() {
		res, err := s.Run(scanCtx)
		events <- tui.DoneMsg{Result: res, Err: err}
	}()

	p := tea.NewProgram(tui.NewModel(events))
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("running interface: %w", err)
	}
	m, ok := final.(tui.Model)
	if !ok || m.Result() == nil {
		return nil
	}
	if m.Err() != nil && !errors.Is(m.Err(), scanner.ErrPartialResult) {
		return m.Err()
	}
	return exportArtifacts(ctx, m.Result())
}

func printSummary(result *scanner.Result) {
	if result == nil {
		return
	}
	style := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99"))
	if len(result.Records) > 0 {
		style = style.Foreground(lipgloss.Color("#FF3366"))
	}
	state := "clean"
	if result.Partial {
		state = "partial"
	}
	fmt.Println(style.Render(fmt.Sprintf("Scan %s (%s): %d member(s), %d violation(s)",
		result.Run.ID, state, result.Run.MemberCount, len(result.Records))))
}

func exportArtifacts(ctx context.Context, result *scanner.Result) error {
	if result == nil {
		return nil
	}
	exporter := sink.NewExporter(storage.NewLocalStore(cfg.OutputDir))
	csvKey := filepath.Join(result.Run.ID, "violations.csv")
	jsonKey := filepath.Join(result.Run.ID, "violations.json")
	if err := exporter.ExportCSV(ctx, csvKey, result.Records); err != nil {
		return fmt.Errorf("exporting CSV: %w", err)
	}
	if err := exporter.ExportJSON(ctx, jsonKey, result.Records); err != nil {
		return fmt.Errorf("exporting JSON: %w", err)
	}
	fmt.Printf("Artifacts written to %s\n", filepath.Join(cfg.OutputDir, result.Run.ID))
	return nil
}
