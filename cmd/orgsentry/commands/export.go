package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mayritza/orgsentry/pkg/scanner"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run a headless scan and export the violation report (CSV, JSON)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Headless = true
		s, cleanup, err := buildScanner(cmd.Context(), nil)
		if err != nil {
			return fmt.Errorf("export failed (init): %w", err)
		}
		defer cleanup()

		result, err := s.Run(cmd.Context())
		if err != nil && !errors.Is(err, scanner.ErrPartialResult) {
			return fmt.Errorf("export failed: %w", err)
		}
		return exportArtifacts(cmd.Context(), result)
	},
}
