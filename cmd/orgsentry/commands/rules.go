package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mayritza/orgsentry/pkg/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the ancestry rule book",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the rules document and show the effective rule book",
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := rules.LoadDefs(cfg.RulesFile, cfg.RootResource)
		if err != nil {
			return describeSchemaError(err)
		}
		book, err := rules.BuildRuleBook(defs)
		if err != nil {
			return describeSchemaError(err)
		}
		fmt.Printf("%s: %d definition(s), %d effective rule(s)\n", cfg.RulesFile, len(defs), book.Len())
		for rule := range book.All() {
			fmt.Printf("  [%d] %s -> %s\n", rule.Index, rule.Name, rule.Ancestor.Name())
		}
		return nil
	},
}

func describeSchemaError(err error) error {
	var schemaErr *rules.InvalidRulesSchemaError
	if errors.As(err, &schemaErr) {
		return fmt.Errorf("rules document is invalid: %w", schemaErr)
	}
	return err
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
}
