package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/mayritza/orgsentry/pkg/config"
)

func TestInitConfigFlagBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "rules_file: file-rules.yaml\nresults_db: file-results.db\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		viper.Reset()
		cfgFile = ""
		cfg = config.Default()
	})

	cfgFile = path
	// An explicitly passed flag must survive the config file.
	if err := rootCmd.PersistentFlags().Set("rules", "cli-rules.yaml"); err != nil {
		t.Fatal(err)
	}
	initConfig()

	if cfg.RulesFile != "cli-rules.yaml" {
		t.Errorf("RulesFile = %q, want the flag value cli-rules.yaml", cfg.RulesFile)
	}
	// An untouched flag yields to the config file.
	if cfg.ResultsDB != "file-results.db" {
		t.Errorf("ResultsDB = %q, want the file value file-results.db", cfg.ResultsDB)
	}
}
