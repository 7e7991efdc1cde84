package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mayritza/orgsentry/pkg/config"
	"github.com/mayritza/orgsentry/pkg/version"
)

var (
	cfgFile string
	cfg     = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "orgsentry",
	Short: "External project access auditor",
	Long: `orgsentry audits which organizations and folders your identities'
accessible projects descend from, and flags access outside the approved
ancestry allow-list.`,
	Version: version.Current,
	Run:     nil,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.orgsentry.yaml)")
	rootCmd.PersistentFlags().StringVar(&cfg.RulesFile, "rules", cfg.RulesFile, "Path to the YAML rules document")
	rootCmd.PersistentFlags().StringVar(&cfg.RootResource, "root-resource", "", "Hierarchy root, e.g. organizations/567890")
	rootCmd.PersistentFlags().StringVar(&cfg.InventoryDB, "inventory-db", cfg.InventoryDB, "SQLite inventory database")
	rootCmd.PersistentFlags().StringVar(&cfg.ResultsDB, "results-db", cfg.ResultsDB, "SQLite results database")
	rootCmd.PersistentFlags().StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory for report artifacts")
	rootCmd.PersistentFlags().IntVar(&cfg.MaxConcurrency, "concurrency", cfg.MaxConcurrency, "Parallel member resolutions")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&cfg.JSONLogs, "json-logs", false, "Emit JSON logs")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(exportCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.SetConfigFile(filepath.Join(home, ".orgsentry.yaml"))
			viper.SetConfigType("yaml")
		}
	}
	viper.SetEnvPrefix("orgsentry")
	viper.AutomaticEnv()
	bindFlags()
	_ = viper.ReadInConfig()
	_ = viper.Unmarshal(&cfg)
}

// bindFlags registers the config keys backed by command-line flags, so an
// explicitly passed flag beats the config file while the file still beats
// the flag's default.
func bindFlags() {
	pf := rootCmd.PersistentFlags()
	_ = viper.BindPFlag("rules_file", pf.Lookup("rules"))
	_ = viper.BindPFlag("root_resource", pf.Lookup("root-resource"))
	_ = viper.BindPFlag("inventory_db", pf.Lookup("inventory-db"))
	_ = viper.BindPFlag("results_db", pf.Lookup("results-db"))
	_ = viper.BindPFlag("output_dir", pf.Lookup("output-dir"))
	_ = viper.BindPFlag("max_concurrency", pf.Lookup("concurrency"))
	_ = viper.BindPFlag("verbose", pf.Lookup("verbose"))
	_ = viper.BindPFlag("json_logs", pf.Lookup("json-logs"))

	sf := scanCmd.Flags()
	_ = viper.BindPFlag("members", sf.Lookup("members"))
	_ = viper.BindPFlag("allowlist", sf.Lookup("allow"))
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSONLogs {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
