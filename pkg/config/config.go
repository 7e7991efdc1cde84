// Package config defines scan configuration and its defaults.
package config

// Config holds scanner settings, populated from flags and the config file.
type Config struct {
	// RulesFile is the path of the YAML rules document.
	RulesFile string `mapstructure:"rules_file"`
	// RootResource is the configured hierarchy root ("organizations/<id>"),
	// used as the baseline rule when the rules document is empty.
	RootResource string `mapstructure:"root_resource"`
	// InventoryDB is the path of the SQLite inventory database.
	InventoryDB string `mapstructure:"inventory_db"`
	// ResultsDB is the path of the SQLite database violations land in.
	ResultsDB string `mapstructure:"results_db"`
	// MemberKind selects which inventory members are audited.
	MemberKind string `mapstructure:"member_kind"`
	// Members overrides the inventory with a static identity list.
	Members []string `mapstructure:"members"`
	// Allowlist holds CEL expressions suppressing matching violations.
	Allowlist []string `mapstructure:"allowlist"`
	// OutputDir is where report artifacts (CSV, JSON) are written.
	OutputDir string `mapstructure:"output_dir"`
	// MaxConcurrency bounds parallel member resolution.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// APIRate caps hierarchy API calls per second.
	APIRate float64 `mapstructure:"api_rate"`
	// Headless disables the interactive TUI.
	Headless bool `mapstructure:"headless"`
	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose"`
	// JSONLogs switches log output to JSON.
	JSONLogs bool `mapstructure:"json_logs"`
	// OtelEndpoint overrides the OTLP trace endpoint.
	OtelEndpoint string `mapstructure:"otel_endpoint"`
	// SkipTelemetry disables tracer setup when embedding.
	SkipTelemetry bool `mapstructure:"skip_telemetry"`
}

// Default returns the safe baseline configuration.
func Default() Config {
	return Config{
		RulesFile:      "rules/external_project_access_rules.yaml",
		InventoryDB:    "inventory.db",
		ResultsDB:      "orgsentry.db",
		MemberKind:     "gsuite_user_member",
		OutputDir:      "orgsentry-out",
		MaxConcurrency: 8,
		APIRate:        10,
	}
}
