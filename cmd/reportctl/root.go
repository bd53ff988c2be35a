package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	v1 "carbon-scribe/report-engine/api/v1"
	"carbon-scribe/report-engine/internal/config"
)

var (
	configPath   string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "reportctl",
	Short: "Generate and inspect declarative reports",
	Long: `reportctl runs the report engine from the command line.

Reports are generated as the system principal, so permission checks pass.
Definitions, cache and storage come from the same configuration file the
API server uses.

Examples:
  reportctl list
  reportctl schema sales_summary --output yaml
  reportctl generate sales_summary -p year=2025 -f csv -o sales.csv
  reportctl validate definitions/*.yaml
  reportctl cache clear sales_summary`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "json", "Output format for structured results: json | yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
}

// setup loads configuration and builds the engine
func setup(ctx context.Context) (*config.Config, *v1.ReportsAPI, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := zap.NewNop()
	if verbose {
		if logger, err = (config.LoggingConfig{Level: "debug", Development: true}).NewLogger(); err != nil {
			return nil, nil, err
		}
	}

	api, err := v1.SetupReportsAPI(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, api, nil
}

// printStructured writes v as indented JSON or YAML
func printStructured(w io.Writer, v any) error {
	switch outputFormat {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return fmt.Errorf("unknown output format %q", outputFormat)
}
