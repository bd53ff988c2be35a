package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"carbon-scribe/report-engine/internal/config"
	"carbon-scribe/report-engine/internal/reports/definitions"
	"carbon-scribe/report-engine/internal/reports/expression"
)

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Validate report definition files",
	Long: `Validate report definition files without touching a database.

With no arguments every *.yaml, *.yml and *.json file in the configured
definitions directory is checked. The command fails when any file is invalid.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	files := args
	if len(files) == 0 {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		for _, pattern := range []string{"*.yaml", "*.yml", "*.json"} {
			matches, err := filepath.Glob(filepath.Join(cfg.Reports.DefinitionsDir, pattern))
			if err != nil {
				return err
			}
			files = append(files, matches...)
		}
	}

	validator := definitions.NewValidator(expression.NewEngine())
	failed := 0
	for _, file := range files {
		if err := validateFile(validator, file); err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", file, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok   %s\n", file)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d definitions invalid", failed, len(files))
	}
	return nil
}

func validateFile(validator *definitions.Validator, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	def, err := definitions.Decode(data)
	if err != nil {
		return err
	}
	if code, ok := definitions.CodeFromPath(path); ok && def.Meta.Code != code {
		return fmt.Errorf("meta.code %q does not match file name %q", def.Meta.Code, code)
	}
	return validator.Validate(def)
}
