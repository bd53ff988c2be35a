package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"carbon-scribe/report-engine/internal/auth"
	"carbon-scribe/report-engine/internal/config"
	"carbon-scribe/report-engine/internal/reports"
	"carbon-scribe/report-engine/internal/reports/definitions"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [code]",
	Short: "Drop cached results of one report, or of all reports",
	Long: `Drop cached results. Only persistent backends (sqlite) are affected
across processes; the memory backend lives inside the API server and is
cleared through DELETE /api/v1/reports/:code/cache.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, api, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer api.Close()

		if api.Cache == nil {
			return errors.New("caching is disabled in this configuration")
		}

		var n int
		if len(args) == 1 {
			n, err = api.Engine.Invalidate(cmd.Context(), args[0])
		} else {
			n, err = api.Cache.Clear(cmd.Context())
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", n)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <files...>",
	Short: "Store definition files in the database definition source",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, api, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer api.Close()

		if api.Database == nil {
			return fmt.Errorf("definition source %q has no database", cfg.Reports.DefinitionSource)
		}
		validator := api.Definitions.Validator()
		for _, file := range args {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			def, err := definitions.Decode(data)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			if err := validator.Validate(def); err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			if err := api.Database.Save(cmd.Context(), def); err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s\n", def.Meta.Code)
		}
		return nil
	},
}

var (
	tokenSubject   string
	tokenUsername  string
	tokenSuperuser bool
	tokenRoles     []string
	tokenTTL       time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the report API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		tokens, err := auth.NewTokenManager(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)
		if err != nil {
			return err
		}

		principal := &reports.Principal{ID: tokenSubject, Username: tokenUsername, IsSuperuser: tokenSuperuser}
		for _, role := range tokenRoles {
			principal.Roles = append(principal.Roles, reports.RoleGrant{Code: role})
		}
		token, err := tokens.Issue(principal, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd, importCmd, tokenCmd)

	tokenCmd.Flags().StringVar(&tokenSubject, "sub", "cli", "Token subject")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "Username claim")
	tokenCmd.Flags().BoolVar(&tokenSuperuser, "superuser", false, "Grant superuser")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "Role codes (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
}
