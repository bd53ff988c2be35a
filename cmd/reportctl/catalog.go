package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available reports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, api, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer api.Close()

		metas, err := api.Engine.ListAvailable(cmd.Context(), nil)
		if err != nil {
			return err
		}
		if listStructured {
			return printStructured(cmd.OutOrStdout(), metas)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CODE\tNAME\tCATEGORY")
		for _, m := range metas {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Code, m.Name, m.Category)
		}
		return tw.Flush()
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema <code>",
	Short: "Show a report's parameters and export formats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, api, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer api.Close()

		schema, err := api.Engine.GetSchema(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printStructured(cmd.OutOrStdout(), schema)
	},
}

var listStructured bool

func init() {
	rootCmd.AddCommand(listCmd, schemaCmd)
	listCmd.Flags().BoolVar(&listStructured, "structured", false, "Print metas in the --output format instead of a table")
}
