package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/autoflow/pkg/schema"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-id>",
	Short: "Run one workflow now and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ec := schema.ExecutionContext{Source: schema.SourceManual}
		if raw, _ := cmd.Flags().GetString("data"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &ec.Data); err != nil {
				return fmt.Errorf("--data must be a JSON object: %w", err)
			}
		}
		ec.UserID, _ = cmd.Flags().GetString("user")

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.close(ctx) }()

		result, runErr := a.executor.Run(ctx, args[0], ec)
		if result != nil {
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().String("data", "", "Trigger data as a JSON object")
	runCmd.Flags().String("user", "", "User the run acts for (default: workflow owner)")
	rootCmd.AddCommand(runCmd)
}
