package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect and manage circuit breakers",
}

var breakerListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show breaker state for every processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		states, err := env.breaker.States(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(states)
	},
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset <processor>",
	Short: "Force a breaker closed and clear its failure streak",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.breaker.ForceReset(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("breaker for %s reset to closed\n", args[0])
		return nil
	},
}

func init() {
	breakerCmd.AddCommand(breakerListCmd, breakerResetCmd)
	rootCmd.AddCommand(breakerCmd)
}
