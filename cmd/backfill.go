package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/flowgate/internal/model"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Inspect and manage the recovery queue",
}

var backfillListState string

var backfillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recovery requests by state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		reqs, err := env.queue.List(ctx, model.BackfillState(backfillListState), 100)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reqs)
	},
}

var backfillDepthCmd = &cobra.Command{
	Use:   "depth",
	Short: "Show the number of open recovery requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		depth, err := env.queue.Depth(ctx)
		if err != nil {
			return err
		}
		fmt.Println(depth)
		return nil
	},
}

var (
	backfillDate     string
	backfillPriority string
	backfillReason   string
)

var backfillEnqueueCmd = &cobra.Command{
	Use:   "enqueue <processor>",
	Short: "Queue a recovery run for one date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		date, err := time.Parse("2006-01-02", backfillDate)
		if err != nil {
			return eris.Wrap(err, "parse --date")
		}

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		req, created, err := env.queue.Enqueue(ctx, args[0], date,
			model.Priority(backfillPriority), backfillReason)
		if err != nil {
			return err
		}
		if !created {
			fmt.Println("an open request for this date already exists")
			return nil
		}
		fmt.Printf("queued %s\n", req.ID)
		return nil
	},
}

var backfillRequeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Return a failed request to the queue if attempts remain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		requeued, err := env.queue.Requeue(ctx, args[0])
		if err != nil {
			return err
		}
		if !requeued {
			fmt.Println("not requeued: request is not failed or its attempt budget is exhausted")
			return nil
		}
		fmt.Println("requeued")
		return nil
	},
}

func init() {
	backfillListCmd.Flags().StringVar(&backfillListState, "state", "queued",
		"state filter: queued, processing, completed, or failed")
	backfillEnqueueCmd.Flags().StringVar(&backfillDate, "date", "", "target date (YYYY-MM-DD)")
	backfillEnqueueCmd.Flags().StringVar(&backfillPriority, "priority", string(model.PriorityNormal),
		"priority tier")
	backfillEnqueueCmd.Flags().StringVar(&backfillReason, "reason", "manual enqueue", "trigger reason")
	_ = backfillEnqueueCmd.MarkFlagRequired("date")

	backfillCmd.AddCommand(backfillListCmd, backfillDepthCmd, backfillEnqueueCmd, backfillRequeueCmd)
	rootCmd.AddCommand(backfillCmd)
}
