package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/flowgate/internal/cascade"
	"github.com/sells-group/flowgate/internal/model"
)

var correctDate string

var correctCmd = &cobra.Command{
	Use:   "correct <source>",
	Short: "Announce a historical data correction for a source",
	Long:  "Publishes a correction event. The worker flags every completeness record whose window used the corrected date and queues recomputation.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		date, err := time.Parse("2006-01-02", correctDate)
		if err != nil {
			return eris.Wrap(err, "parse --date")
		}

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.conn.EnsureStream(ctx, cascade.StreamName, cfg.NATS.CorrectionPref); err != nil {
			return err
		}

		ev := model.CorrectionEvent{
			Source:        args[0],
			CorrectedDate: date,
			OccurredAt:    time.Now().UTC(),
		}
		if err := cascade.Publish(ctx, env.conn, cfg.NATS.CorrectionPref, ev); err != nil {
			return err
		}
		fmt.Printf("correction published for %s %s\n", args[0], correctDate)
		return nil
	},
}

func init() {
	correctCmd.Flags().StringVar(&correctDate, "date", "", "corrected date (YYYY-MM-DD)")
	_ = correctCmd.MarkFlagRequired("date")
	rootCmd.AddCommand(correctCmd)
}
