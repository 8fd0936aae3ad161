package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/flowgate/internal/engine"
	"github.com/sells-group/flowgate/internal/model"
)

var (
	evalStart      string
	evalEnd        string
	evalEntities   []string
	evalBackfill   bool
	evalTrigger    string
	evalChangeKind string
	evalDeadline   string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <processor>",
	Short: "Evaluate whether a processor should run over a date range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		start, err := time.Parse("2006-01-02", evalStart)
		if err != nil {
			return eris.Wrap(err, "parse --start")
		}
		end, err := time.Parse("2006-01-02", evalEnd)
		if err != nil {
			return eris.Wrap(err, "parse --end")
		}

		req := engine.Request{
			Unit: model.ProcessingUnit{
				Processor:  args[0],
				Start:      start,
				End:        end,
				EntityIDs:  evalEntities,
				IsBackfill: evalBackfill,
				Trigger:    model.TriggerSource(evalTrigger),
			},
			Kind: model.ChangeKind(evalChangeKind),
		}
		if evalDeadline != "" {
			d, err := time.Parse(time.RFC3339, evalDeadline)
			if err != nil {
				return eris.Wrap(err, "parse --deadline")
			}
			req.Deadline = &d
		}

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		verdict, err := env.engine.Evaluate(ctx, req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(verdict)
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evalStart, "start", "", "range start date (YYYY-MM-DD)")
	evaluateCmd.Flags().StringVar(&evalEnd, "end", "", "range end date (YYYY-MM-DD)")
	evaluateCmd.Flags().StringSliceVar(&evalEntities, "entity", nil, "restrict to entity ids (repeatable)")
	evaluateCmd.Flags().BoolVar(&evalBackfill, "backfill", false, "mark the unit as a recovery run")
	evaluateCmd.Flags().StringVar(&evalTrigger, "trigger", "manual", "trigger source: schedule, event, or manual")
	evaluateCmd.Flags().StringVar(&evalChangeKind, "change", "routine", "change kind: status_flip, routine, or correction")
	evaluateCmd.Flags().StringVar(&evalDeadline, "deadline", "", "next real-world deadline (RFC 3339)")
	_ = evaluateCmd.MarkFlagRequired("start")
	_ = evaluateCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(evaluateCmd)
}
