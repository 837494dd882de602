package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/observability"
	"github.com/xkilldash9x/deskpilot/internal/store"
)

// turnLister is the read side of the archive.
type turnLister interface {
	TurnsByTask(ctx context.Context, taskID string) ([]schemas.TurnRecord, error)
}

var openArchive = func(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (turnLister, func(), error) {
	return store.Open(ctx, cfg, logger)
}

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show the archived turns of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.BindEnv(v)
			var storeCfg config.StoreConfig
			if err := v.UnmarshalKey("store", &storeCfg); err != nil {
				return fmt.Errorf("failed to unmarshal store config: %w", err)
			}
			if storeCfg.URL == "" {
				return fmt.Errorf("store.url is required to read the turn archive")
			}

			archive, cleanup, err := openArchive(cmd.Context(), storeCfg, observability.GetLogger())
			if err != nil {
				return err
			}
			defer cleanup()

			turns, err := archive.TurnsByTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(turns) == 0 {
				return fmt.Errorf("no turns archived for task %s", args[0])
			}
			return printTurns(cmd.OutOrStdout(), turns)
		},
	}
}

func printTurns(out io.Writer, turns []schemas.TurnRecord) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TURN\tOUTCOME\tACTIONS\tDURATION\tDETAIL")
	for _, t := range turns {
		detail := t.Reasoning
		if t.Error != "" {
			detail = t.ErrorCode + ": " + t.Error
		}
		fmt.Fprintf(w, "%d\t%s\t%d/%d\t%s\t%s\n",
			t.Turn, t.Outcome, t.Executed, len(t.Actions),
			t.CompletedAt.Sub(t.StartedAt).Round(time.Millisecond), detail)
	}
	return w.Flush()
}
