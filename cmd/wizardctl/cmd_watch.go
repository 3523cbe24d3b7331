package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"persona-sim-api/pkg/models"
	"persona-sim-api/pkg/services"

	"github.com/spf13/cobra"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <audience-id>",
		Short: "Poll an audience until its segments are generated",
		Long: `Poll GET /audience/{id}/segments with the same schedule the wizard uses
(POLL_FIRST_RETRY_DELAY, then POLL_RETRY_DELAY) and print each stage.
Ctrl-C stops polling.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return watchGeneration(ctx, cmd, app.Generation, models.ID(args[0]), interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "status print interval")
	return cmd
}

// watchGeneration 状態が変わるたびに1行出力する
func watchGeneration(ctx context.Context, cmd *cobra.Command, generation *services.GenerationService, audienceID models.ID, interval time.Duration) error {
	out := cmd.OutOrStdout()
	status := generation.Start(audienceID, nil)
	done := generation.Done(audienceID)

	var last services.GenerationState
	report := func(st services.GenerationStatus) {
		if st.State == last {
			return
		}
		last = st.State
		fmt.Fprintf(out, "[%s] %s\n", st.State, st.Message)
	}
	report(status)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			generation.Cancel(audienceID)
			fmt.Fprintln(out, "stopped")
			return nil
		case <-done:
			st, _ := generation.Status(audienceID)
			report(st)
			switch st.State {
			case services.StateComplete:
				for _, seg := range st.Segments {
					fmt.Fprintf(out, "  %s\t%s\t%d personas\n", seg.ID, seg.Name, seg.Count)
				}
				return nil
			case services.StateError:
				return fmt.Errorf("generation failed: %s", st.Error)
			}
			return nil
		case <-ticker.C:
			if st, ok := generation.Status(audienceID); ok {
				report(st)
			}
		}
	}
}
