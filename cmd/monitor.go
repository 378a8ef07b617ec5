package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/answerlens/answerlens/internal/model"
)

var monitorWait time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Operate monitors",
}

var monitorRunCmd = &cobra.Command{
	Use:   "run <monitor-id>",
	Short: "Fan out a monitor's runs immediately and wait for them to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		env.Dispatcher.Start(ctx)
		defer env.Dispatcher.Stop()

		runs, err := env.Scheduler.RunNow(ctx, args[0])
		if err != nil {
			return err
		}
		zap.L().Info("monitor fan-out created runs", zap.Int("count", len(runs)))

		finished, err := waitForRuns(cmd, env, runs, monitorWait)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(finished)
	},
}

// waitForRuns polls until every run reaches a terminal status or the wait
// budget elapses.
func waitForRuns(cmd *cobra.Command, env *appEnv, runs []*model.Run, wait time.Duration) ([]*model.Run, error) {
	ctx := cmd.Context()
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		var finished []*model.Run
		done := true
		for _, r := range runs {
			got, err := env.Store.GetRun(ctx, r.ID)
			if err != nil {
				return nil, err
			}
			if !got.Status.Terminal() {
				done = false
				break
			}
			finished = append(finished, got)
		}
		if done {
			return finished, nil
		}
		if time.Now().After(deadline) {
			return nil, eris.Errorf("timed out after %s waiting for %d runs", wait, len(runs))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func init() {
	monitorRunCmd.Flags().DurationVar(&monitorWait, "wait", 10*time.Minute, "how long to wait for the spawned runs")
	monitorCmd.AddCommand(monitorRunCmd)
	rootCmd.AddCommand(monitorCmd)
}
