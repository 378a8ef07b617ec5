package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/answerlens/answerlens/internal/model"
)

var (
	runProject string
	runPrompt  string
	runEngine  string
	runRegion  string
	runDevice  string
	runConfig  string
	runCycles  int
	runDelay   int
	runDomains []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a single prompt against one engine and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var engineConfig map[string]any
		if runConfig != "" {
			if err := json.Unmarshal([]byte(runConfig), &engineConfig); err != nil {
				return eris.Wrap(err, "parse --config")
			}
		}

		for _, d := range runDomains {
			if _, err := env.Store.AddDomain(ctx, runProject, d); err != nil {
				return eris.Wrapf(err, "add domain %s", d)
			}
		}

		eng, err := env.Store.ResolveEngine(ctx, runProject, model.EngineSpec{
			Name:   runEngine,
			Region: runRegion,
			Device: runDevice,
			Config: engineConfig,
		})
		if err != nil {
			return eris.Wrap(err, "resolve engine")
		}
		pv, err := env.Store.CreatePromptVersion(ctx, runProject, runPrompt)
		if err != nil {
			return eris.Wrap(err, "snapshot prompt")
		}
		run, err := env.Store.CreateRun(ctx, model.Run{
			ProjectID:       runProject,
			PromptVersionID: pv.ID,
			EngineID:        eng.ID,
			Cycles:          runCycles,
			DelaySeconds:    runDelay,
		})
		if err != nil {
			return eris.Wrap(err, "create run")
		}

		zap.L().Info("executing run",
			zap.String("run_id", run.ID),
			zap.String("engine", eng.Name),
			zap.Int("cycles", run.Cycles),
		)

		if err := env.Orchestrator.Execute(ctx, run.ID); err != nil {
			return err
		}

		report, err := env.Scorer.ComputeReport(ctx, run.ID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	runCmd.Flags().StringVar(&runProject, "project", "default", "project ID")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "prompt text to execute")
	runCmd.Flags().StringVar(&runEngine, "engine", "sandbox", "engine name (google_serp, perplexity, claude, sandbox)")
	runCmd.Flags().StringVar(&runRegion, "region", "", "engine region, e.g. br")
	runCmd.Flags().StringVar(&runDevice, "device", "", "engine device, e.g. desktop")
	runCmd.Flags().StringVar(&runConfig, "config", "", "engine config as JSON")
	runCmd.Flags().IntVar(&runCycles, "cycles", 1, "number of fetch cycles")
	runCmd.Flags().IntVar(&runDelay, "delay", 0, "seconds between cycles")
	runCmd.Flags().StringSliceVar(&runDomains, "domain", nil, "own domain for KPI tagging (repeatable)")
	_ = runCmd.MarkFlagRequired("prompt")
	rootCmd.AddCommand(runCmd)
}
