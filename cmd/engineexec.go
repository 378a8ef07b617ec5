package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/answerlens/answerlens/internal/engine"
	"github.com/answerlens/answerlens/internal/runner"
)

// engineExecCmd is the isolated worker entry point: the runner re-invokes
// this binary with `engine-exec`, writes a request on stdin, and reads the
// response from stdout. Pipeline failures travel in-band in the response;
// only transport problems exit non-zero.
var engineExecCmd = &cobra.Command{
	Use:    "engine-exec",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			return eris.Wrap(err, "engine-exec: read request")
		}
		out, err := runner.Exec(cmd.Context(), engine.NewFactory(engineDeps()), payload)
		if err != nil {
			return err
		}
		if _, err := os.Stdout.Write(out); err != nil {
			return eris.Wrap(err, "engine-exec: write response")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(engineExecCmd)
}
