package commands

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// healthReport is printed by `kamui health`.
type healthReport struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Tools   int    `json:"tools"`
}

// errUnhealthy makes the command exit non-zero for container health checks.
var errUnhealthy = errors.New("agent health check failed")

// newHealthCmd creates the `kamui health` command. It runs a trivial prompt
// through the agent pipeline and is suitable for Docker HEALTHCHECK.
func newHealthCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the agent answers",
		Long:  `Send a trivial prompt through the agent pipeline and print a JSON status. Exits non-zero when the agent does not answer.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			logger := newLogger(cmd, cfg.Logging, os.Stderr)
			pipe := newPipeline(cfg, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report := healthReport{Status: "ok", Version: version, Tools: len(pipe.tools.Tools())}
			if !pipe.processor.Health(ctx) {
				report.Status = "unhealthy"
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Status != "ok" {
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 60*time.Second, "how long to wait for the agent")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
