package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// DrainResult is the output of the drain command.
type DrainResult struct {
	Applied       int    `json:"applied"`
	Failed        int    `json:"failed"`
	DeadLettered  int    `json:"dead_lettered"`
	Deferred      int    `json:"deferred"`
	NextAttemptAt string `json:"next_attempt_at,omitempty"`
	Remaining     int    `json:"remaining"`
}

func (r DrainResult) String() string {
	s := fmt.Sprintf("applied %d, failed %d, dead-lettered %d, deferred %d, %d left in queue",
		r.Applied, r.Failed, r.DeadLettered, r.Deferred, r.Remaining)
	if r.NextAttemptAt != "" {
		s += "\nnext retry due at " + r.NextAttemptAt
	}
	return s
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Apply every due queued action once",
		Long: `Drain the local queue against the remote store once and report the
outcome. Actions still backing off are left for a later drain.

Exit codes:
  0 - Drain ran (individual actions may have failed)
  2 - Command error (config, queue or remote store unavailable)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), rootOpts, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.core.Drain(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "drain", err)
			}
			pending, err := rt.core.Pending(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "read queue", err)
			}

			result := DrainResult{
				Applied:      report.Applied,
				Failed:       report.Failed,
				DeadLettered: report.DeadLettered,
				Deferred:     report.Deferred,
				Remaining:    len(pending),
			}
			if !report.NextAttemptAt.IsZero() {
				result.NextAttemptAt = report.NextAttemptAt.UTC().Format(time.RFC3339)
			}
			return formatter(cmd, rootOpts).Success(result)
		},
	}
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
