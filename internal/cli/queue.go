package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/queue"
)

// ActionRow is one queued or dead-lettered action in command output.
type ActionRow struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Seq        int64  `json:"seq"`
	EnqueuedAt string `json:"enqueued_at"`
	Attempts   int    `json:"attempts"`
	NextRetry  string `json:"next_attempt_at,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

func pendingRow(a model.PendingAction) ActionRow {
	row := ActionRow{
		ID:         a.ID,
		Kind:       string(a.Kind),
		Seq:        a.Seq,
		EnqueuedAt: a.EnqueuedAt.UTC().Format(time.RFC3339),
		Attempts:   a.Attempts,
		LastError:  a.LastError,
	}
	if !a.NextAttemptAt.IsZero() {
		row.NextRetry = a.NextAttemptAt.UTC().Format(time.RFC3339)
	}
	return row
}

func deadLetterRow(dl model.DeadLetter) ActionRow {
	row := pendingRow(dl.Action)
	row.NextRetry = ""
	row.ErrorCode = dl.ErrorCode
	row.LastError = dl.LastError
	return row
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the local action queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueDeadLettersCommand(rootOpts))
	cmd.AddCommand(newQueueRequeueCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List pending actions in enqueue order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), rootOpts, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			pending, err := rt.core.Pending(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "read queue", err)
			}
			rows := make([]ActionRow, len(pending))
			for i, a := range pending {
				rows[i] = pendingRow(a)
			}
			return outputRows(cmd, rootOpts, rows, "No pending actions.")
		},
	}
}

func newQueueDeadLettersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "deadletters",
		Short:         "List actions that will not be retried",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), rootOpts, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			letters, err := rt.core.DeadLetters(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "read dead letters", err)
			}
			rows := make([]ActionRow, len(letters))
			for i, dl := range letters {
				rows[i] = deadLetterRow(dl)
			}
			return outputRows(cmd, rootOpts, rows, "No dead letters.")
		},
	}
}

func newQueueRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <action-id>",
		Short: "Move a dead letter back to the tail of the queue",
		Long: `Requeue a dead-lettered action with a fresh attempt budget. It is
applied on the next drain.

Exit codes:
  0 - Requeued
  1 - No dead letter with that id
  2 - Command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), rootOpts, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			a, err := rt.core.Requeue(cmd.Context(), args[0])
			if errors.Is(err, queue.ErrNotFound) {
				return WrapExitError(ExitFailure, "requeue "+args[0], err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "requeue "+args[0], err)
			}
			f := formatter(cmd, rootOpts)
			if f.Format == "json" {
				return f.Success(pendingRow(a))
			}
			return f.Success(fmt.Sprintf("requeued %s as seq %d", a.ID, a.Seq))
		},
	}
}

func outputRows(cmd *cobra.Command, opts *RootOptions, rows []ActionRow, empty string) error {
	f := formatter(cmd, opts)
	if f.Format == "json" {
		return f.Success(rows)
	}
	if len(rows) == 0 {
		return f.Success(empty)
	}
	writeRows(cmd.OutOrStdout(), rows, opts.Verbose)
	return nil
}

func writeRows(w io.Writer, rows []ActionRow, verbose bool) {
	fmt.Fprintf(w, "%-6s %-16s %-36s %-8s %s\n", "SEQ", "KIND", "ID", "ATTEMPTS", "STATUS")
	for _, r := range rows {
		status := "ready"
		switch {
		case r.ErrorCode != "":
			status = r.ErrorCode
		case r.NextRetry != "":
			status = "retry at " + r.NextRetry
		}
		fmt.Fprintf(w, "%-6d %-16s %-36s %-8d %s\n", r.Seq, r.Kind, r.ID, r.Attempts, status)
		if verbose && r.LastError != "" {
			fmt.Fprintf(w, "       last error: %s\n", r.LastError)
		}
	}
}
