package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AakashB275/BrandModel/internal/remote"
)

// ExpireResult lists the matches one expire run closed for a user.
type ExpireResult struct {
	UserID  string   `json:"user_id"`
	Expired []string `json:"expired"`
}

func (r ExpireResult) String() string {
	if len(r.Expired) == 0 {
		return r.UserID + ": nothing due"
	}
	return fmt.Sprintf("%s: expired %s", r.UserID, strings.Join(r.Expired, ", "))
}

// NewExpireCommand creates the expire command.
func NewExpireCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expire <user-id>...",
		Short: "Persist expiry on the elapsed matches of users",
		Long: `Mark every match of the given users whose 24h window has elapsed as
ended with reason "expired" and free the pair for a later match. Users
already swept report nothing due.

Exit codes:
  0 - Every user swept
  1 - A user does not exist
  2 - Command error (config or remote store unavailable)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), rootOpts, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			results := make([]ExpireResult, 0, len(args))
			for _, id := range args {
				expired, err := rt.core.ExpireMatches(cmd.Context(), id)
				if remote.IsNotFound(err) {
					return WrapExitError(ExitFailure, "expire "+id, err)
				}
				if err != nil {
					return WrapExitError(ExitCommandError, "expire "+id, err)
				}
				if expired == nil {
					expired = []string{}
				}
				results = append(results, ExpireResult{UserID: id, Expired: expired})
			}

			f := formatter(cmd, rootOpts)
			if f.Format == "json" {
				return f.Success(results)
			}
			lines := make([]string, len(results))
			for i, r := range results {
				lines[i] = r.String()
			}
			return f.Success(strings.Join(lines, "\n"))
		},
	}
}
