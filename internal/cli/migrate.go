package cli

import (
	"github.com/spf13/cobra"

	"github.com/AakashB275/BrandModel/internal/remote/postgres"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres document-store schema",
		Long: `Apply pending migrations to the database named by remote.dsn
(BRANDMODEL_POSTGRES_DSN). Running it on an up-to-date database is a no-op.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if cfg.Remote.DSN == "" {
				return NewExitError(ExitCommandError, "remote.dsn is required for migrate")
			}
			if err := postgres.Migrate(cfg.Remote.DSN); err != nil {
				return WrapExitError(ExitFailure, "migrate", err)
			}
			return formatter(cmd, rootOpts).Success("schema up to date")
		},
	}
}
