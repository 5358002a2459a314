package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"attempt-runner/internal/config"
	pgjournal "attempt-runner/internal/infra/postgres"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

// NewOrphansCmd lists attempts that exist on the backend without answers.
func NewOrphansCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "List attempts created on the backend whose answers never arrived",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return errNoPostgres
			}

			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			orphans, err := pgjournal.NewJournal(pool).Orphans(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FINISHED\tEXAM\tUSER\tATTEMPT\tTRIGGER\tERROR")
			for _, o := range orphans {
				var reason string
				if o.Err != nil {
					reason = o.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					o.FinishedAt.Format(time.RFC3339), o.ExamID, o.UserID, o.AttemptID, o.Trigger, reason)
			}
			return w.Flush()
		},
	}
}
