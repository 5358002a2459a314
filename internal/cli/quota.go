package cli

import (
	"errors"
	"fmt"

	"attempt-runner/internal/app"
	"attempt-runner/internal/auth"
	"attempt-runner/internal/config"
	"attempt-runner/internal/domain"
	"attempt-runner/internal/infra/rest"
	"github.com/spf13/cobra"
)

// NewQuotaCmd runs the attempt-limit check for one student against the backend.
func NewQuotaCmd(configPath *string) *cobra.Command {
	var examID, token, userID string

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show how many attempts a student has left on an exam",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			creds, err := auth.ForUser(token, userID)
			if err != nil {
				return err
			}

			client := rest.NewClient(cfg.Backend.URL,
				rest.WithTimeout(config.TTLDuration(cfg.Backend.Timeout, rest.DefaultTimeout)))
			remaining, err := app.NewGuard(client, client).Check(cmd.Context(), creds, domain.ID(examID))
			if errors.Is(err, domain.ErrQuotaExhausted) {
				fmt.Fprintf(cmd.OutOrStdout(), "exam %s, user %s: no attempts left\n", examID, creds.UserID)
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exam %s, user %s: %d attempt(s) left\n", examID, creds.UserID, remaining)
			return nil
		},
	}
	cmd.Flags().StringVar(&examID, "exam", "", "exam id")
	cmd.Flags().StringVar(&token, "token", "", "student bearer token")
	cmd.Flags().StringVar(&userID, "user", "", "student id (default: read from the token)")
	_ = cmd.MarkFlagRequired("exam")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
