package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdaf-automation/sdaf-wizard/internal/message"
	"github.com/sdaf-automation/sdaf-wizard/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status [session]",
	Short: "Show stored provisioning sessions",
	Long:  `Without arguments it lists the stored sessions. With a session id it shows the recorded state of each step.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			ids, err := store.List()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				message.Info("No sessions found in %s", store.Dir())
				return nil
			}
			for _, id := range ids {
				sess, err := store.Load(id)
				if err != nil {
					message.Warning("%s: %v", id, err)
					continue
				}
				message.Info("%s: %s/%s, %d of %d steps succeeded, updated %s",
					id, sess.Inputs.Repository, sess.Inputs.EnvironmentName, succeeded(sess), len(sess.Steps), sess.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		}

		sess, err := store.Load(args[0])
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("session %s not found", args[0])
		} else if err != nil {
			return err
		}
		message.Title("Session %s: %s, environment %s, %s %s", sess.ID, sess.Inputs.Repository, sess.Inputs.EnvironmentName, sess.Inputs.IdentityKind, sess.Inputs.IdentityName)
		for _, step := range sess.Steps {
			switch step.Status {
			case session.StatusSucceeded:
				message.Success("%s: %s", step.ID, step.ExternalRef)
			case session.StatusFailed:
				message.Error("%s: failed after %d attempt(s): %s", step.ID, step.Attempts, step.LastError)
			case session.StatusSkipped:
				message.Skipped("%s: skipped, %s", step.ID, step.LastError)
			default:
				message.Info("%s: %s", step.ID, step.Status)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func succeeded(sess *session.Session) int {
	n := 0
	for _, step := range sess.Steps {
		if step.Status == session.StatusSucceeded {
			n++
		}
	}
	return n
}
