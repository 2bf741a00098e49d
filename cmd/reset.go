package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdaf-automation/sdaf-wizard/internal/message"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset <session>",
	Short: "Forget a stored provisioning session",
	Long: `It removes the session state and its audit log. Resources created in GitHub and Azure are left
in place; a new session adopts them when it runs with the same names.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		if !resetYes {
			answer, err := message.BoolSelect(fmt.Sprintf("Do you want to remove session %s?", args[0]))
			if err != nil {
				return fmt.Errorf("failed to confirm reset: %w", err)
			}
			if !answer {
				return errors.New("reset aborted")
			}
		}

		if err := store.Delete(args[0]); err != nil {
			return fmt.Errorf("failed to reset session: %w", err)
		}
		message.Success("Session %s removed", args[0])
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}
