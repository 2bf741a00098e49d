package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sdaf-automation/sdaf-wizard/internal/config"
	"github.com/sdaf-automation/sdaf-wizard/internal/message"
)

var silentMode bool
var verboseMode bool
var noEmoji bool
var noColor bool
var configPath string

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:           "sdaf-wizard",
	Short:         "Prepare a GitHub repository and an Azure subscription for SAP Deployment Automation Framework",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		message.SetSilentMode(silentMode)
		message.SetVerboseMode(verboseMode)
		message.SetEmojiMode(!noEmoji)
		message.SetColorMode(!noColor)

		var err error
		cfg, err = loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		message.Error("failed to execute command: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&silentMode, "silent", false, "silent mode (hides everything except prompt/failure messages)")
	rootCmd.PersistentFlags().BoolVar(&verboseMode, "verbose", false, "verbose output (show everything, overrides silent mode)")
	rootCmd.PersistentFlags().BoolVar(&noEmoji, "no-emoji", false, "disable emojis")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colors and emojis")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $HOME/.sdaf-wizard/config.yaml)")
}
