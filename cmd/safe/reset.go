package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/safe/internal/models"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the config file",
	Long: `Delete the encrypted config file. Registered safes and their credentials
are forgotten. Documents in the stores and keys in the keychain are not
touched.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Do not ask for confirmation")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetForce {
		if !isInteractive() {
			return models.NeedInput("confirmation", "pass --force to reset without a terminal")
		}
		printWarning("This forgets every registered safe in %s.", apiClient.Config.Path())
		ok, err := promptYesNo("Continue?", false)
		if err != nil {
			return err
		}
		if !ok {
			printInfo("Aborted.")
			return nil
		}
	}

	err := apiClient.Reset()
	if err != nil && !errors.Is(err, models.ErrConfigNotFound) {
		return err
	}
	removed := err == nil

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"removed": removed,
		})
		return nil
	}

	if removed {
		printSuccess("Removed %s", apiClient.Config.Path())
	} else {
		printInfo("Nothing to reset: %s does not exist", apiClient.Config.Path())
	}
	return nil
}
