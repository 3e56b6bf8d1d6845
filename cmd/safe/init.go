package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/safe/internal/configstore"
	"github.com/TheMichaelB/safe/internal/models"
)

var (
	initIdentity string
	initUseAgent bool
	initSafe     string
	initFlags    safeFlags
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up the identity and the first safe",
	Long: `Create the encrypted config file. The identity must have a public key in
the keychain (recipients/<identity>.pub) and a matching private key.

An install from the first release (~/.saferc plus AWS_ACCESS_KEY and
AWS_SECRET_ACCESS_KEY) is imported automatically.`,
	Example: `  safe init
  safe init --identity alice@example.com --safe personal --access-key AKIA... --container my-bucket
  safe init --identity alice@example.com --agent --safe prod --from-secret safe-prod`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initIdentity, "identity", "", "Your identity (e.g. an email address)")
	initCmd.Flags().BoolVar(&initUseAgent, "agent", false, "Use an agent-supplied identity, never prompt for a passphrase")
	initCmd.Flags().StringVar(&initSafe, "safe", "", "Name of the first safe to create")
	initFlags.register(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if apiClient.Config.Exists() {
		return fmt.Errorf("%w at %s (run `safe reset` first to start over)",
			models.ErrConfigExists, apiClient.Config.Path())
	}

	migrated, err := apiClient.MigrateLegacy(ctx, initUseAgent)
	if err != nil {
		return fmt.Errorf("migrate legacy config: %w", err)
	}
	if migrated {
		reg, err := apiClient.Open(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success":  true,
				"migrated": true,
				"identity": reg.Record().Identity,
				"current":  reg.Current(),
			})
		} else {
			printSuccess("Imported %s as %s", cfg.Paths.LegacyIdentityFile, reg.Record().Identity)
		}
		return nil
	}

	params, err := bootstrapParams(cmd)
	if err != nil {
		return err
	}

	reg, err := apiClient.Bootstrap(ctx, params)
	if err != nil {
		if errors.Is(err, models.ErrUnknownRecipient) {
			printWarning("Add your public key to %s first.", apiClient.Keychain.RecipientPath(params.Identity))
		}
		return err
	}

	if initSafe == "" && isInteractive() && !jsonOutput {
		create, err := promptYesNo("Create a safe now?", true)
		if err != nil {
			return err
		}
		if create {
			name, err := promptRequired("Safe name: ", false)
			if err != nil {
				return err
			}
			initSafe = name
		}
	}

	if initSafe != "" {
		desc, err := initFlags.descriptor(ctx, initSafe)
		if err != nil {
			return err
		}
		if err := reg.Create(ctx, desc); err != nil {
			return err
		}
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":  true,
			"identity": params.Identity,
			"useAgent": params.UseAgent,
			"current":  reg.Current(),
		})
		return nil
	}

	printSuccess("Initialized %s for %s", apiClient.Config.Path(), params.Identity)
	if reg.Current() != "" {
		printSuccess("Current safe: %s", reg.Current())
	} else {
		printInfo("Run `safe safes create <name>` to add a safe.")
	}
	return nil
}

// bootstrapParams fills identity and agent mode from flags, prompting for
// whatever the user did not pass.
func bootstrapParams(cmd *cobra.Command) (configstore.BootstrapParams, error) {
	params := configstore.BootstrapParams{
		Identity: initIdentity,
		UseAgent: initUseAgent,
	}

	if params.Identity == "" {
		if !isInteractive() {
			return params, models.NeedInput(models.InputIdentity, "--identity is required")
		}
		identity, err := promptRequired("Identity: ", false)
		if err != nil {
			return params, fmt.Errorf("read identity: %w", err)
		}
		params.Identity = identity
	}

	if !cmd.Flags().Changed("agent") && isInteractive() && !jsonOutput {
		useAgent, err := promptYesNo("Use an agent for the private key?", false)
		if err != nil {
			return params, err
		}
		params.UseAgent = useAgent
	}

	return params, nil
}
