package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/safe/internal/client"
	"github.com/TheMichaelB/safe/internal/config"
	"github.com/TheMichaelB/safe/internal/events"
	"github.com/TheMichaelB/safe/internal/models"
)

var version = "dev"

var (
	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client

	settingsFile string
	jsonOutput   bool
	verbose      bool
	noColor      bool
)

var rootCmd = &cobra.Command{
	Use:   "safe",
	Short: "Personal encrypted-document vault",
	Long: `safe stores text documents encrypted end-to-end with age keys in a
remote object store. Documents can be released to other identities and
revoked again. Several independent stores ("safes") can be registered and
switched between.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if apiClient != nil {
			if err := apiClient.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close blob store")
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsFile, "settings", "",
		"Settings file (default: search ., ~/.config/safe, ~/.safe)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"Disable colored output")
}

func setup(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.NewLoader(settingsFile).Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if verbose {
		cfg.Log.Level = "debug"
	}
	if noColor || jsonOutput {
		cfg.Log.Color = false
		color.NoColor = true
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	apiClient, err = client.New(cfg, logger, client.Options{
		PassphraseSource: passphraseSource,
	})
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

func reportError(err error) {
	remedy := models.Remedy(err)

	if jsonOutput {
		out := map[string]interface{}{
			"success": false,
			"error":   err.Error(),
			"code":    models.Code(err),
		}
		if remedy != "" {
			out["remedy"] = remedy
		}
		printJSON(out)
		return
	}

	printError("%v", err)
	if remedy != "" {
		printInfo("Run `%s` to fix this.", remedy)
	}

	var corrupt *models.ConfigCorruptError
	if errors.As(err, &corrupt) {
		printWarning("The file was left untouched.")
	}
}

// Output helpers

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printSuccess(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(os.Stdout, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(os.Stderr, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
