package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/safe/internal/client"
	"github.com/TheMichaelB/safe/internal/creds"
	"github.com/TheMichaelB/safe/internal/models"
	"github.com/TheMichaelB/safe/internal/registry"
)

var safesCmd = &cobra.Command{
	Use:   "safes",
	Short: "Manage registered safes",
	Long: `A safe is one set of storage credentials plus a container (bucket,
table or database). Commands act on the current safe.`,
}

var safesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a safe and make it current",
	Example: `  safe safes create prod --access-key AKIA... --container my-bucket
  safe safes create prod --from-file prod-creds.json
  safe safes create prod --from-secret arn:aws:secretsmanager:...:secret:safe-prod`,
	Args: cobra.ExactArgs(1),
	RunE: runSafesCreate,
}

var safesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Forget a safe (stored documents are not touched)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSafesDelete,
}

var safesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List registered safes",
	Args:  cobra.NoArgs,
	RunE:  runSafesShow,
}

var safesSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Select the current safe",
	Args:  cobra.ExactArgs(1),
	RunE:  runSafesSet,
}

var safesCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the current safe",
	Args:  cobra.NoArgs,
	RunE:  runSafesCurrent,
}

// safeFlags are the credential sources shared by `safes create` and `init`.
type safeFlags struct {
	accessKey  string
	secretKey  string
	container  string
	backend    string
	region     string
	endpoint   string
	fromFile   string
	fromSecret string
}

func (f *safeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.accessKey, "access-key", "", "Storage access key")
	cmd.Flags().StringVar(&f.secretKey, "secret-key", "", "Storage secret key (will prompt if not provided)")
	cmd.Flags().StringVar(&f.container, "container", "", "Bucket, table or database name")
	cmd.Flags().StringVar(&f.backend, "backend", "", "Storage backend: s3, dynamodb, sqlite, local (default from settings)")
	cmd.Flags().StringVar(&f.region, "region", "", "Region override")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "Endpoint override for S3-compatible stores")
	cmd.Flags().StringVar(&f.fromFile, "from-file", "", "Read credentials from a JSON file")
	cmd.Flags().StringVar(&f.fromSecret, "from-secret", "", "Read credentials from an AWS Secrets Manager secret")
}

// descriptor builds a safe descriptor from an import source, flags and,
// when interactive, prompts for whatever is still missing.
func (f *safeFlags) descriptor(ctx context.Context, name string) (models.SafeDescriptor, error) {
	var c creds.SafeCredentials

	switch {
	case f.fromFile != "":
		loaded, err := creds.LoadFromFile(f.fromFile, name)
		if err != nil {
			return models.SafeDescriptor{}, err
		}
		c = *loaded
	case f.fromSecret != "":
		_, stop := startSpinner("Fetching credentials...")
		loaded, err := creds.LoadFromSecret(ctx, f.fromSecret, cfg.Store.Region, name)
		stop()
		if err != nil {
			return models.SafeDescriptor{}, err
		}
		c = *loaded
	}

	overrides := []struct {
		dst *string
		src string
	}{
		{&c.AccessKey, f.accessKey},
		{&c.SecretKey, f.secretKey},
		{&c.ContainerName, f.container},
		{&c.Backend, f.backend},
		{&c.Region, f.region},
		{&c.Endpoint, f.endpoint},
	}
	for _, o := range overrides {
		if o.src != "" {
			*o.dst = o.src
		}
	}

	if c.AccessKey == "" || c.SecretKey == "" || c.ContainerName == "" {
		if !isInteractive() {
			return models.SafeDescriptor{}, models.NeedInput(models.InputSafe,
				"--access-key, --secret-key and --container are required")
		}

		printInfo("Credentials for safe %q:", name)
		prompts := []struct {
			dst    *string
			label  string
			secret bool
		}{
			{&c.AccessKey, "Access key: ", false},
			{&c.SecretKey, "Secret key: ", true},
			{&c.ContainerName, "Container (bucket) name: ", false},
		}
		for _, p := range prompts {
			if *p.dst != "" {
				continue
			}
			value, err := promptRequired(p.label, p.secret)
			if err != nil {
				return models.SafeDescriptor{}, fmt.Errorf("read %s: %w", p.label, err)
			}
			*p.dst = value
		}
	}

	desc := c.Descriptor(name)
	return desc, desc.Validate()
}

var createFlags safeFlags

func init() {
	rootCmd.AddCommand(safesCmd)
	safesCmd.AddCommand(safesCreateCmd, safesDeleteCmd, safesShowCmd, safesSetCmd, safesCurrentCmd)

	createFlags.register(safesCreateCmd)
}

func openRegistry(ctx context.Context) (*registry.Registry, error) {
	reg, err := apiClient.Open(ctx)
	if err == nil {
		return reg, nil
	}
	if !client.IsFirstRun(err) {
		return nil, err
	}

	migrated, merr := apiClient.MigrateLegacy(ctx, false)
	if merr != nil {
		return nil, fmt.Errorf("migrate legacy config: %w", merr)
	}
	if !migrated {
		return nil, err
	}
	if !jsonOutput {
		printInfo("Imported settings from %s", cfg.Paths.LegacyIdentityFile)
	}
	return apiClient.Open(ctx)
}

func runSafesCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]

	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}

	if _, err := reg.Get(name); err == nil {
		return &models.DuplicateSafeError{Name: name}
	}

	desc, err := createFlags.descriptor(ctx, name)
	if err != nil {
		return err
	}

	if err := reg.Create(ctx, desc); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"safe":    name,
			"current": reg.Current(),
		})
	} else {
		printSuccess("Created safe %s (now current)", name)
	}
	return nil
}

func runSafesDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]

	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}

	wasCurrent := reg.Current() == name
	if err := reg.Delete(ctx, name); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"safe":    name,
			"current": reg.Current(),
		})
		return nil
	}

	printSuccess("Deleted safe %s", name)
	if wasCurrent {
		printWarning("No safe is selected now. Run `safe safes set <name>` to pick one.")
	}
	return nil
}

func runSafesShow(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}

	names := reg.Show()
	current := reg.Current()

	if jsonOutput {
		printJSON(map[string]interface{}{
			"safes":   names,
			"current": current,
		})
		return nil
	}

	if len(names) == 0 {
		printWarning("No safes configured. Run `safe safes create <name>`.")
		return nil
	}

	for _, name := range names {
		if name == current {
			printSuccess("* %s", name)
		} else {
			fmt.Printf("  %s\n", name)
		}
	}
	return nil
}

func runSafesSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}

	if err := reg.Set(ctx, args[0]); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "current": args[0]})
	} else {
		printSuccess("Current safe: %s", args[0])
	}
	return nil
}

func runSafesCurrent(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}

	current := reg.Current()
	if jsonOutput {
		printJSON(map[string]interface{}{"current": current})
		return nil
	}

	if current == "" {
		return models.ErrNoSafeSelected
	}
	fmt.Println(current)
	return nil
}
