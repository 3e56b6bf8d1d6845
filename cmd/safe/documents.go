package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/safe/internal/models"
	"github.com/TheMichaelB/safe/internal/vault"
)

var (
	storeFile string
	storeFor  string
	deleteFor string
)

var storeCmd = &cobra.Command{
	Use:   "store <name> [text]",
	Short: "Encrypt and store a document",
	Long: `Store a text document in the current safe. The text is taken from the
argument, --file, or stdin, in that order. With --for the document is
encrypted for another identity instead of yourself.`,
	Example: `  safe store wifi "hunter2"
  safe store ssh-config --file ~/.ssh/config
  echo "shared" | safe store note --for bob@example.com`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runStore,
}

var readCmd = &cobra.Command{
	Use:   "read <name>",
	Short: "Decrypt and print a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runRead,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List your documents in the current safe",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var releaseCmd = &cobra.Command{
	Use:   "release <name> <recipient>",
	Short: "Share a copy of a document with another identity",
	Args:  cobra.ExactArgs(2),
	RunE:  runRelease,
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <name> <recipient>",
	Short: "Remove a shared copy of a document",
	Long: `Remove the recipient's copy of a document from the store. Anything the
recipient already read or copied stays with them.`,
	Args: cobra.ExactArgs(2),
	RunE: runRevoke,
}

func init() {
	rootCmd.AddCommand(storeCmd, readCmd, listCmd, deleteCmd, releaseCmd, revokeCmd)

	storeCmd.Flags().StringVarP(&storeFile, "file", "f", "", "Read the document text from a file")
	storeCmd.Flags().StringVar(&storeFor, "for", "", "Encrypt for this identity instead of yourself")

	deleteCmd.Flags().StringVar(&deleteFor, "for", "", "Delete the copy held for this identity")
}

// openVault opens the current safe, importing a legacy install on first run.
func openVault(ctx context.Context) (*vault.Vault, error) {
	if _, err := openRegistry(ctx); err != nil {
		return nil, err
	}
	return apiClient.Vault(ctx)
}

func documentText(args []string) (string, error) {
	switch {
	case len(args) == 2:
		return args[1], nil
	case storeFile != "":
		data, err := os.ReadFile(storeFile)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", storeFile, err)
		}
		return string(data), nil
	default:
		if isInteractive() {
			printInfo("Enter the document text, then Ctrl-D:")
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
}

func runStore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]

	text, err := documentText(args)
	if err != nil {
		return err
	}

	v, err := openVault(ctx)
	if err != nil {
		return err
	}

	s, stop := startSpinner(fmt.Sprintf("Storing %s...", name))
	err = v.Store(ctx, name, text, storeFor)
	if err == nil {
		s.FinalMSG = "✓ Stored " + name
	}
	stop()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":   true,
			"name":      name,
			"recipient": recipientOrSelf(v, storeFor),
		})
	}
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]

	v, err := openVault(ctx)
	if err != nil {
		return err
	}

	_, stop := startSpinner(fmt.Sprintf("Reading %s...", name))
	text, ok, err := v.Read(ctx, name)
	stop()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no document named %q for %s", models.ErrNotFound, name, v.Identity())
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"name": name,
			"text": text,
		})
		return nil
	}

	fmt.Print(text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Println()
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	v, err := openVault(ctx)
	if err != nil {
		return err
	}

	_, stop := startSpinner("Listing documents...")
	names, err := v.List(ctx)
	stop()
	if err != nil {
		return err
	}

	if jsonOutput {
		if names == nil {
			names = []string{}
		}
		printJSON(map[string]interface{}{
			"identity":  v.Identity(),
			"documents": names,
		})
		return nil
	}

	if len(names) == 0 {
		printInfo("No documents for %s.", v.Identity())
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]

	v, err := openVault(ctx)
	if err != nil {
		return err
	}

	_, stop := startSpinner(fmt.Sprintf("Deleting %s...", name))
	deleted, err := v.Delete(ctx, name, deleteFor)
	stop()
	if err != nil {
		return err
	}

	return reportChange(name, recipientOrSelf(v, deleteFor), "deleted", deleted,
		fmt.Sprintf("Deleted %s", name),
		fmt.Sprintf("Nothing to delete: %s does not exist", name))
}

func runRelease(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, recipient := args[0], args[1]

	v, err := openVault(ctx)
	if err != nil {
		return err
	}

	_, stop := startSpinner(fmt.Sprintf("Releasing %s to %s...", name, recipient))
	released, err := v.Release(ctx, name, recipient)
	stop()
	if err != nil {
		return err
	}

	return reportChange(name, recipient, "released", released,
		fmt.Sprintf("Released %s to %s", name, recipient),
		fmt.Sprintf("You have no document named %s", name))
}

func runRevoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, recipient := args[0], args[1]

	v, err := openVault(ctx)
	if err != nil {
		return err
	}

	_, stop := startSpinner(fmt.Sprintf("Revoking %s from %s...", name, recipient))
	revoked, err := v.Revoke(ctx, name, recipient)
	stop()
	if err != nil {
		return err
	}

	return reportChange(name, recipient, "revoked", revoked,
		fmt.Sprintf("Revoked %s from %s", name, recipient),
		fmt.Sprintf("You have no document named %s", name))
}

// reportChange prints the outcome of an operation that may find nothing to
// act on. A no-op is reported but is not an error.
func reportChange(name, recipient, field string, changed bool, done, noop string) error {
	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":   true,
			"name":      name,
			"recipient": recipient,
			field:       changed,
		})
		return nil
	}

	if changed {
		printSuccess("%s", done)
	} else {
		printWarning("%s", noop)
	}
	return nil
}

func recipientOrSelf(v *vault.Vault, recipient string) string {
	if recipient == "" {
		return v.Identity()
	}
	return recipient
}
