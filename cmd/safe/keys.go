package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List public keys in the keychain",
	Long: `List the recipients documents can be stored for or released to. Add a
recipient by placing their public key in recipients/<identity>.pub inside
the keychain directory.`,
	Args: cobra.NoArgs,
	RunE: runKeys,
}

func init() {
	rootCmd.AddCommand(keysCmd)
}

func runKeys(cmd *cobra.Command, args []string) error {
	infos, err := apiClient.Recipients()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"keychain":   apiClient.Keychain.Dir(),
			"recipients": infos,
		})
		return nil
	}

	if len(infos) == 0 {
		printWarning("No public keys in %s", apiClient.Keychain.Dir())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tTYPE\tFINGERPRINT")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Identity, info.Type, info.Fingerprint)
	}
	return w.Flush()
}
