package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show the admin API token",
	Long: `Show the admin token of the running server.

The token is written next to the database when the server starts.
Use it as a bearer token for /api/admin requests.

Example:
  fgoat token`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(getTokenFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server running. Start with: fgoat serve")
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: fgoat serve")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Admin token: %s\n", token)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Example: curl -H 'Authorization: Bearer %s' http://localhost:%d/api/admin/tests\n", token, cfg.Port)
	return nil
}
