// Package cli provides the command-line interface for tfreechat.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tfreechat/tfreechat-go/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	token     string
	verbose   bool

	// api is the shared server client, set up in PersistentPreRunE.
	api *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tfreechat",
	Short: "Branching LLM chat client",
	Long: `tfreechat is a chat client for multiple LLM providers where any past
message can be branched to explore an alternate continuation, producing a
tree of messages per chat.

Commands talk to a running tfreechat server.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		if token == "" {
			token = os.Getenv("TFREECHAT_TOKEN")
		}
		if token == "" {
			t, err := promptToken()
			if err != nil {
				return err
			}
			token = t
		}

		api = client.New(serverURL, token)
		return nil
	},
}

// promptToken reads the API token without echoing when stdin is a
// terminal.
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no API token: set --token or TFREECHAT_TOKEN")
	}
	fmt.Fprint(os.Stderr, "API token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty token")
	}
	return string(raw), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default TFREECHAT_SERVER_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "API token (default TFREECHAT_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(modelsCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
