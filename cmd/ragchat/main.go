// Command ragchat is a console client for the generate-stream endpoint.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	userID    string
)

var rootCmd = &cobra.Command{
	Use:   "ragchat",
	Short: "Chat with the rag-bot server from the terminal",
	Long: `Reads questions from stdin and prints the streamed answers.
Type "exit" or "quit" to leave.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := &chat{
			url:    serverURL,
			user:   userID,
			styles: newStyles(),
		}
		return c.run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "url", "http://localhost:8000", "rag-bot server base url")
	rootCmd.Flags().StringVarP(&userID, "user", "u", "console_user", "session user id")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
