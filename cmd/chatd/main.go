package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/WhyNeet/t3-chat-clone/internal/version"
)

var rootDir string

var rootCmd = &cobra.Command{
	Use:   "chatd",
	Short: "chatd - chat completion streaming daemon",
	Long: `chatd accepts chat prompts, streams upstream completions to clients over
server-sent events and persists the results.

  chatd serve     Run the HTTP daemon (default)
  chatd version   Print build information`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), rootDir)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), rootDir)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.FullInfo())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "directory holding config/setting.ini")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
