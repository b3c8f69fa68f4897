package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cperrin88/starpack/internal/cli"
	"github.com/spf13/cobra"
)

var (
	installDir string
	verbose    bool
	noColor    bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "starpack",
		Short: "A source-based Linux package manager",
		Long: `starpack fetches, verifies, installs, removes, and updates packages
from signed repositories of .starpack archives.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&installDir, "installdir", "/", "root directory to operate against")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")

	cli.InstallDir = &installDir
	cli.Verbose = &verbose
	cli.NoColor = &noColor

	cmd.AddCommand(
		cli.NewRepoCmd(),
		cli.NewInstallCmd(),
		cli.NewRemoveCmd(),
		cli.NewUpdateCmd(),
		cli.NewInfoCmd(),
		cli.NewListCmd(),
		cli.NewCleanCmd(),
		cli.NewSpaceshipCmd(),
	)

	return cmd
}
