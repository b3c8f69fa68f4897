package cli

import (
	"context"
	"fmt"

	"github.com/cperrin88/starpack/pkg/orchestrator"
	"github.com/spf13/cobra"
)

// NewInstallCmd creates the install command.
func NewInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install PACKAGE...",
		Short: "Install packages",
		Long: `Install one or more packages from the configured repositories.
Dependencies are resolved and installed automatically.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), args)
		},
	}
	return cmd
}

func runInstall(ctx context.Context, packages []string) error {
	if err := requireRoot(); err != nil {
		return err
	}

	orch, err := newOrchestrator()
	if err != nil {
		return err
	}
	orch.ProgressHooks = orchestrator.Hooks{OnEvent: printEvent}

	if err := orch.Install(ctx, packages); err != nil {
		return fmt.Errorf("failed to install packages: %w", err)
	}
	return nil
}
