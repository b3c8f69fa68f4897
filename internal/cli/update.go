package cli

import (
	"context"
	"fmt"

	"github.com/cperrin88/starpack/pkg/orchestrator"
	"github.com/spf13/cobra"
)

// NewUpdateCmd creates the update command.
func NewUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [PACKAGE...]",
		Short: "Update packages",
		Long: `Update one or more installed packages to the highest available
candidate version. With no arguments, every installed package is considered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), args)
		},
	}
	return cmd
}

func runUpdate(ctx context.Context, packages []string) error {
	if err := requireRoot(); err != nil {
		return err
	}

	orch, err := newOrchestrator()
	if err != nil {
		return err
	}
	orch.ProgressHooks = orchestrator.Hooks{OnEvent: printEvent}

	if err := orch.Update(ctx, packages); err != nil {
		return fmt.Errorf("failed to update packages: %w", err)
	}
	return nil
}
