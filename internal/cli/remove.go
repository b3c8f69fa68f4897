package cli

import (
	"context"
	"fmt"

	"github.com/cperrin88/starpack/pkg/orchestrator"
	"github.com/spf13/cobra"
)

// NewRemoveCmd creates the remove command.
func NewRemoveCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "remove PACKAGE...",
		Short: "Remove packages",
		Long: `Remove one or more installed packages, cascading to any orphaned
dependencies. Blocked by remaining reverse dependencies unless --force is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), args, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip critical-package and reverse-dependency checks")

	return cmd
}

func runRemove(ctx context.Context, packages []string, force bool) error {
	if err := requireRoot(); err != nil {
		return err
	}

	orch, err := newOrchestrator()
	if err != nil {
		return err
	}
	orch.ProgressHooks = orchestrator.Hooks{OnEvent: printEvent}

	if err := orch.Remove(ctx, packages, orchestrator.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("failed to remove packages: %w", err)
	}
	return nil
}
