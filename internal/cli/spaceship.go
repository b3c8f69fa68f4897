package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSpaceshipCmd creates the decorative, no-op spaceship command.
func NewSpaceshipCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "spaceship",
		Short:  "🚀",
		Hidden: true,
		RunE: func(*cobra.Command, []string) error {
			fmt.Println("    |")
			fmt.Println("   /_\\")
			fmt.Println("  |||||")
			fmt.Println("  |||||")
			fmt.Println(" /     \\")
			fmt.Println("liftoff.")
			return nil
		},
	}
}
