package cli

import (
	"fmt"
	"strings"

	"github.com/cperrin88/starpack/pkg/config"
	"github.com/cperrin88/starpack/pkg/installdb"
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		RunE: func(*cobra.Command, []string) error {
			return runList()
		},
	}
}

func runList() error {
	if err := requireRoot(); err != nil {
		return err
	}

	db, err := installdb.Open(config.New(installRoot()).InstalledDB())
	if err != nil {
		return err
	}

	names, err := db.AllInstalledNames()
	if err != nil {
		return fmt.Errorf("failed to list installed packages: %w", err)
	}
	if len(names) == 0 {
		fmt.Println("No packages installed")
		return nil
	}

	fmt.Printf("%-30s %-15s %s\n", "PACKAGE", "VERSION", "UPDATED")
	fmt.Println(strings.Repeat("-", 60))
	for _, name := range names {
		rec, err := db.GetRecord(name)
		if err != nil {
			continue
		}
		fmt.Printf("%-30s %-15s %s\n", rec.Name, rec.Version, rec.UpdateTime)
	}
	return nil
}
