package cli

import (
	"fmt"
	"strings"

	"github.com/cperrin88/starpack/pkg/config"
	"github.com/cperrin88/starpack/pkg/installdb"
	"github.com/spf13/cobra"
)

// NewInfoCmd creates the info command.
func NewInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info PACKAGE",
		Short: "Show the installed record for a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runInfo(args[0])
		},
	}
}

func runInfo(name string) error {
	db, err := installdb.Open(config.New(installRoot()).InstalledDB())
	if err != nil {
		return err
	}

	rec, err := db.GetRecord(name)
	if err != nil {
		return fmt.Errorf("failed to read package record: %w", err)
	}

	fmt.Printf("Name:         %s\n", rec.Name)
	fmt.Printf("Version:      %s\n", rec.Version)
	fmt.Printf("Description:  %s\n", rec.Description)
	fmt.Printf("Architecture: %s\n", rec.Architecture)
	fmt.Printf("Size:         %s\n", rec.Size)
	fmt.Printf("Update-time:  %s\n", rec.UpdateTime)
	fmt.Printf("Dependencies: %s\n", strings.Join(rec.Dependencies, ", "))
	fmt.Printf("Files (%d):\n", len(rec.Files))
	for _, f := range rec.Files {
		fmt.Printf("  %s\n", f)
	}
	return nil
}
