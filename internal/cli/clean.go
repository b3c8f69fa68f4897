package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cperrin88/starpack/pkg/config"
	"github.com/spf13/cobra"
)

// NewCleanCmd creates the clean command.
func NewCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the cached manifests, archives, and signatures",
		RunE: func(*cobra.Command, []string) error {
			return runClean()
		},
	}
}

func runClean() error {
	if err := requireRoot(); err != nil {
		return err
	}

	cacheDir := config.New(installRoot()).CacheDir()
	entries, err := os.ReadDir(cacheDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(cacheDir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove cached file %s: %w", e.Name(), err)
		}
	}
	return nil
}
