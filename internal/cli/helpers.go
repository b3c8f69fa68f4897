// Package cli implements the starpack command-line surface described in
// spec section 6: thin cobra commands that build an orchestrator.Orchestrator
// rooted at --installdir and drive one of its transactions.
package cli

import (
	"fmt"
	"os"

	"github.com/cperrin88/starpack/internal/logger"
	"github.com/cperrin88/starpack/pkg/errs"
	"github.com/cperrin88/starpack/pkg/orchestrator"
)

// These variables are set by the main package from persistent flags.
var (
	InstallDir *string
	Verbose    *bool
	NoColor    *bool
)

func installRoot() string {
	if InstallDir != nil && *InstallDir != "" {
		return *InstallDir
	}
	return "/"
}

func newOrchestrator() (*orchestrator.Orchestrator, error) {
	level := "info"
	if Verbose != nil && *Verbose {
		level = "debug"
	}
	logger.InitLogger(level, NoColor != nil && *NoColor)
	return orchestrator.New(installRoot())
}

// requireRoot enforces the root-required commands listed in spec section 6:
// install, remove, update, clean, and list.
func requireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("%w", errs.ErrRootRequired)
	}
	return nil
}

func printEvent(e orchestrator.Event) {
	if e.ID != "" {
		fmt.Printf("%s: %s (%s)\n", e.Phase, e.Msg, e.ID)
	} else {
		fmt.Printf("%s: %s\n", e.Phase, e.Msg)
	}
}
