package cli

import (
	"os"
	"testing"

	"github.com/cperrin88/starpack/pkg/errs"
	"github.com/stretchr/testify/assert"
)

func TestInstallRootDefaultsToSlash(t *testing.T) {
	InstallDir = nil
	assert.Equal(t, "/", installRoot())
}

func TestInstallRootUsesFlagValue(t *testing.T) {
	dir := "/srv/chroot"
	InstallDir = &dir
	defer func() { InstallDir = nil }()
	assert.Equal(t, "/srv/chroot", installRoot())
}

func TestInstallRootEmptyFlagFallsBackToSlash(t *testing.T) {
	empty := ""
	InstallDir = &empty
	defer func() { InstallDir = nil }()
	assert.Equal(t, "/", installRoot())
}

func TestRequireRootFailsWhenNotRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, requireRoot would succeed")
	}
	err := requireRoot()
	assert.ErrorIs(t, err, errs.ErrRootRequired)
}
