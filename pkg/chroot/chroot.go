// Package chroot implements the bind-mount, fork/chroot/exec, and
// reverse-order unmount sequence used to run hook commands and package
// scripts inside a target install root (C9). It is grounded verbatim on
// the original implementation's executeInChroot / mountFileSystem /
// unmountFileSystem sequence.
package chroot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/cperrin88/starpack/internal/logger"
	"github.com/cperrin88/starpack/pkg/errs"
)

// Executor runs a command inside a chroot after bind-mounting the
// pseudo-filesystems it typically needs.
type Executor struct{}

// NewExecutor builds an Executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Run bind-mounts proc and dev/pts under dir, execs command with args
// chrooted to dir with the given workdir, then unmounts both regardless of
// the command's outcome. It returns true iff the command exited zero and
// every unmount succeeded.
func (e *Executor) Run(ctx context.Context, dir, command string, args []string, workdir string) (bool, error) {
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return false, fmt.Errorf("%w: chroot directory %q does not exist or is not a directory", errs.ErrMountFailed, dir)
	}

	procMount := filepath.Join(dir, "proc")
	devPtsMount := filepath.Join(dir, "dev", "pts")

	procMounted := false
	devPtsMounted := false

	if err := mountFS("proc", procMount, "proc", unix.MS_NODEV|unix.MS_NOEXEC|unix.MS_NOSUID, ""); err != nil {
		return false, errs.Wrap(err, "failed to mount /proc in chroot")
	}
	procMounted = true

	if err := mountFS("devpts", devPtsMount, "devpts", unix.MS_NOSUID|unix.MS_NOEXEC, "gid=5,mode=620"); err != nil {
		if err := mountFS("devpts", devPtsMount, "devpts", unix.MS_NOSUID|unix.MS_NOEXEC, ""); err != nil {
			_ = unmountFS(procMount)
			return false, errs.Wrap(err, "failed to mount /dev/pts in chroot")
		}
	}
	devPtsMounted = true

	commandSuccess := e.runChrooted(ctx, dir, command, args, workdir)

	cleanupOK := true
	if devPtsMounted {
		if err := unmountFS(devPtsMount); err != nil {
			logger.Warn("failed to unmount dev/pts", logger.Fields{"error": err})
			cleanupOK = false
		}
	}
	if procMounted {
		if err := unmountFS(procMount); err != nil {
			logger.Warn("failed to unmount proc", logger.Fields{"error": err})
			cleanupOK = false
		}
	}

	return commandSuccess && cleanupOK, nil
}

// runChrooted forks (via os/exec's clone+chroot+exec path) and classifies
// the child's exit. Any setup failure, including a missing executable
// inside the chroot, counts as a non-success run.
func (e *Executor) runChrooted(ctx context.Context, dir, command string, args []string, workdir string) bool {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = workdir
	cmd.Env = []string{"PATH=/usr/bin:/bin:/usr/sbin:/sbin"}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Chroot: dir}

	err := cmd.Run()
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		if exitErr.ProcessState != nil && exitErr.ProcessState.Exited() {
			return exitErr.ExitCode() == 0
		}
		logger.Warn("chrooted process terminated by signal")
		return false
	}
	logger.Warn("failed to start chrooted process", logger.Fields{"error": err})
	return false
}

func asExitError(err error, target **exec.ExitError) bool {
	if e, ok := err.(*exec.ExitError); ok {
		*target = e
		return true
	}
	return false
}

func mountFS(source, target, fstype string, flags uintptr, data string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return errs.Wrap(err, "failed to create mount point")
	}
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return fmt.Errorf("mount %s on %s: %w", source, target, err)
	}
	return nil
}

// unmountFS tries a detached unmount first (MNT_DETACH, for busy
// filesystems); ENOENT is treated as already-unmounted, and any other
// error (EINVAL included) falls back to a plain unmount, which is itself
// tolerant of ENOENT.
func unmountFS(target string) error {
	err := unix.Unmount(target, unix.MNT_DETACH)
	if err == nil {
		return nil
	}
	if err == unix.ENOENT {
		return nil
	}
	if fallbackErr := unix.Unmount(target, 0); fallbackErr != nil && fallbackErr != unix.ENOENT {
		return fmt.Errorf("%w: %v (detach attempt: %v)", errs.ErrUnmountFailed, fallbackErr, err)
	}
	return nil
}
