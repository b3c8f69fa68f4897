// Package errs defines the sentinel errors shared across starpack's components
// and small helpers for wrapping them with additional context.
package errs

import "fmt"

// Configuration errors.
var (
	ErrNoRepositories = fmt.Errorf("no repositories configured")
	ErrInvalidPath    = fmt.Errorf("invalid path")
	ErrConfigParse    = fmt.Errorf("failed to parse configuration")
)

// CLI errors.
var (
	ErrRootRequired        = fmt.Errorf("this command must be run as root")
	ErrNoPackagesSpecified = fmt.Errorf("no packages specified")
)

// Network errors.
var (
	ErrDownloadFailed = fmt.Errorf("download failed")
	ErrManifestFetch  = fmt.Errorf("failed to fetch repository manifest")
)

// Integrity errors.
var (
	ErrBadSignature = fmt.Errorf("signature verification failed")
	ErrNoPublicKey  = fmt.Errorf("public key not found")
	ErrKeyImport    = fmt.Errorf("failed to import public key")
)

// Dependency/resolver errors.
var (
	ErrPackageNotFound   = fmt.Errorf("package not found")
	ErrConstraintNotMet  = fmt.Errorf("version constraint not satisfied")
	ErrAlreadyInstalled  = fmt.Errorf("package already installed")
	ErrNotInstalled      = fmt.Errorf("package not installed")
	ErrReverseDependency = fmt.Errorf("package has reverse dependencies")
	ErrCriticalPackage   = fmt.Errorf("refusing to remove critical package")
)

// Database errors.
var (
	ErrRecordNotFound  = fmt.Errorf("record not found in installed database")
	ErrDuplicateRecord = fmt.Errorf("duplicate record in installed database")
	ErrMalformedRecord = fmt.Errorf("malformed installed database record")
)

// Hook errors.
var (
	ErrHookParse     = fmt.Errorf("failed to parse hook file")
	ErrHookExecution = fmt.Errorf("hook execution failed")
)

// Chroot errors.
var (
	ErrChrootShellMissing = fmt.Errorf("chroot target has no /bin/sh")
	ErrMountFailed        = fmt.Errorf("failed to bind-mount pseudo-filesystem")
	ErrUnmountFailed      = fmt.Errorf("failed to unmount pseudo-filesystem")
)

// Wrap wraps err with a message, or returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps err with a formatted message, or returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
