// Package sigverify verifies detached signatures against a local keyring,
// auto-importing missing public keys from the configured repositories. It
// shells out to gpg and parses its machine-readable --status-fd stream,
// mirroring how the reference implementation drives an external verifier.
package sigverify

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cperrin88/starpack/pkg/config"
	"github.com/cperrin88/starpack/pkg/download"
	"github.com/cperrin88/starpack/pkg/errs"
)

// Status is a terminal verifier outcome.
type Status string

const (
	StatusGoodSig   Status = "GOODSIG"
	StatusBadSig    Status = "BADSIG"
	StatusExpSig    Status = "EXPSIG"
	StatusExpKeySig Status = "EXPKEYSIG"
	StatusRevKeySig Status = "REVKEYSIG"
	StatusNoPubKey  Status = "NO_PUBKEY"
	StatusUnknown   Status = ""
)

var permanentFailures = map[Status]bool{
	StatusBadSig:    true,
	StatusExpSig:    true,
	StatusExpKeySig: true,
	StatusRevKeySig: true,
}

// Verifier drives gpg against a per-installRoot keyring.
type Verifier struct {
	downloader *download.Manager
}

// NewVerifier builds a Verifier backed by the given downloader (used only
// for the missing-key recovery path).
func NewVerifier(dl *download.Manager) *Verifier {
	return &Verifier{downloader: dl}
}

func ensureKeyring(installRoot string) (string, error) {
	keyring := config.New(installRoot).KeyringPath()
	if err := os.MkdirAll(filepath.Dir(keyring), 0o700); err != nil {
		return "", errs.Wrap(err, "failed to create keyring directory")
	}
	if _, err := os.Stat(keyring); os.IsNotExist(err) {
		f, err := os.OpenFile(keyring, os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return "", errs.Wrap(err, "failed to create keyring file")
		}
		_ = f.Close()
	}
	return keyring, nil
}

// Verify checks sigPath as a detached signature over packagePath against
// the installRoot keyring. On NO_PUBKEY it attempts to fetch the missing
// key from each repoURL in order (repoURL + "keys/" + keyid + ".asc") and
// retries verification exactly once after the first successful import.
func (v *Verifier) Verify(ctx context.Context, packagePath, sigPath, installRoot string, repoURLs []string) error {
	keyring, err := ensureKeyring(installRoot)
	if err != nil {
		return err
	}

	status, keyID, exitClean, err := v.runGPG(ctx, packagePath, sigPath, keyring)
	if err != nil {
		return err
	}

	if status == StatusGoodSig {
		if acceptGoodSig(status, exitClean) {
			return nil
		}
		return fmt.Errorf("%w: gpg reported GOODSIG but exited non-zero", errs.ErrBadSignature)
	}
	if permanentFailures[status] {
		return fmt.Errorf("%w: %s", errs.ErrBadSignature, status)
	}
	if status == StatusNoPubKey {
		if err := v.recoverKey(ctx, keyID, keyring, repoURLs); err != nil {
			return err
		}
		status, _, exitClean, err = v.runGPG(ctx, packagePath, sigPath, keyring)
		if err != nil {
			return err
		}
		if acceptGoodSig(status, exitClean) {
			return nil
		}
		if status == StatusGoodSig {
			return fmt.Errorf("%w: gpg reported GOODSIG but exited non-zero after key import", errs.ErrBadSignature)
		}
		return fmt.Errorf("%w: re-verify after key import yielded %s", errs.ErrBadSignature, status)
	}
	return fmt.Errorf("%w: unexpected verifier status %q", errs.ErrBadSignature, status)
}

// acceptGoodSig implements spec 4.3's terminal rule as the conjunction it
// is: a GOODSIG status line only counts as success when gpg also exited 0,
// matching the original implementation's `goodSig && exitCode == 0`.
func acceptGoodSig(status Status, exitClean bool) bool {
	return status == StatusGoodSig && exitClean
}

func (v *Verifier) recoverKey(ctx context.Context, keyID, keyring string, repoURLs []string) error {
	if keyID == "" {
		return fmt.Errorf("%w: missing key id", errs.ErrNoPublicKey)
	}
	tmpFile, err := os.CreateTemp("", "starpack-key-*.asc")
	if err != nil {
		return errs.Wrap(err, "failed to create temp file for key recovery")
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	for _, repoURL := range repoURLs {
		url := strings.TrimSuffix(repoURL, "/") + "/keys/" + keyID + ".asc"
		if err := v.downloader.SyncFetch(ctx, url, tmpPath); err != nil {
			continue
		}
		if err := importKey(ctx, tmpPath, keyring); err != nil {
			return err
		}
		_ = os.Remove(tmpPath)
		return nil
	}
	return fmt.Errorf("%w: key %s not found on any configured repository", errs.ErrNoPublicKey, keyID)
}

func importKey(ctx context.Context, ascPath, keyring string) error {
	cmd := exec.CommandContext(ctx, "gpg", "--no-default-keyring", "--keyring", keyring, "--import", ascPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrKeyImport, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// runGPG invokes gpg --status-fd 1 --verify and parses the status stream.
// The returned bool reports whether gpg exited 0; spec 4.3's GOODSIG rule
// is a conjunction of the status line and this exit code, not the status
// line alone.
func (v *Verifier) runGPG(ctx context.Context, packagePath, sigPath, keyring string) (Status, string, bool, error) {
	cmd := exec.CommandContext(ctx, "gpg",
		"--no-default-keyring", "--keyring", keyring,
		"--status-fd", "1", "--verify", sigPath, packagePath)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	runErr := cmd.Run()

	status, keyID := parseStatusStream(stdout.Bytes())
	if status == StatusUnknown {
		if runErr != nil {
			return StatusUnknown, "", false, fmt.Errorf("%w: gpg exited without a recognizable status: %v", errs.ErrBadSignature, runErr)
		}
		return StatusUnknown, "", false, fmt.Errorf("%w: gpg produced no status output", errs.ErrBadSignature)
	}
	return status, keyID, runErr == nil, nil
}

// parseStatusStream scans gpg's [GNUPG:] status lines, matching the terminal
// states this verifier understands. The first recognized terminal status
// wins.
func parseStatusStream(out []byte) (Status, string) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "[GNUPG:] ") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "[GNUPG:] "))
		if len(fields) == 0 {
			continue
		}
		switch Status(fields[0]) {
		case StatusGoodSig, StatusBadSig, StatusExpSig, StatusExpKeySig, StatusRevKeySig:
			return Status(fields[0]), ""
		case StatusNoPubKey:
			keyID := ""
			if len(fields) > 1 {
				keyID = fields[1]
			}
			return StatusNoPubKey, keyID
		}
	}
	return StatusUnknown, ""
}
