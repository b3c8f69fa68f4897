// Package download implements the fetch half of the fetch-verify-extract
// pipeline: a blocking single-file download and a bounded-concurrency
// parallel download with skip-if-exists semantics and progress reporting.
package download

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cperrin88/starpack/internal/logger"
	"github.com/cperrin88/starpack/pkg/errs"
)

const (
	// ConnectTimeout bounds dialing + TLS handshake.
	ConnectTimeout = 15 * time.Second
	// OverallTimeout bounds the entire request, including body transfer.
	OverallTimeout = 300 * time.Second
	// MaxParallel is the hard ceiling on concurrent transfers.
	MaxParallel = 10
)

// Manager performs HTTP(S) downloads on behalf of the orchestrator.
type Manager struct {
	client *http.Client
}

// NewManager builds a Manager with the connect/overall timeout policy.
func NewManager() *Manager {
	return &Manager{
		client: &http.Client{
			Timeout: OverallTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
				TLSHandshakeTimeout: ConnectTimeout,
			},
		},
	}
}

// SyncFetch performs a single blocking GET of url into path, following
// redirects and failing on HTTP >= 400. If path already exists the call is
// a no-op success. On any failure the partial file is removed.
func (m *Manager) SyncFetch(ctx context.Context, url, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := m.fetchOne(ctx, url, path); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func (m *Manager) fetchOne(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.Wrap(err, "failed to build request")
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", url, errs.ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %w: HTTP %d", url, errs.ErrDownloadFailed, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(err, "failed to create destination directory")
	}
	out, err := os.CreateTemp(filepath.Dir(path), ".starpack-dl-*")
	if err != nil {
		return errs.Wrap(err, "failed to create temp file")
	}
	tmpPath := out.Name()
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return errs.Wrap(err, "failed to write response body")
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errs.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errs.Wrap(err, "failed to finalize downloaded file")
	}
	return nil
}

// Job describes one parallel_fetch transfer.
type Job struct {
	URL  string
	Path string
}

// ParallelFetch downloads every job with up to min(len(jobs), MaxParallel)
// concurrent transfers. A job whose destination already exists is
// skipped-success. On per-job failure the partial file is removed and the
// batch is marked failed, but the remaining jobs still run to completion.
// It returns true iff every job ended up either pre-existing or fully
// downloaded without a transport/HTTP error.
func (m *Manager) ParallelFetch(ctx context.Context, jobs []Job) bool {
	if len(jobs) == 0 {
		return true
	}
	concurrency := len(jobs)
	if concurrency > MaxParallel {
		concurrency = MaxParallel
	}

	var ok atomic.Bool
	ok.Store(true)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var progressMu sync.Mutex
	var done atomic.Int64
	total := int64(len(jobs))

	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(j Job) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := m.SyncFetch(ctx, j.URL, j.Path); err != nil {
				logger.Warn("parallel fetch failed", logger.Fields{"url": j.URL, "error": err})
				ok.Store(false)
			}

			n := done.Add(1)
			progressMu.Lock()
			fmt.Fprintf(os.Stderr, "\rfetching %d/%d", n, total)
			progressMu.Unlock()
		}(job)
	}
	wg.Wait()
	fmt.Fprintln(os.Stderr)
	return ok.Load()
}
