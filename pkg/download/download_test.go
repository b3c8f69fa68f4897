package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncFetchWritesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("package-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "foo.starpack")

	m := NewManager()
	require.NoError(t, m.SyncFetch(context.Background(), srv.URL, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "package-bytes", string(data))
}

func TestSyncFetchSkipsExistingFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "foo.starpack")
	require.NoError(t, os.WriteFile(dest, []byte("already here"), 0o644))

	m := NewManager()
	// A URL that would error if actually dialed, to prove the no-op path is
	// taken without a request ever being made.
	require.NoError(t, m.SyncFetch(context.Background(), "http://127.0.0.1:1/unreachable", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "already here", string(data))
}

func TestSyncFetchHTTPErrorRemovesPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "foo.starpack")

	m := NewManager()
	err := m.SyncFetch(context.Background(), srv.URL, dest)
	assert.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestParallelFetchAllSucceed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := NewManager()

	jobs := []Job{
		{URL: srv.URL, Path: filepath.Join(dir, "a")},
		{URL: srv.URL, Path: filepath.Join(dir, "b")},
		{URL: srv.URL, Path: filepath.Join(dir, "c")},
	}
	assert.True(t, m.ParallelFetch(context.Background(), jobs))

	for _, j := range jobs {
		_, err := os.Stat(j.Path)
		assert.NoError(t, err)
	}
}

func TestParallelFetchPartialFailureReturnsFalseButRunsAll(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer okSrv.Close()
	failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failSrv.Close()

	dir := t.TempDir()
	m := NewManager()

	jobs := []Job{
		{URL: okSrv.URL, Path: filepath.Join(dir, "a")},
		{URL: failSrv.URL, Path: filepath.Join(dir, "b")},
	}
	assert.False(t, m.ParallelFetch(context.Background(), jobs))

	_, err := os.Stat(filepath.Join(dir, "a"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "b"))
	assert.True(t, os.IsNotExist(err))
}

func TestParallelFetchEmptyJobsSucceeds(t *testing.T) {
	m := NewManager()
	assert.True(t, m.ParallelFetch(context.Background(), nil))
}
