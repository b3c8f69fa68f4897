package installdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "installed.db"))
	require.NoError(t, err)
	return db
}

func sampleInput(name string) AppendInput {
	return AppendInput{
		Name:         name,
		Version:      "1.2.3",
		Description:  "a test package",
		Size:         "1024",
		Architecture: "x86_64",
		UpdateTime:   "2026-01-02T03:04:05Z",
		Files:        []string{"/usr/bin/" + name, "/etc/" + name + ".conf"},
		Dependencies: []string{"glibc", "zlib"},
	}
}

func TestAppendAndGetRecord(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.AppendRecord(sampleInput("foo")))

	rec, err := db.GetRecord("foo")
	require.NoError(t, err)
	assert.Equal(t, "foo", rec.Name)
	assert.Equal(t, "1.2.3", rec.Version)
	assert.Equal(t, "a test package", rec.Description)
	assert.Equal(t, []string{"/usr/bin/foo", "/etc/foo.conf"}, rec.Files)
	assert.Equal(t, []string{"glibc", "zlib"}, rec.Dependencies)
}

func TestAppendRecordRejectsDuplicate(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AppendRecord(sampleInput("foo")))

	err := db.AppendRecord(sampleInput("foo"))
	assert.Error(t, err)
}

func TestIsInstalled(t *testing.T) {
	db := newTestDB(t)
	installed, err := db.IsInstalled("foo")
	require.NoError(t, err)
	assert.False(t, installed)

	require.NoError(t, db.AppendRecord(sampleInput("foo")))

	installed, err = db.IsInstalled("foo")
	require.NoError(t, err)
	assert.True(t, installed)
}

func TestSpliceRecordRemovesOnlyNamed(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AppendRecord(sampleInput("foo")))
	require.NoError(t, db.AppendRecord(sampleInput("bar")))

	require.NoError(t, db.SpliceRecord("foo"))

	installed, err := db.IsInstalled("foo")
	require.NoError(t, err)
	assert.False(t, installed)

	installed, err = db.IsInstalled("bar")
	require.NoError(t, err)
	assert.True(t, installed)
}

func TestSpliceRecordMissingIsError(t *testing.T) {
	db := newTestDB(t)
	err := db.SpliceRecord("nope")
	assert.Error(t, err)
}

func TestUpdateVersionAndTime(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AppendRecord(sampleInput("foo")))

	require.NoError(t, db.UpdateVersionAndTime("foo", "2.0.0", "2026-02-02T00:00:00Z"))

	rec, err := db.GetRecord("foo")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", rec.Version)
	assert.Equal(t, "2026-02-02T00:00:00Z", rec.UpdateTime)
	// Files and dependencies must survive an update that only touches
	// version/update-time.
	assert.Equal(t, []string{"/usr/bin/foo", "/etc/foo.conf"}, rec.Files)
}

func TestGetReverseDependencies(t *testing.T) {
	db := newTestDB(t)
	base := sampleInput("glibc")
	base.Dependencies = nil
	require.NoError(t, db.AppendRecord(base))

	dependent := sampleInput("app")
	dependent.Dependencies = []string{"glibc"}
	require.NoError(t, db.AppendRecord(dependent))

	revDeps, err := db.GetReverseDependencies("glibc")
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, revDeps)
}

func TestGetOrphans(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AppendRecord(sampleInput("glibc")))

	dependent := sampleInput("app")
	dependent.Dependencies = []string{"glibc"}
	require.NoError(t, db.AppendRecord(dependent))

	orphans, err := db.GetOrphans(nil)
	require.NoError(t, err)
	assert.Contains(t, orphans, "app")
	assert.NotContains(t, orphans, "glibc")
}

func TestAllInstalledNames(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AppendRecord(sampleInput("foo")))
	require.NoError(t, db.AppendRecord(sampleInput("bar")))

	names, err := db.AllInstalledNames()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"foo", "bar"}, names)
}

func TestGetRecordNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetRecord("missing")
	assert.Error(t, err)
}
