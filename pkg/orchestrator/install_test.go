package orchestrator

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/cperrin88/starpack/pkg/archive"
	"github.com/cperrin88/starpack/pkg/config"
	"github.com/cperrin88/starpack/pkg/download"
	"github.com/cperrin88/starpack/pkg/hook"
	"github.com/cperrin88/starpack/pkg/installdb"
	"github.com/cperrin88/starpack/pkg/model"
	"github.com/cperrin88/starpack/pkg/sigverify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInstallFooDependsOnBarEndToEnd drives Install() through its full
// LOAD_REPOS -> RESOLVE -> FETCH -> VERIFY -> APPLY state machine: foo
// depends on bar, neither is installed yet, and both must end up recorded
// in the installed database with their files extracted under the install
// root. Signature verification runs against a real gpg-generated key
// rather than being bypassed, since that is the behavior the bug in the
// GOODSIG/exit-code conjunction actually lived in.
func TestInstallFooDependsOnBarEndToEnd(t *testing.T) {
	gpg := newGPGFixture(t)

	root := t.TempDir()
	paths := config.New(root)
	db, err := installdb.Open(paths.InstalledDB())
	require.NoError(t, err)

	gpg.exportPublicKeyInto(paths.KeyringPath())

	barArchive := buildPackageArchive(t, "bar", map[string]string{"usr/bin/bar": "bar-binary"})
	fooArchive := buildPackageArchive(t, "foo", map[string]string{"usr/bin/foo": "foo-binary"})
	barSig := gpg.detachSign(barArchive)
	fooSig := gpg.detachSign(fooArchive)

	manifest := model.Manifest{Packages: []model.ManifestEntry{
		{
			Name:            "foo",
			Version:         "1.0.0",
			FileName:        "foo-1.0.0.starpack",
			Dependencies:    []model.Dependency{{Name: "bar"}},
			Files:           []string{"usr/bin/foo"},
			StripComponents: 0,
		},
		{
			Name:            "bar",
			Version:         "1.0.0",
			FileName:        "bar-1.0.0.starpack",
			Files:           []string{"usr/bin/bar"},
			StripComponents: 0,
		},
	}}
	manifestData, err := yaml.Marshal(manifest)
	require.NoError(t, err)

	content := map[string][]byte{
		"/repo.db.yaml":           manifestData,
		"/foo-1.0.0.starpack":     mustReadFile(t, fooArchive),
		"/foo-1.0.0.starpack.sig": mustReadFile(t, fooSig),
		"/bar-1.0.0.starpack":     mustReadFile(t, barArchive),
		"/bar-1.0.0.starpack.sig": mustReadFile(t, barSig),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := content[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	require.NoError(t, writeReposConf(t, root, []string{srv.URL}))

	dl := download.NewManager()
	o := &Orchestrator{
		DB:       db,
		Paths:    paths,
		Archives: archive.NewManager(),
		Hooks:    hook.NewRunner(),
		Download: dl,
		Verify:   sigverify.NewVerifier(dl),
	}

	require.NoError(t, o.Install(t.Context(), []string{"foo"}))

	installedFoo, err := db.IsInstalled("foo")
	require.NoError(t, err)
	assert.True(t, installedFoo)
	installedBar, err := db.IsInstalled("bar")
	require.NoError(t, err)
	assert.True(t, installedBar)

	fooDeps, err := db.GetDependencies("foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"bar"}, fooDeps)

	fooData, err := os.ReadFile(filepath.Join(root, "usr", "bin", "foo"))
	require.NoError(t, err)
	assert.Equal(t, "foo-binary", string(fooData))
	barData, err := os.ReadFile(filepath.Join(root, "usr", "bin", "bar"))
	require.NoError(t, err)
	assert.Equal(t, "bar-binary", string(barData))
}

func TestInstallNothingToDoWhenAllRequestedAlreadyInstalled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	root := t.TempDir()
	db, err := installdb.Open(filepath.Join(root, "installed.db"))
	require.NoError(t, err)
	require.NoError(t, db.AppendRecord(installdb.AppendInput{Name: "foo", Version: "1.0.0"}))

	require.NoError(t, writeReposConf(t, root, []string{srv.URL}))

	dl := download.NewManager()
	o := &Orchestrator{
		DB:       db,
		Paths:    config.New(root),
		Hooks:    hook.NewRunner(),
		Download: dl,
		Verify:   sigverify.NewVerifier(dl),
	}

	var events []Event
	o.ProgressHooks = Hooks{OnEvent: func(e Event) { events = append(events, e) }}

	err = o.Install(t.Context(), []string{"foo"})
	require.NoError(t, err)

	found := false
	for _, e := range events {
		if e.Phase == "summary" && e.Msg == "nothing to do" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDiscoverHooksEmptyForPackageWithoutHooksDir(t *testing.T) {
	root := t.TempDir()
	db, err := installdb.Open(filepath.Join(root, "installed.db"))
	require.NoError(t, err)
	o := &Orchestrator{DB: db, Paths: config.New(root), Hooks: hook.NewRunner()}

	hooks := o.discoverHooks("nonexistent-package")
	assert.Empty(t, hooks)
}

func writeReposConf(t *testing.T, root string, repos []string) error {
	t.Helper()
	return config.SaveRepos(config.New(root).ReposConf(), repos)
}
