package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotcast/internal/config"
)

type fakeRunner struct {
	ran bool
	err error
}

func (f *fakeRunner) Run(context.Context) error {
	f.ran = true
	return f.err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootCommandTree(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
	require.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}

// The following tests swap package-level factories and must not run in parallel.

func TestServeBuildsAndRunsApp(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9191\n")
	runner := &fakeRunner{err: context.Canceled}

	var got *config.Config
	orig := buildApp
	buildApp = func(_ context.Context, cfg *config.Config) (Runner, error) {
		got = cfg
		return runner, nil
	}
	t.Cleanup(func() { buildApp = orig })

	root := newRootCmd()
	root.SetArgs([]string{"serve", "--config", path, "--env-file", ""})
	require.NoError(t, root.ExecuteContext(context.Background()))

	require.NotNil(t, got)
	assert.Equal(t, 9191, got.Server.Port)
	assert.True(t, runner.ran)
}

func TestServePropagatesBuildError(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9192\n")

	orig := buildApp
	buildApp = func(context.Context, *config.Config) (Runner, error) {
		return nil, errors.New("no browser")
	}
	t.Cleanup(func() { buildApp = orig })

	root := newRootCmd()
	root.SetArgs([]string{"serve", "--config", path, "--env-file", ""})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser")
}

func TestMigrateLoadsEnvFile(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: memory\n")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SHOTCAST_DATABASE_DRIVER=sqlite\n"), 0o600))
	t.Setenv("SHOTCAST_DATABASE_DRIVER", "")
	require.NoError(t, os.Unsetenv("SHOTCAST_DATABASE_DRIVER"))

	var driver string
	orig := runMigrate
	runMigrate = func(_ context.Context, cfg *config.Config, _ *zap.Logger) error {
		driver = cfg.Database.Driver
		return nil
	}
	t.Cleanup(func() { runMigrate = orig })

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--config", path, "--env-file", envFile})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, "sqlite", driver)
}

func TestLoadEnvFileIgnoresMissing(t *testing.T) {
	t.Parallel()

	require.NoError(t, loadEnvFile(""))
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
}

func TestFindConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	present := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(present, []byte("{}"), 0o600))

	assert.Equal(t, present, findConfig([]string{filepath.Join(dir, "nope.yaml"), dir, present}))
	assert.Empty(t, findConfig([]string{filepath.Join(dir, "nope.yaml")}))
}
