package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "classify", "catalog", "fetch", "export", "overlay", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "precinct-map", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestFetchCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range fetchCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"chunk", "all", "full", "status", "reset"} {
		assert.True(t, names[name], "fetch should have subcommand %q", name)
	}
}

func TestOverlayCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range overlayCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"load", "clear", "stats"} {
		assert.True(t, names[name], "overlay should have subcommand %q", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestExportCommand_Flags(t *testing.T) {
	flag := exportCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "json", flag.DefValue)

	for _, name := range []string{"out", "full"} {
		assert.NotNil(t, exportCmd.Flags().Lookup(name), "export should have --%s flag", name)
	}
}

func TestClassifyCommand_Flags(t *testing.T) {
	for _, name := range []string{"dynamic", "bbox"} {
		assert.NotNil(t, classifyCmd.Flags().Lookup(name), "classify should have --%s flag", name)
	}
}

func TestRootCmd_PersistentPreRunE_WithValidConfig(t *testing.T) {
	dir := chdirTemp(t)
	configContent := `
store:
  driver: sqlite
  dsn: custom.db
log:
  level: info
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configContent), 0o644))

	oldCfg := cfg
	cfg = nil
	defer func() { cfg = oldCfg }()

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "custom.db", cfg.Store.DSN)
}

func TestRootCmd_PersistentPreRunE_NoConfigFile(t *testing.T) {
	chdirTemp(t)

	oldCfg := cfg
	cfg = nil
	defer func() { cfg = oldCfg }()

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestRootCmd_PersistentPreRunE_BadLogLevel(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log:\n  level: loud\n"), 0o644))

	oldCfg := cfg
	defer func() { cfg = oldCfg }()

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init logger")
}
