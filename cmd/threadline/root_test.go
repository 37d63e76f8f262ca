package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/threadline"
	"github.com/aretw0/threadline/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagged(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addGlobalFlags(cmd.Flags())
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "threadline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: anthropic\nstore:\n  driver: file\n"), 0o600))

	cmd := newFlagged(t, "--config", path, "--model", "claude-3-5-haiku-latest", "--store", "sqlite", "--store-path", filepath.Join(dir, "t.db"))
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.LLM.Model)
	assert.Equal(t, config.StoreSQLite, cfg.Store.Driver)
}

func TestLoadConfig_ValidatesAfterFlags(t *testing.T) {
	cmd := newFlagged(t, "--store", "sqlite")
	_, err := loadConfig(cmd)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "threadline version "+strings.TrimSpace(threadline.Version)+"\n", out.String())
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "chat", "ask", "suggest", "graph", "mcp", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestGraphCommand(t *testing.T) {
	var out bytes.Buffer
	graphCmd.SetOut(&out)
	require.NoError(t, graphCmd.RunE(graphCmd, nil))
	assert.Contains(t, out.String(), `grade -- "sufficient" --> answer`)
}
