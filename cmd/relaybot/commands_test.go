package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestCheckConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  token: \"1:x\"\n  owner_user_ids: [7]\n"), 0o600))

	out, err := execute(t, "check-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "operators:       1")
	assert.Contains(t, out, "correlation ttl: 168h0m0s")
	assert.Contains(t, out, "storage:         memory")
}

func TestCheckConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  token: \"\"\n"), 0o600))

	_, err := execute(t, "check-config", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.token is required")
}

func TestMigrateSQLite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	db := filepath.Join(dir, "relay.db")
	cfg := "telegram:\n  token: \"1:x\"\n  owner_user_ids: [7]\nstorage:\n  driver: sqlite\n  path: " + db + "\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	_, err := execute(t, "migrate", "-c", path)
	require.NoError(t, err)
	_, err = os.Stat(db)
	assert.NoError(t, err)
}
