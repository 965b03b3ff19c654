// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/irpa-agent/internal/observability"
)

// execute runs a fresh command tree inside a scratch directory.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(observability.ResetForTest)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_VersionFlag(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRootCmd_NoArgs(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "irpa-agent executes remote automation commands on this device.")
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "config")
}

func TestConfigShow_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "address: ws://127.0.0.1:5555/agent")
	assert.Contains(t, out, "quiet_period: ")
	assert.Contains(t, out, "jpeg_quality: ")
}

func TestConfigShow_ReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "agent.yaml")
	v := viper.New()
	v.Set("agent.address", "ws://10.0.0.7:9000/agent")
	require.NoError(t, v.WriteConfigAs(path))

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "address: ws://10.0.0.7:9000/agent")
}

func TestConfigShow_InvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	v := viper.New()
	v.Set("dispatch.jpeg_quality", 0)
	require.NoError(t, v.WriteConfigAs(filepath.Join(dir, defaultConfigName+".yaml")))

	_, err := execute(t, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jpeg_quality")
}

func TestSetAddress(t *testing.T) {
	t.Run("persists to the default file", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		out, err := execute(t, "config", "set-address", "ws://192.168.1.20:5555/agent")
		require.NoError(t, err)
		assert.Contains(t, out, "Controller address set to ws://192.168.1.20:5555/agent")

		v := viper.New()
		v.SetConfigFile(filepath.Join(dir, defaultConfigName+".yaml"))
		require.NoError(t, v.ReadInConfig())
		assert.Equal(t, "ws://192.168.1.20:5555/agent", v.GetString("agent.address"))

		// A later invocation picks the saved address up.
		out, err = execute(t, "config", "show")
		require.NoError(t, err)
		assert.Contains(t, out, "address: ws://192.168.1.20:5555/agent")
	})

	t.Run("writes to an explicit config path that does not exist yet", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		path := filepath.Join(dir, "custom.yaml")

		_, err := execute(t, "--config", path, "config", "set-address", "tcp://10.1.1.1:5555")
		require.NoError(t, err)

		v := viper.New()
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())
		assert.Equal(t, "tcp://10.1.1.1:5555", v.GetString("agent.address"))
	})

	t.Run("rejects an unusable address", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		_, err := execute(t, "config", "set-address", "gopher://10.1.1.1")
		require.Error(t, err)
		assert.NoFileExists(t, filepath.Join(dir, defaultConfigName+".yaml"))
	})

	t.Run("requires exactly one argument", func(t *testing.T) {
		t.Chdir(t.TempDir())

		_, err := execute(t, "config", "set-address")
		require.Error(t, err)
	})
}

func TestGetConfigFromContext_Missing(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration not found")
}
