package main

import (
	"bytes"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"lanmedia/internal/config"
	"lanmedia/internal/logger"
)

func TestFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lanmedia.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: "+filepath.Join(dir, "from-file")+"\naddr: 127.0.0.1:7000\n"), 0o644))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var f flags
	f.register(fs)
	require.NoError(t, fs.Parse([]string{"-config", path, "-root", filepath.Join(dir, "from-flag"), "-log-level", "debug"}))

	cfg, err := config.Load(f.config, f.apply)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "from-flag"), cfg.Root)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestConfigCmd(t *testing.T) {
	root := t.TempDir()

	var out bytes.Buffer
	require.NoError(t, configCmd([]string{"-root", root, "-addr", ":8080"}, &out))

	var got config.Config
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, root, got.Root)
	assert.Equal(t, ":8080", got.Addr)
	assert.Equal(t, filepath.Join(root, config.DefaultStateDirName), got.StateDir)
	assert.Equal(t, "INFO", got.Logging.Level)
}

func TestConfigCmd_Invalid(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, configCmd([]string{"-addr", "nope"}, &out))
	assert.Error(t, configCmd([]string{"-bogus"}, &out))
}

func TestBanner(t *testing.T) {
	var out bytes.Buffer
	banner(&out, "192.168.1.20:5000", logger.New(io.Discard, logger.LevelInfo, nil))
	assert.Contains(t, out.String(), "http://192.168.1.20:5000/")
	assert.Greater(t, bytes.Count(out.Bytes(), []byte("\n")), 5)
}
