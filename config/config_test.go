package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	src := "# seeds\n" +
		"nodes redis://127.0.0.1:7000, redis://127.0.0.1:7001\n" +
		"timeout 500ms\n" +
		"retry-count 3\n" +
		"use-replicas yes\n" +
		"log-level debug\n"
	p, err := parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"redis://127.0.0.1:7000", "redis://127.0.0.1:7001"}, p.Nodes)
	assert.Equal(t, 500*time.Millisecond, p.Timeout)
	assert.Equal(t, 3, p.RetryCount)
	assert.True(t, p.UseReplicas)
	assert.Equal(t, "debug", p.LogLevel)
	// untouched keys keep their defaults
	assert.Equal(t, time.Second, p.DialTimeout)
	assert.Equal(t, 16, p.PoolMaxActive)
}

func TestParseBadValue(t *testing.T) {
	_, err := parse(strings.NewReader("timeout soon\n"))
	assert.Error(t, err)
	_, err = parse(strings.NewReader("retry-count many\n"))
	assert.Error(t, err)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.yaml")
	content := "nodes:\n  - redis://127.0.0.1:7000\n  - 127.0.0.1:7001\nretry-count: 7\nuse-replicas: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("GODIS_CLUSTER_TIMEOUT", "3s")
	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"redis://127.0.0.1:7000", "127.0.0.1:7001"}, p.Nodes)
	assert.Equal(t, 7, p.RetryCount)
	assert.True(t, p.UseReplicas)
	assert.Equal(t, 3*time.Second, p.Timeout)
	assert.Equal(t, path, p.CfPath)
}

func TestLoadConfFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.conf")
	require.NoError(t, os.WriteFile(path, []byte("nodes 127.0.0.1:7000\npool-max-active 4\n"), 0o644))

	require.NoError(t, SetupConfig(path))
	assert.Equal(t, []string{"127.0.0.1:7000"}, Properties.Nodes)
	assert.Equal(t, 4, Properties.PoolMaxActive)
	Properties = Default()
}

func TestNormalize(t *testing.T) {
	p := (&ClusterProperties{PoolMaxIdle: 10, PoolMaxActive: 4}).Normalize()
	assert.Equal(t, 4, p.PoolMaxIdle)
	assert.Equal(t, 5, p.RetryCount)
	assert.Equal(t, 2*time.Second, p.Timeout)
}
