package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Type)
	assert.Equal(t, 90*time.Second, cfg.Coordination.LeaseTTL.Std())
	assert.Equal(t, 90*time.Second, cfg.Coordination.LockTTL.Std())
	assert.Equal(t, "scheduler", cfg.Coordination.SchedulerLeaseID)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
}

func TestLoadCassandra(t *testing.T) {
	path := writeConfig(t, `
instance:
  id: 6f1c1d3e-8f0e-4d7a-9d55-0f5e0b0e8a11
  address: 10.0.0.7
store:
  type: cassandra
  cassandra:
    hosts: [10.0.0.1, 10.0.0.2]
    keyspace: reaper_db
    localDC: dc1
    consistency: LOCAL_QUORUM
    timeout: 5s
coordination:
  leaseTTL: 60s
  lockTTL: 2m
  ranges: ["0:100", "-50:-10"]
repair:
  command: [nodetool, repair]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StoreCassandra, cfg.Store.Type)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Store.Cassandra.Hosts)
	assert.Equal(t, 9042, cfg.Store.Cassandra.Port, "default kept")
	assert.Equal(t, 5*time.Second, cfg.Store.Cassandra.Timeout.Std())
	assert.Equal(t, 60*time.Second, cfg.Coordination.LeaseTTL.Std())
	assert.Equal(t, 2*time.Minute, cfg.Coordination.LockTTL.Std())
	assert.Equal(t, 10*time.Second, cfg.Coordination.PollInterval.Std(), "default kept")

	ranges, err := cfg.Coordination.TokenRanges()
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	assert.Equal(t, "(0,100]", ranges[0].String())

	id, err := cfg.InstanceID()
	require.NoError(t, err)
	assert.Equal(t, "6f1c1d3e-8f0e-4d7a-9d55-0f5e0b0e8a11", id.String())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad duration", content: "coordination:\n  leaseTTL: soon\n"},
		{name: "unknown store", content: "store:\n  type: redis\n"},
		{name: "cassandra without hosts", content: "store:\n  type: cassandra\n"},
		{name: "bad instance id", content: "instance:\n  id: nope\n  address: a\n"},
		{name: "heartbeat ttl too short", content: "coordination:\n  heartbeatInterval: 1m\n  heartbeatTTL: 30s\n"},
		{name: "bad range", content: "coordination:\n  ranges: [\"1-2\"]\n"},
		{name: "zero concurrency", content: "coordination:\n  maxConcurrent: 0\n"},
		{name: "sub-second ttl", content: "coordination:\n  lockTTL: 500ms\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadAppliesOverridesBeforeValidation(t *testing.T) {
	path := writeConfig(t, "store:\n  type: cassandra\n")
	cfg, err := Load(path, func(c *Config) {
		c.Store.Cassandra.Hosts = []string{"10.0.0.3"}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.3"}, cfg.Store.Cassandra.Hosts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestInstanceIDGeneratedWhenUnset(t *testing.T) {
	cfg := Default()
	a, err := cfg.InstanceID()
	require.NoError(t, err)
	b, err := cfg.InstanceID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSQLServerDSN(t *testing.T) {
	s := SQLServerConfig{Host: "db", Port: 1444, User: "sa", Password: "p@ss word", Database: "repair", Encrypt: "disable"}
	dsn, err := s.DSN()
	require.NoError(t, err)
	assert.Equal(t, "sqlserver://sa:p%40ss%20word@db:1444?database=repair&encrypt=disable", dsn)

	passwordFile := filepath.Join(t.TempDir(), "pw")
	require.NoError(t, os.WriteFile(passwordFile, []byte("fromfile\n"), 0o600))
	s.PasswordFile = passwordFile
	pw, err := s.GetPassword()
	require.NoError(t, err)
	assert.Equal(t, "fromfile", pw)

	_, err = SQLServerConfig{Host: "db"}.DSN()
	assert.Error(t, err)
}
