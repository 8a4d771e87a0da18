package sqlserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"repaircoord/config"
)

// testServer describes the SQL Server the integration tests run against. It
// is read from MSSQL_* variables; without a password the tests skip.
func testServer(t *testing.T, database string) config.SQLServerConfig {
	t.Helper()
	cfg := config.SQLServerConfig{
		Host:         envOrDefault("MSSQL_HOST", "localhost"),
		User:         envOrDefault("MSSQL_USER", "sa"),
		Password:     os.Getenv("MSSQL_SA_PASSWORD"),
		PasswordFile: os.Getenv("MSSQL_SA_PASSWORD_FILE"),
		Database:     database,
		Encrypt:      "disable",
	}
	if cfg.Password == "" && cfg.PasswordFile == "" {
		t.Skip("MSSQL_SA_PASSWORD or MSSQL_SA_PASSWORD_FILE not set; start a local sql server to run store tests")
	}
	port, err := strconv.Atoi(envOrDefault("MSSQL_PORT", "1433"))
	require.NoError(t, err, "MSSQL_PORT")
	cfg.Port = port
	return cfg
}

// newTestStore creates a throwaway database with the coordination schema and
// drops it when the test ends.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	masterDSN, err := testServer(t, "master").DSN()
	require.NoError(t, err)
	master, err := Open(ctx, masterDSN)
	require.NoError(t, err, "connect to master")
	t.Cleanup(func() { _ = master.Close() })

	dbName := fmt.Sprintf("repaircoord_test_%d", time.Now().UnixNano())
	_, err = master.db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE [%s]", dbName))
	require.NoError(t, err, "create database")
	t.Cleanup(func() {
		_, _ = master.db.ExecContext(context.Background(), fmt.Sprintf("ALTER DATABASE [%s] SET SINGLE_USER WITH ROLLBACK IMMEDIATE", dbName))
		_, _ = master.db.ExecContext(context.Background(), fmt.Sprintf("DROP DATABASE [%s]", dbName))
	})

	dsn, err := testServer(t, dbName).DSN()
	require.NoError(t, err)
	store, err := Open(ctx, dsn, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err, "connect to %s", dbName)
	t.Cleanup(func() { _ = store.Close() })

	schema, err := os.ReadFile(filepath.Join(moduleRoot(t), "conf", "sql", "coordination", "001_create_schema.sql"))
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, string(schema))
	require.NoError(t, err, "apply schema")
	return store
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "resolve module root")
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
