package cassandra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	hosts := strings.TrimSpace(os.Getenv("CASSANDRA_HOSTS"))
	if hosts == "" {
		t.Skip("CASSANDRA_HOSTS not set; start a local cassandra and export its contact points")
	}
	cfg := Config{
		Hosts:          strings.Split(hosts, ","),
		Keyspace:       "system",
		LocalDC:        os.Getenv("CASSANDRA_LOCAL_DC"),
		Timeout:        10 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}

	admin, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect admin session: %v", err)
	}

	keyspace := fmt.Sprintf("repaircoord_test_%d", time.Now().UnixNano())
	createKeyspace := fmt.Sprintf(
		`CREATE KEYSPACE %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`,
		keyspace,
	)
	if err := admin.Query(createKeyspace).Exec(); err != nil {
		admin.Close()
		t.Fatalf("create keyspace: %v", err)
	}

	cfg.Keyspace = keyspace
	session, err := Connect(cfg)
	if err != nil {
		dropKeyspace(admin, keyspace)
		admin.Close()
		t.Fatalf("connect test session: %v", err)
	}
	t.Cleanup(func() {
		session.Close()
		dropKeyspace(admin, keyspace)
		admin.Close()
	})

	schema, err := os.ReadFile(filepath.Join(moduleRoot(t), "conf", "cql", "001_create_schema.cql"))
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	for _, stmt := range strings.Split(string(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := session.Query(stmt).Consistency(gocql.All).Exec(); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	store, err := NewStore(ctx, session, WithConsistency(gocql.LocalQuorum))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func dropKeyspace(session *gocql.Session, keyspace string) {
	_ = session.Query(fmt.Sprintf("DROP KEYSPACE IF EXISTS %s", keyspace)).Exec()
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("resolve module root")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
