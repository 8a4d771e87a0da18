// Package cassandra implements the coordination store on Cassandra
// lightweight transactions.
package cassandra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

// Config describes how to reach the cluster.
type Config struct {
	Hosts          []string
	Port           int
	Keyspace       string
	LocalDC        string
	Username       string
	Password       string
	Consistency    string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	ProtoVersion   int
}

// NewCluster builds the driver configuration. Driver-level retries are off;
// Retrier owns every retry decision.
func NewCluster(cfg Config) (*gocql.ClusterConfig, error) {
	hosts := make([]string, 0, len(cfg.Hosts))
	for _, host := range cfg.Hosts {
		if host = strings.TrimSpace(host); host != "" {
			hosts = append(hosts, host)
		}
	}
	if len(hosts) == 0 {
		return nil, errors.New("at least one cassandra host is required")
	}
	if strings.TrimSpace(cfg.Keyspace) == "" {
		return nil, errors.New("cassandra keyspace is required")
	}
	consistency, err := ParseConsistency(cfg.Consistency)
	if err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = cfg.Keyspace
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.ConnectTimeout > 0 {
		cluster.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ProtoVersion > 0 {
		cluster.ProtoVersion = cfg.ProtoVersion
	}
	cluster.Consistency = consistency
	cluster.SerialConsistency = gocql.Serial
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 0}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: cfg.Username, Password: cfg.Password}
	}
	if cfg.LocalDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(cfg.LocalDC))
	} else {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	}
	return cluster, nil
}

// Connect opens a session for cfg.
func Connect(cfg Config) (*gocql.Session, error) {
	cluster, err := NewCluster(cfg)
	if err != nil {
		return nil, err
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to cassandra %v: %w", cfg.Hosts, err)
	}
	return session, nil
}

// ParseConsistency accepts level names in any case; empty means LOCAL_ONE.
func ParseConsistency(value string) (gocql.Consistency, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return gocql.LocalOne, nil
	}
	c, err := gocql.ParseConsistencyWrapper(strings.ToUpper(value))
	if err != nil {
		return 0, fmt.Errorf("cassandra consistency %q: %w", value, err)
	}
	return c, nil
}
