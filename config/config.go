// Package config loads the coordinator configuration file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"repaircoord/ring"
)

const (
	StoreCassandra = "cassandra"
	StoreSQLServer = "sqlserver"
	StoreMemory    = "memory"
)

// Duration is a time.Duration written as "90s" or "1m30s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("line %d: %q must be a valid duration (e.g. '90s', '1m'): %w", value.Line, raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root of the configuration file.
type Config struct {
	Instance     InstanceConfig     `yaml:"instance"`
	Store        StoreConfig        `yaml:"store"`
	Coordination CoordinationConfig `yaml:"coordination"`
	Repair       RepairConfig       `yaml:"repair"`
	HTTP         HTTPConfig         `yaml:"http"`
}

// InstanceConfig identifies this coordinator. An empty ID is replaced by a
// random one at startup.
type InstanceConfig struct {
	ID      string `yaml:"id,omitempty"`
	Address string `yaml:"address"`
}

type StoreConfig struct {
	Type      string          `yaml:"type"`
	Cassandra CassandraConfig `yaml:"cassandra,omitempty"`
	SQLServer SQLServerConfig `yaml:"sqlserver,omitempty"`
}

type CassandraConfig struct {
	Hosts          []string `yaml:"hosts"`
	Port           int      `yaml:"port,omitempty"`
	Keyspace       string   `yaml:"keyspace"`
	LocalDC        string   `yaml:"localDC,omitempty"`
	Username       string   `yaml:"username,omitempty"`
	Password       string   `yaml:"password,omitempty"`
	Consistency    string   `yaml:"consistency,omitempty"`
	Timeout        Duration `yaml:"timeout,omitempty"`
	ConnectTimeout Duration `yaml:"connectTimeout,omitempty"`
	ProtoVersion   int      `yaml:"protoVersion,omitempty"`
}

type SQLServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
	// PasswordFile takes precedence over Password.
	PasswordFile string `yaml:"passwordFile,omitempty"`
	Database     string `yaml:"database"`
	Encrypt      string `yaml:"encrypt,omitempty"`
}

type CoordinationConfig struct {
	LeaseTTL          Duration `yaml:"leaseTTL"`
	LockTTL           Duration `yaml:"lockTTL"`
	HeartbeatInterval Duration `yaml:"heartbeatInterval"`
	HeartbeatTTL      Duration `yaml:"heartbeatTTL"`
	SchedulerLeaseID  string   `yaml:"schedulerLeaseID"`
	SweepInterval     Duration `yaml:"sweepInterval"`
	PollInterval      Duration `yaml:"pollInterval"`
	MaxConcurrent     int      `yaml:"maxConcurrent"`
	// Ranges restricts the worker to segments inside these "start:end" token ranges.
	Ranges []string `yaml:"ranges,omitempty"`
}

// RepairConfig names the external command that repairs one segment.
type RepairConfig struct {
	Command []string `yaml:"command"`
	Timeout Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
}

// Default returns a configuration for a single local coordinator on the
// in-memory store.
func Default() *Config {
	return &Config{
		Instance: InstanceConfig{Address: "127.0.0.1"},
		Store: StoreConfig{
			Type: StoreMemory,
			Cassandra: CassandraConfig{
				Port:           9042,
				Keyspace:       "repaircoord",
				Consistency:    "LOCAL_ONE",
				Timeout:        Duration(10 * time.Second),
				ConnectTimeout: Duration(10 * time.Second),
			},
			SQLServer: SQLServerConfig{
				Host:     "localhost",
				Port:     1433,
				User:     "sa",
				Database: "repaircoord",
				Encrypt:  "disable",
			},
		},
		Coordination: CoordinationConfig{
			LeaseTTL:          Duration(90 * time.Second),
			LockTTL:           Duration(90 * time.Second),
			HeartbeatInterval: Duration(time.Minute),
			HeartbeatTTL:      Duration(3 * time.Minute),
			SchedulerLeaseID:  "scheduler",
			SweepInterval:     Duration(5 * time.Minute),
			PollInterval:      Duration(10 * time.Second),
			MaxConcurrent:     1,
		},
		Repair: RepairConfig{Timeout: Duration(time.Hour)},
		HTTP:   HTTPConfig{Address: ":8080"},
	}
}

// Load reads path on top of Default, applies overrides in order and validates
// the result. An empty path starts from the defaults.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}
	if c.Instance.ID != "" {
		if _, err := uuid.Parse(c.Instance.ID); err != nil {
			return fmt.Errorf("instance.id must be a uuid: %w", err)
		}
	}
	if strings.TrimSpace(c.Instance.Address) == "" {
		return errors.New("instance.address is required")
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Coordination.validate(); err != nil {
		return err
	}
	if c.Repair.Timeout <= 0 {
		return errors.New("repair.timeout must be positive")
	}
	return nil
}

func (s StoreConfig) validate() error {
	switch s.Type {
	case StoreMemory:
		return nil
	case StoreCassandra:
		if len(s.Cassandra.Hosts) == 0 {
			return errors.New("store.cassandra.hosts is required")
		}
		if strings.TrimSpace(s.Cassandra.Keyspace) == "" {
			return errors.New("store.cassandra.keyspace is required")
		}
		return nil
	case StoreSQLServer:
		if strings.TrimSpace(s.SQLServer.Host) == "" || strings.TrimSpace(s.SQLServer.Database) == "" {
			return errors.New("store.sqlserver.host and store.sqlserver.database are required")
		}
		return nil
	default:
		return fmt.Errorf("store.type %q must be one of %s, %s, %s", s.Type, StoreCassandra, StoreSQLServer, StoreMemory)
	}
}

func (c CoordinationConfig) validate() error {
	durations := []struct {
		name  string
		value Duration
	}{
		{"coordination.leaseTTL", c.LeaseTTL},
		{"coordination.lockTTL", c.LockTTL},
		{"coordination.heartbeatInterval", c.HeartbeatInterval},
		{"coordination.heartbeatTTL", c.HeartbeatTTL},
		{"coordination.sweepInterval", c.SweepInterval},
		{"coordination.pollInterval", c.PollInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if c.LeaseTTL < Duration(time.Second) || c.LockTTL < Duration(time.Second) {
		return errors.New("coordination.leaseTTL and coordination.lockTTL must be at least 1s")
	}
	if c.HeartbeatTTL <= c.HeartbeatInterval {
		return errors.New("coordination.heartbeatTTL must exceed coordination.heartbeatInterval")
	}
	if strings.TrimSpace(c.SchedulerLeaseID) == "" {
		return errors.New("coordination.schedulerLeaseID is required")
	}
	if c.MaxConcurrent < 1 {
		return errors.New("coordination.maxConcurrent must be at least 1")
	}
	if _, err := c.TokenRanges(); err != nil {
		return err
	}
	return nil
}

// TokenRanges parses Ranges.
func (c CoordinationConfig) TokenRanges() ([]ring.Range, error) {
	var ranges []ring.Range
	for i, raw := range c.Ranges {
		r, err := ring.ParseRange(raw)
		if err != nil {
			return nil, fmt.Errorf("coordination.ranges[%d]: %w", i, err)
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// InstanceID returns the configured id, or a fresh random one when unset.
func (c *Config) InstanceID() (uuid.UUID, error) {
	if c.Instance.ID == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(c.Instance.ID)
}

// GetPassword resolves the SQL Server password from PasswordFile or Password.
func (s SQLServerConfig) GetPassword() (string, error) {
	if s.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(s.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", s.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if s.Password != "" {
		return s.Password, nil
	}
	return "", errors.New("no sqlserver password configured: set password, passwordFile or REPAIRCOORD_SQLSERVER_PASSWORD")
}

// DSN builds the go-mssqldb connection string.
func (s SQLServerConfig) DSN() (string, error) {
	password, err := s.GetPassword()
	if err != nil {
		return "", err
	}
	port := s.Port
	if port == 0 {
		port = 1433
	}
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(s.User, password),
		Host:   fmt.Sprintf("%s:%d", s.Host, port),
	}
	query := url.Values{}
	query.Set("database", s.Database)
	if s.Encrypt != "" {
		query.Set("encrypt", s.Encrypt)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
