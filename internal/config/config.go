// Package config loads the operator-facing YAML configuration file and
// resolves ${VAR} references against the process environment, mirroring
// the authoritative environment variable names and the connection-string
// indirection convention of spec §6/§10.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full on-disk configuration shape. Every *ConnectionString
// field may be a literal or a ${VAR} reference resolved at load time.
type Config struct {
	Broker     BrokerConfig     `yaml:"broker"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Database   DatabaseConfig   `yaml:"database"`
	RulesFile  string           `yaml:"rules_file"`
	RuleVersion string          `yaml:"rule_version"`
	LogLevel   string           `yaml:"log_level"`
	OpsAddr    string           `yaml:"ops_addr"`
}

// BrokerConfig selects and configures the Broker Adapter flavor.
type BrokerConfig struct {
	Flavor           string        `yaml:"flavor"` // "kafka" | "event_hubs"
	Brokers          []string      `yaml:"brokers"`
	Topic            string        `yaml:"topic"`
	GroupID          string        `yaml:"group_id"`
	ConnectionString string        `yaml:"connection_string"` // ${EVENT_HUB_CONNECTION_STRING}
	MaxMessages      int           `yaml:"max_messages"`
	ReceiveTimeout   time.Duration `yaml:"receive_timeout"`
}

// ArchiveConfig configures the Columnar Archiver and the object store it
// targets.
type ArchiveConfig struct {
	ConnectionString string        `yaml:"connection_string"` // ${BLOB_STORAGE_CONNECTION_STRING}
	Endpoint         string        `yaml:"endpoint"`
	AccessKey        string        `yaml:"access_key"`
	SecretKey        string        `yaml:"secret_key"`
	UseSSL           bool          `yaml:"use_ssl"`
	Container        string        `yaml:"container"` // BLOB_CONTAINER_NAME
	BatchSize        int           `yaml:"batch_size"` // BLOB_BATCH_SIZE
	MaxBufferSize    int           `yaml:"max_buffer_size"`
	FlushInterval    time.Duration `yaml:"flush_interval"` // BLOB_FLUSH_INTERVAL
	Compression      string        `yaml:"compression"`    // snappy|gzip|brotli|zstd|lz4|none
}

// DatabaseConfig configures the relational store's Connection Pool.
type DatabaseConfig struct {
	ConnectionString  string        `yaml:"connection_string"` // ${POSTGRES_CONNECTION_STRING}
	MinConnections    int           `yaml:"min_connections"`
	MaxConnections    int           `yaml:"max_connections"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	IdleRecycleAfter  time.Duration `yaml:"idle_recycle_after"`
}

var varRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, parses, resolves environment references against, and
// validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	resolved := resolveEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	return &cfg, nil
}

// resolveEnv substitutes every ${VAR} token with the matching environment
// variable, leaving the literal token in place if the variable is unset;
// Validate() does not check for such unresolved references.
func resolveEnv(in string) string {
	return varRef.ReplaceAllStringFunc(in, func(tok string) string {
		name := tok[2 : len(tok)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return tok
	})
}

func applyDefaults(c *Config) {
	if c.Broker.MaxMessages == 0 {
		c.Broker.MaxMessages = 100
	}
	if c.Broker.ReceiveTimeout == 0 {
		c.Broker.ReceiveTimeout = time.Second
	}
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = 1000
	}
	if c.Archive.MaxBufferSize == 0 {
		c.Archive.MaxBufferSize = 5000
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = 30 * time.Second
	}
	if c.Archive.Compression == "" {
		c.Archive.Compression = "snappy"
	}
	if c.Database.MinConnections == 0 {
		c.Database.MinConnections = 2
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 10
	}
	if c.Database.ConnectTimeout == 0 {
		c.Database.ConnectTimeout = 30 * time.Second
	}
	if c.Database.IdleRecycleAfter == 0 {
		c.Database.IdleRecycleAfter = 300 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

var validCompressions = map[string]bool{
	"snappy": true, "gzip": true, "brotli": true, "zstd": true, "lz4": true, "none": true,
}

// Validate rejects an unknown broker flavor, unknown compression codec,
// an empty database.connection_string, or min_connections above
// max_connections before anything else is constructed — an operator typo must surface as exit code 1, not a
// runtime panic three components deep.
func (c *Config) Validate() error {
	switch c.Broker.Flavor {
	case "kafka", "event_hubs":
	default:
		return fmt.Errorf("unknown broker flavor %q", c.Broker.Flavor)
	}
	if !validCompressions[c.Archive.Compression] {
		return fmt.Errorf("unknown archive compression %q", c.Archive.Compression)
	}
	if c.Database.ConnectionString == "" {
		return fmt.Errorf("database.connection_string is required")
	}
	if c.Database.MinConnections > c.Database.MaxConnections {
		return fmt.Errorf("database.min_connections (%d) exceeds max_connections (%d)", c.Database.MinConnections, c.Database.MaxConnections)
	}
	return nil
}
