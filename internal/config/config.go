// Package config loads the server's flat YAML configuration record.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FsyncPolicy names the WAL durability policy.
type FsyncPolicy string

const (
	FsyncAlways   FsyncPolicy = "always"
	FsyncPeriodic FsyncPolicy = "periodic"
	FsyncOff      FsyncPolicy = "off"
)

// Auth holds the admin credential installed on every startup ("config
// wins" over any persisted row). A nil *Auth on Config means the server
// runs open.
type Auth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the on-disk YAML shape.
type Config struct {
	Host               string      `yaml:"host"`
	Port               uint16      `yaml:"port"`
	DataDir            string      `yaml:"dataDir"`
	MaxLineBytes       int         `yaml:"maxLineBytes"`
	MaxConnections     int         `yaml:"maxConnections"`
	WALFsync           FsyncPolicy `yaml:"walFsync"`
	WALFsyncIntervalMs int         `yaml:"walFsyncIntervalMs"`
	WALFsyncBytes      int64       `yaml:"walFsyncBytes"`
	MemtableMaxBytes   int64       `yaml:"memtableMaxBytes"`
	SSTableIndexStride int         `yaml:"sstableIndexStride"`
	Auth               *Auth       `yaml:"auth"`
}

const (
	defaultMaxLineBytes       = 1048576
	defaultMaxConnections     = 128
	defaultWALFsyncIntervalMs = 1000
	defaultWALFsyncBytes      = 1 << 20
	defaultMemtableMaxBytes   = 16 << 20
	defaultSSTableIndexStride = 64
)

// Load reads and validates a Config from path, applying defaults to the
// line, connection, WAL, memtable and index-stride fields left unset.
// host, port, dataDir and auth get no default; port and dataDir are
// required.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxLineBytes == 0 {
		c.MaxLineBytes = defaultMaxLineBytes
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = defaultMaxConnections
	}
	if c.WALFsync == "" {
		c.WALFsync = FsyncPeriodic
	}
	if c.WALFsyncIntervalMs == 0 {
		c.WALFsyncIntervalMs = defaultWALFsyncIntervalMs
	}
	if c.WALFsyncBytes == 0 {
		c.WALFsyncBytes = defaultWALFsyncBytes
	}
	if c.MemtableMaxBytes == 0 {
		c.MemtableMaxBytes = defaultMemtableMaxBytes
	}
	if c.SSTableIndexStride == 0 {
		c.SSTableIndexStride = defaultSSTableIndexStride
	}
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataDir is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	switch c.WALFsync {
	case FsyncAlways, FsyncPeriodic, FsyncOff:
	default:
		return fmt.Errorf("walFsync must be one of always|periodic|off, got %q", c.WALFsync)
	}
	if c.Auth != nil && (c.Auth.Username == "" || c.Auth.Password == "") {
		return fmt.Errorf("auth requires both username and password")
	}
	return nil
}
