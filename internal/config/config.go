package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"argus/internal/models"
)

const (
	DefaultPrivateKeyPath       = "/root/.ssh/id_rsa"
	DefaultFleetFile            = "./data/fleet.json"
	DefaultPreferencesPath      = "Library/Application Support/Plex Media Server/Preferences.xml"
	DefaultPreferencesName      = "Preferences.xml"
	DefaultSearchDepth          = 6
	DefaultConnectTimeout       = 30 * time.Second
	DefaultRetryAttempts        = 3
	DefaultRetryDelay           = 2 * time.Second
	DefaultDiscoveryInterval    = 6 * time.Hour
	DefaultDiscoveryConcurrency = 4
	DefaultDiscoveryTimeout     = 30 * time.Minute
	DefaultPollInterval         = 15 * time.Second
	DefaultPollConcurrency      = 8
	DefaultQueryTimeout         = 10 * time.Second
	DefaultPosterWidth          = 200
	DefaultRealtimeMinInterval  = 5 * time.Second
)

// Config is built once at startup and passed to each component.
type Config struct {
	Nodes []models.Node `yaml:"nodes"`

	SSHUser string `yaml:"ssh_user"`
	// LegacySSHUser reads the upper-case key used by older JSON configs.
	LegacySSHUser  string        `yaml:"SSH_USER"`
	PrivateKeyPath string        `yaml:"private_key"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Retry          Retry         `yaml:"retry"`
	// TrustUnknownHosts skips host key verification when true (the default).
	// Set it to false and provide KnownHostsFile to verify hosts.
	TrustUnknownHosts *bool  `yaml:"trust_unknown_hosts"`
	KnownHostsFile    string `yaml:"known_hosts_file"`

	FleetFile            string        `yaml:"fleet_file"`
	StagingDir           string        `yaml:"staging_dir"`
	PreferencesPath      string        `yaml:"preferences_path"`
	PreferencesName      string        `yaml:"preferences_name"`
	SearchDepth          int           `yaml:"search_depth"`
	DiscoveryInterval    time.Duration `yaml:"discovery_interval"`
	DiscoveryConcurrency int           `yaml:"discovery_concurrency"`
	// DiscoveryTimeout bounds every cycle, scheduled or API-triggered.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	// RedactFleetEvents masks tokens in fleet_updated events.
	RedactFleetEvents bool `yaml:"redact_fleet_events"`

	// PollInterval < 0 disables the ticker; polls then run only on demand.
	PollInterval                time.Duration `yaml:"poll_interval"`
	PollConcurrency             int           `yaml:"poll_concurrency"`
	QueryTimeout                time.Duration `yaml:"query_timeout"`
	PosterWidth                 int           `yaml:"poster_width"`
	IncludeSessionsWithoutMedia bool          `yaml:"include_sessions_without_media"`
	// Realtime subscribes to each server's notification socket and polls
	// on playback changes in addition to the interval.
	Realtime bool `yaml:"realtime"`
	// RealtimeMinInterval spaces notification-driven polls across the fleet.
	RealtimeMinInterval time.Duration `yaml:"realtime_min_interval"`
}

type Retry struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Load reads a YAML (or JSON) config file, applies defaults and validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.SSHUser == "" {
		cfg.SSHUser = cfg.LegacySSHUser
	}
	if cfg.PrivateKeyPath == "" {
		cfg.PrivateKeyPath = DefaultPrivateKeyPath
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = DefaultRetryAttempts
	}
	if cfg.Retry.Delay == 0 {
		cfg.Retry.Delay = DefaultRetryDelay
	}
	if cfg.TrustUnknownHosts == nil {
		trust := true
		cfg.TrustUnknownHosts = &trust
	}
	if cfg.FleetFile == "" {
		cfg.FleetFile = DefaultFleetFile
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(os.TempDir(), "argus")
	}
	if cfg.PreferencesPath == "" {
		cfg.PreferencesPath = DefaultPreferencesPath
	}
	if cfg.PreferencesName == "" {
		cfg.PreferencesName = DefaultPreferencesName
	}
	if cfg.SearchDepth == 0 {
		cfg.SearchDepth = DefaultSearchDepth
	}
	if cfg.DiscoveryInterval == 0 {
		cfg.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if cfg.DiscoveryConcurrency == 0 {
		cfg.DiscoveryConcurrency = DefaultDiscoveryConcurrency
	}
	if cfg.DiscoveryTimeout == 0 {
		cfg.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollConcurrency == 0 {
		cfg.PollConcurrency = DefaultPollConcurrency
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.PosterWidth == 0 {
		cfg.PosterWidth = DefaultPosterWidth
	}
	if cfg.RealtimeMinInterval == 0 {
		cfg.RealtimeMinInterval = DefaultRealtimeMinInterval
	}
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	seen := make(map[string]struct{}, len(cfg.Nodes))
	for i := range cfg.Nodes {
		n := &cfg.Nodes[i]
		if err := n.Validate(); err != nil {
			return fmt.Errorf("node %d (%s): %w", i, n.Name, err)
		}
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("node %d: duplicate name %q", i, n.Name)
		}
		seen[n.Name] = struct{}{}
		if !n.LocalAccess && n.User == "" && cfg.SSHUser == "" {
			return fmt.Errorf("node %s: user is required when ssh_user is not set", n.Name)
		}
	}
	if !cfg.TrustsUnknownHosts() && cfg.KnownHostsFile == "" {
		return fmt.Errorf("known_hosts_file is required when trust_unknown_hosts is false")
	}
	if cfg.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1")
	}
	return nil
}

// TrustsUnknownHosts reports whether host key verification is disabled.
func (c Config) TrustsUnknownHosts() bool {
	return c.TrustUnknownHosts == nil || *c.TrustUnknownHosts
}

// UserFor returns the SSH user for a node, falling back to the global user.
func (c Config) UserFor(n models.Node) string {
	if n.User != "" {
		return n.User
	}
	return c.SSHUser
}
