package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Values is the hub configuration snapshot. Resolution order is
// defaults -> persisted file -> environment, highest last.
type Values struct {
	CloudBaseURL string `json:"cloudBaseUrl"`
	CloudAPIKey  string `json:"cloudApiKey"`
	TenantID     string `json:"tenantId"`
	LocationID   string `json:"locationId"`
	HubSecret    string `json:"hubSecret"`

	Port   int    `json:"port"`
	DBPath string `json:"dbPath"`
	Env    string `json:"env"`

	PushInterval      time.Duration `json:"-"`
	PullInterval      time.Duration `json:"-"`
	HeartbeatInterval time.Duration `json:"-"`
	PushBatchSize     int           `json:"-"`
}

// Config provides live access to hub configuration. Snapshot reads are cheap;
// Save persists to the config file and swaps the snapshot so that re-pairing
// takes effect without a restart.
type Config struct {
	mu   sync.RWMutex
	vals Values
	path string
}

func defaults() Values {
	home, _ := os.UserHomeDir()
	return Values{
		Port:              4001,
		DBPath:            filepath.Join(home, ".edgehub", "edgehub.db"),
		Env:               "dev",
		PushInterval:      5 * time.Second,
		PullInterval:      60 * time.Second,
		HeartbeatInterval: 60 * time.Second,
		PushBatchSize:     20,
	}
}

// FilePath returns the persisted config location (~/.edgehub/config.json).
func FilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".edgehub", "config.json")
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// Load resolves configuration from defaults, the persisted file at path, and
// the environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := defaults()

	if b, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	v.CloudBaseURL = env("EDGEHUB_CLOUD_URL", v.CloudBaseURL)
	v.CloudAPIKey = env("EDGEHUB_API_KEY", v.CloudAPIKey)
	v.TenantID = env("EDGEHUB_TENANT_ID", v.TenantID)
	v.LocationID = env("EDGEHUB_LOCATION_ID", v.LocationID)
	v.HubSecret = env("EDGEHUB_SECRET", v.HubSecret)
	v.DBPath = env("EDGEHUB_DB_PATH", v.DBPath)
	v.Env = env("ENV", v.Env)
	if p := os.Getenv("EDGEHUB_PORT"); p != "" {
		if port, err := strconv.Atoi(p); err == nil && port > 0 {
			v.Port = port
		}
	}
	if d := os.Getenv("EDGEHUB_PUSH_INTERVAL"); d != "" {
		if dur, err := time.ParseDuration(d); err == nil {
			v.PushInterval = dur
		}
	}
	if d := os.Getenv("EDGEHUB_PULL_INTERVAL"); d != "" {
		if dur, err := time.ParseDuration(d); err == nil {
			v.PullInterval = dur
		}
	}

	return &Config{vals: v, path: path}, nil
}

// Snapshot returns a copy of the current values.
func (c *Config) Snapshot() Values {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals
}

// IsPaired reports whether the hub has cloud credentials.
func (c *Config) IsPaired() bool {
	v := c.Snapshot()
	return v.CloudBaseURL != "" && v.CloudAPIKey != ""
}

// SetCredentials updates the cloud pairing credentials in memory and persists
// them. Called by the registration/pairing flow.
func (c *Config) SetCredentials(baseURL, apiKey, tenantID, locationID string) error {
	c.mu.Lock()
	c.vals.CloudBaseURL = baseURL
	c.vals.CloudAPIKey = apiKey
	c.vals.TenantID = tenantID
	c.vals.LocationID = locationID
	vals := c.vals
	path := c.path
	c.mu.Unlock()

	return save(path, vals)
}

// Save persists the current snapshot with an atomic overwrite.
func (c *Config) Save() error {
	c.mu.RLock()
	vals := c.vals
	path := c.path
	c.mu.RUnlock()
	return save(path, vals)
}

func save(path string, v Values) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	// Atomic overwrite: write a temp file in the same directory, then rename.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	log.Debug().Str("path", path).Msg("config persisted")
	return nil
}
