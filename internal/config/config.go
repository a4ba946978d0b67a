package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for mediavault.
type Config struct {
	HostID  string `toml:"host_id"`
	BaseDir string `toml:"base_dir"`
	LogDir  string `toml:"log_dir"`

	Bot        BotConfig        `toml:"bot"`
	Policy     PolicyConfig     `toml:"policy"`
	Store      StoreConfig      `toml:"store"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Transport  TransportConfig  `toml:"transport"`
	Shortener  ShortenerConfig  `toml:"shortener"`
	Mirror     MirrorConfig     `toml:"mirror"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// BotConfig holds the deployment profile of the resolver.
type BotConfig struct {
	Host string `toml:"host"` // deep-link host, default "t.me"
	Name string `toml:"name"`

	AdminChatID   int64 `toml:"admin_chat_id"`
	ReportToAdmin bool  `toml:"report_to_admin"`

	SessionWindowHours  int `toml:"session_window_hours"`  // 0 disables throttling
	EphemeralTTLMinutes int `toml:"ephemeral_ttl_minutes"` // 0 disables ephemeral delivery
	BatchLimit          int `toml:"batch_limit"`           // grouped delivery ceiling, default 10
	SendTimeoutSeconds  int `toml:"send_timeout_seconds"`
	ReportTopN          int `toml:"report_top_n"`
}

// PolicyConfig drives the access policy. Admin IDs are explicit
// configuration, not scattered constants.
type PolicyConfig struct {
	AdminIDs []int64 `toml:"admin_ids"`

	// Redeem is "open" (default) or "premium". Premium gates non-members
	// behind an indirection link before granting.
	Redeem         string  `toml:"redeem"`
	PremiumIDs     []int64 `toml:"premium_ids"`
	GateURL        string  `toml:"gate_url"`
	GateWindowMins int     `toml:"gate_window_minutes"` // default 30
}

// StoreConfig represents configuration for the record store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// LedgerConfig represents configuration for the session ledger.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LedgerConfig struct {
	Type string `toml:"type"` // "memory" or "redis"

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`
}

// TransportConfig represents configuration for the messaging transport bridge.
type TransportConfig struct {
	Type string `toml:"type"` // "amqp"

	URL              string `toml:"url"`
	UpdatesQueue     string `toml:"updates_queue"`     // inbound bot updates
	DeliveryExchange string `toml:"delivery_exchange"` // outbound deliveries
	Prefetch         int    `toml:"prefetch"`
	ConnTimeoutSecs  int    `toml:"conn_timeout_seconds"`
}

// ShortenerConfig represents configuration for the link shortener service.
type ShortenerConfig struct {
	Type string `toml:"type"` // "none" (default) or "http"

	Endpoint       string `toml:"endpoint,omitempty"` // e.g. https://short.example/api?url=
	APIKey         string `toml:"api_key,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// MirrorConfig represents configuration for the durable record mirror.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MirrorConfig struct {
	Type string `toml:"type"` // "none" (default), "s3" or "memory"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// Encrypt snapshots with the configured age key pair before upload.
	Encrypt bool `toml:"encrypt"`
}

// EncryptionConfig holds paths to the age key pair used for mirror
// snapshot encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Bot: BotConfig{
			Host:               "t.me",
			SessionWindowHours: 24,
		},
		Store: StoreConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Ledger:    LedgerConfig{Type: "memory"},
		Shortener: ShortenerConfig{Type: "none"},
		Mirror:    MirrorConfig{Type: "none"},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "mediavault.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "mediavault.key"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
