package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultAPITimeoutSec      = 10
	defaultRefreshIntervalSec = 60
	defaultActiveWindowMin    = 120
	defaultCooldownMin        = 30
	defaultWSHandshakeSec     = 10
	defaultWSPingSec          = 30
	defaultWSReconnectMinMS   = 500
	defaultWSReconnectMaxMS   = 30000
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultNATSSubject        = "sos.alerts"
	defaultStoragePath        = "soswatch.db"
	defaultTelegramTimeoutSec = 10

	// PushTransportWebSocket selects the persistent websocket push channel.
	PushTransportWebSocket = "websocket"
	// PushTransportNATS selects the broker-mediated push channel.
	PushTransportNATS = "nats"

	// StorageModeSQLite keeps timer state in a device-local sqlite file.
	StorageModeSQLite = "sqlite"
	// StorageModeMemory keeps timer state in process memory only.
	StorageModeMemory = "memory"
)

// Config holds daemon runtime settings.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Log     LogConfig     `toml:"log"`
	API     APIConfig     `toml:"api"`
	Push    PushConfig    `toml:"push"`
	Storage StorageConfig `toml:"storage"`
	Notify  NotifyConfig  `toml:"notify"`
}

// ServiceConfig contains identity, position, and window settings.
// Params: signed-in user identity, device position, and timer windows.
// Returns: lifecycle behavior defaults.
type ServiceConfig struct {
	Name               string  `toml:"name"`
	UserID             string  `toml:"user_id"`
	DisplayName        string  `toml:"display_name"`
	Latitude           float64 `toml:"latitude"`
	Longitude          float64 `toml:"longitude"`
	RefreshIntervalSec int     `toml:"refresh_interval_sec"`
	ActiveWindowMin    int     `toml:"active_window_min"`
	CooldownMin        int     `toml:"cooldown_min"`
}

// APIConfig configures the SOS backend REST client.
// Params: base URL, optional static bearer token, and timeout.
// Returns: client transport options.
type APIConfig struct {
	BaseURL    string `toml:"base_url"`
	Token      string `toml:"token"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// PushConfig selects and configures the push channel transport.
// Params: transport key and per-transport settings.
// Returns: push runtime options.
type PushConfig struct {
	Transport string              `toml:"transport"`
	WebSocket WebSocketPushConfig `toml:"websocket"`
	NATS      NATSPushConfig      `toml:"nats"`
}

// WebSocketPushConfig configures the persistent websocket connection.
// Params: endpoint URL, handshake/ping timing, and reconnect backoff.
// Returns: websocket source behavior.
type WebSocketPushConfig struct {
	URL             string `toml:"url"`
	HandshakeSec    int    `toml:"handshake_sec"`
	PingIntervalSec int    `toml:"ping_interval_sec"`
	ReconnectMinMS  int    `toml:"reconnect_min_ms"`
	ReconnectMaxMS  int    `toml:"reconnect_max_ms"`
}

// NATSPushConfig configures the broker-mediated push subscription.
// Params: server URLs and subject prefix for alert broadcasts.
// Returns: NATS source behavior.
type NATSPushConfig struct {
	URL     []string `toml:"url"`
	Subject string   `toml:"subject"`
}

// StorageConfig selects the durable timer state backend.
// Params: mode (sqlite/memory) and sqlite path.
// Returns: storage runtime options.
type StorageConfig struct {
	Mode string `toml:"mode"`
	Path string `toml:"path"`
}

// NotifyConfig contains emergency-contact notification settings.
// Params: per-channel transports.
// Returns: notifier runtime options.
type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

// TelegramConfig configures the Telegram contact channel.
// Params: enable flag, bot token, destination chat, and API override.
// Returns: Telegram notifier behavior.
type TelegramConfig struct {
	Enabled      bool   `toml:"enabled"`
	BotToken     string `toml:"bot_token"`
	ChatID       string `toml:"chat_id"`
	APIBase      string `toml:"api_base"`
	NotifyNearby bool   `toml:"notify_nearby"`
}

// LogConfig contains log sink settings.
// Params: console and file sink sections.
// Returns: logging runtime options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig configures one log sink.
// Params: enable flag, level, format, and file path.
// Returns: sink behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// Source selects one configuration origin.
// Params: exactly one of file path or fragment directory.
// Returns: reusable snapshot source.
type Source struct {
	file string
	dir  string
}

// FromCLI builds a config source from CLI flags.
// Params: --config-file and --config-dir values.
// Returns: source or error when not exactly one is set.
func FromCLI(file, dir string) (Source, error) {
	file = strings.TrimSpace(file)
	dir = strings.TrimSpace(dir)
	if (file == "") == (dir == "") {
		return Source{}, errors.New("exactly one of --config-file or --config-dir is required")
	}
	return Source{file: file, dir: dir}, nil
}

// FromFile builds a config source for one TOML file.
// Params: file path.
// Returns: source reading that file.
func FromFile(path string) Source {
	return Source{file: path}
}

// LoadSnapshot reads, merges, defaults, and validates one config snapshot.
// Params: config source.
// Returns: validated config or load error.
func LoadSnapshot(source Source) (Config, error) {
	var cfg Config
	if source.file != "" {
		if err := decodeInto(&cfg, source.file); err != nil {
			return Config{}, err
		}
	} else {
		entries, err := os.ReadDir(source.dir)
		if err != nil {
			return Config{}, fmt.Errorf("read config dir %q: %w", source.dir, err)
		}
		paths := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
				continue
			}
			paths = append(paths, filepath.Join(source.dir, entry.Name()))
		}
		if len(paths) == 0 {
			return Config{}, fmt.Errorf("config dir %q contains no .toml files", source.dir)
		}
		sort.Strings(paths)
		for _, path := range paths {
			if err := decodeInto(&cfg, path); err != nil {
				return Config{}, err
			}
		}
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeInto decodes one TOML file into the accumulated config.
// Params: destination config and file path.
// Returns: read or decode error.
func decodeInto(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("decode config %q: %w", path, err)
	}
	return nil
}

// applyDefaults fills absent settings with contract defaults.
// Params: mutable decoded config.
// Returns: config updated in place.
func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "soswatch"
	}
	if cfg.Service.RefreshIntervalSec <= 0 {
		cfg.Service.RefreshIntervalSec = defaultRefreshIntervalSec
	}
	if cfg.Service.ActiveWindowMin <= 0 {
		cfg.Service.ActiveWindowMin = defaultActiveWindowMin
	}
	if cfg.Service.CooldownMin <= 0 {
		cfg.Service.CooldownMin = defaultCooldownMin
	}
	if cfg.API.TimeoutSec <= 0 {
		cfg.API.TimeoutSec = defaultAPITimeoutSec
	}
	if cfg.Push.Transport == "" {
		cfg.Push.Transport = PushTransportWebSocket
	}
	cfg.Push.Transport = strings.ToLower(strings.TrimSpace(cfg.Push.Transport))
	if cfg.Push.WebSocket.HandshakeSec <= 0 {
		cfg.Push.WebSocket.HandshakeSec = defaultWSHandshakeSec
	}
	if cfg.Push.WebSocket.PingIntervalSec <= 0 {
		cfg.Push.WebSocket.PingIntervalSec = defaultWSPingSec
	}
	if cfg.Push.WebSocket.ReconnectMinMS <= 0 {
		cfg.Push.WebSocket.ReconnectMinMS = defaultWSReconnectMinMS
	}
	if cfg.Push.WebSocket.ReconnectMaxMS <= 0 {
		cfg.Push.WebSocket.ReconnectMaxMS = defaultWSReconnectMaxMS
	}
	if len(cfg.Push.NATS.URL) == 0 {
		cfg.Push.NATS.URL = []string{defaultNATSURL}
	}
	if cfg.Push.NATS.Subject == "" {
		cfg.Push.NATS.Subject = defaultNATSSubject
	}
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = StorageModeSQLite
	}
	cfg.Storage.Mode = strings.ToLower(strings.TrimSpace(cfg.Storage.Mode))
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultStoragePath
	}
	cfg.Notify.Telegram.APIBase = strings.TrimRight(strings.TrimSpace(cfg.Notify.Telegram.APIBase), "/")
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	applySinkDefaults(&cfg.Log.Console)
	applySinkDefaults(&cfg.Log.File)
}

// applySinkDefaults fills one sink's absent level/format.
// Params: mutable sink config.
// Returns: sink updated in place.
func applySinkDefaults(sink *LogSinkConfig) {
	if sink.Level == "" {
		sink.Level = "info"
	}
	if sink.Format == "" {
		sink.Format = "line"
	}
}

// validate checks required settings and enum values.
// Params: defaulted config snapshot.
// Returns: first validation error.
func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Service.UserID) == "" {
		return errors.New("service.user_id is required")
	}
	if cfg.Service.Latitude < -90 || cfg.Service.Latitude > 90 {
		return fmt.Errorf("service.latitude %v is out of range", cfg.Service.Latitude)
	}
	if cfg.Service.Longitude < -180 || cfg.Service.Longitude > 180 {
		return fmt.Errorf("service.longitude %v is out of range", cfg.Service.Longitude)
	}
	if strings.TrimSpace(cfg.API.BaseURL) == "" {
		return errors.New("api.base_url is required")
	}
	switch cfg.Push.Transport {
	case PushTransportWebSocket:
		if strings.TrimSpace(cfg.Push.WebSocket.URL) == "" {
			return errors.New("push.websocket.url is required for websocket transport")
		}
	case PushTransportNATS:
	default:
		return fmt.Errorf("unsupported push.transport %q", cfg.Push.Transport)
	}
	switch cfg.Storage.Mode {
	case StorageModeSQLite, StorageModeMemory:
	default:
		return fmt.Errorf("unsupported storage.mode %q", cfg.Storage.Mode)
	}
	if cfg.Notify.Telegram.Enabled {
		if strings.TrimSpace(cfg.Notify.Telegram.BotToken) == "" {
			return errors.New("notify.telegram.bot_token is required when enabled")
		}
		if strings.TrimSpace(cfg.Notify.Telegram.ChatID) == "" {
			return errors.New("notify.telegram.chat_id is required when enabled")
		}
	}
	return nil
}
