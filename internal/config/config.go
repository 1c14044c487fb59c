// Package config loads pulse settings from defaults, an optional YAML file
// and the environment, in that order of precedence (lowest first).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the environment variable pointing at a YAML file.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix is stripped from environment variables before mapping them.
const EnvPrefix = "PULSE_"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/pulse/config.yaml",
}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Data     DataConfig     `koanf:"data"`
	Graph    GraphConfig    `koanf:"graph"`
	NATS     NATSConfig     `koanf:"nats"`
	Presence PresenceConfig `koanf:"presence"`
	Realtime RealtimeConfig `koanf:"realtime"`
	AI       AIConfig       `koanf:"ai"`
	Voice    VoiceConfig    `koanf:"voice"`
	Identity IdentityConfig `koanf:"identity"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Addr        string   `koanf:"addr"`
	StaticDir   string   `koanf:"static_dir"`
	CORSOrigins []string `koanf:"cors_origins"`
	Tailnet     Tailnet  `koanf:"tailnet"`
}

// Tailnet configures the optional tsnet listener.
type Tailnet struct {
	Enabled  bool   `koanf:"enabled"`
	Hostname string `koanf:"hostname"`
	StateDir string `koanf:"state_dir"`
	// Owner is the tailnet login allowed to pick up the device session.
	// Empty means the user the node itself is logged in as.
	Owner string `koanf:"owner"`
}

type DataConfig struct {
	Dir string `koanf:"dir"`
}

type GraphConfig struct {
	// Backend is "local" (badger replica) or "jetstream" (NATS KV bucket).
	Backend      string `koanf:"backend"`
	BadgerPath   string `koanf:"badger_path"`
	Bucket       string `koanf:"bucket"`
	PostsSoul    string `koanf:"posts_soul"`
	UsersSoul    string `koanf:"users_soul"`
	PresenceSoul string `koanf:"presence_soul"`
	AuthSoul     string `koanf:"auth_soul"`
}

type NATSConfig struct {
	URL       string `koanf:"url"`
	Embedded  bool   `koanf:"embedded"`
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	StoreDir  string `koanf:"store_dir"`
	JetStream bool   `koanf:"jetstream"`
}

type PresenceConfig struct {
	Window    time.Duration `koanf:"window"`
	Heartbeat time.Duration `koanf:"heartbeat"`
	Sweep     time.Duration `koanf:"sweep"`
}

type RealtimeConfig struct {
	// Channel is "nats" or "memory".
	Channel string `koanf:"channel"`
	Subject string `koanf:"subject"`
}

type AIConfig struct {
	APIKey       string        `koanf:"api_key"`
	TextModel    string        `koanf:"text_model"`
	ImageModel   string        `koanf:"image_model"`
	SoftFailures bool          `koanf:"soft_failures"`
	RatePerMin   int           `koanf:"rate_per_min"`
	Timeout      time.Duration `koanf:"timeout"`
	BreakerTrips uint32        `koanf:"breaker_trips"`
	BreakerOpen  time.Duration `koanf:"breaker_open"`
}

type VoiceConfig struct {
	LiveURL           string `koanf:"live_url"`
	Model             string `koanf:"model"`
	VoiceName         string `koanf:"voice_name"`
	SystemInstruction string `koanf:"system_instruction"`
	FrameSize         int    `koanf:"frame_size"`
	InputRate         int    `koanf:"input_rate"`
	OutputRate        int    `koanf:"output_rate"`
}

type IdentityConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
	Timeout   time.Duration `koanf:"timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	dataDir := filepath.Join(os.Getenv("HOME"), ".config", "pulse")
	return &Config{
		Server: ServerConfig{
			Addr:      ":8080",
			StaticDir: "web",
			Tailnet: Tailnet{
				Hostname: "pulse",
			},
		},
		Data: DataConfig{Dir: dataDir},
		Graph: GraphConfig{
			Backend:      "local",
			Bucket:       "pulse_graph",
			PostsSoul:    "cp_v2_global_gallery_mesh",
			UsersSoul:    "cp_v2_global_user_mesh",
			PresenceSoul: "cp_v2_presence",
			AuthSoul:     "cp_v2_auth",
		},
		NATS: NATSConfig{
			Embedded:  true,
			Host:      "127.0.0.1",
			Port:      4222,
			JetStream: true,
		},
		Presence: PresenceConfig{
			Window:    30 * time.Second,
			Heartbeat: 10 * time.Second,
			Sweep:     10 * time.Second,
		},
		Realtime: RealtimeConfig{
			Channel: "nats",
			Subject: "pulse.realtime.v8",
		},
		AI: AIConfig{
			TextModel:    "gemini-2.5-flash",
			ImageModel:   "gemini-2.5-flash-image",
			SoftFailures: true,
			RatePerMin:   30,
			Timeout:      30 * time.Second,
			BreakerTrips: 5,
			BreakerOpen:  time.Minute,
		},
		Voice: VoiceConfig{
			LiveURL:           "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
			Model:             "models/gemini-2.5-flash-native-audio-preview-09-2025",
			VoiceName:         "Zephyr",
			SystemInstruction: "You are a creative collaborator in a live studio room. Keep replies short and encouraging.",
			FrameSize:         4096,
			InputRate:         16000,
			OutputRate:        24000,
		},
		Identity: IdentityConfig{
			TokenTTL: 30 * 24 * time.Hour,
			Timeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration. A .env file in the working directory is applied
// to the process environment first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return load(findConfigFile())
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// GEMINI_API_KEY / API_KEY are honored without the prefix.
	if k.String("ai.api_key") == "" {
		for _, name := range []string{"GEMINI_API_KEY", "API_KEY"} {
			if v := os.Getenv(name); v != "" {
				if err := k.Set("ai.api_key", v); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	if err := splitCommaList(k, "server.cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envSections lists the top-level sections; the first underscore after a
// section name becomes the path separator, the rest are kept.
var envSections = []string{
	"server_tailnet", "server", "data", "graph", "nats", "presence",
	"realtime", "ai", "voice", "identity", "logging",
}

// envTransformFunc maps PULSE_GRAPH_BADGER_PATH to graph.badger_path and
// PULSE_SERVER_TAILNET_ENABLED to server.tailnet.enabled.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	for _, section := range envSections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return strings.ReplaceAll(section, "_", ".") + "." + rest
		}
	}
	return key
}

func splitCommaList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok || s == "" {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if err := k.Set(path, parts); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}
