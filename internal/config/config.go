package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the top-level service configuration
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Chat          ChatConfig          `toml:"chat"`
	Audio         AudioConfig         `toml:"audio"`
	Logging       LoggingConfig       `toml:"logging"`
}

// ServerConfig holds the HTTP/WebSocket server settings
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	StaticFilesDir     string   `toml:"static_files_dir"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// TranscriptionConfig holds the upstream streaming transcription settings
type TranscriptionConfig struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	SampleRate         int    `toml:"sample_rate"`
	FormatTurns        bool   `toml:"format_turns"`
	ConnectTimeoutSecs int    `toml:"connect_timeout_secs"`
}

// ChatConfig holds the text-completion streaming settings
type ChatConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// AudioConfig holds the audio framing parameters used by the Go client
type AudioConfig struct {
	FrameSamples int `toml:"frame_samples"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a configuration with sensible defaults applied
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			StaticFilesDir: "static",
		},
		Transcription: TranscriptionConfig{
			BaseURL:            "wss://streaming.assemblyai.com/v3/ws",
			SampleRate:         16000,
			FormatTurns:        true,
			ConnectTimeoutSecs: 10,
		},
		Chat: ChatConfig{
			Model: "gpt-4o-mini",
		},
		Audio: AudioConfig{
			FrameSamples: 800, // 50ms at 16kHz
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the TOML config file at path, applies defaults for unset fields,
// and overlays secrets from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Secrets come from the environment when present, so keys never need to
	// live in the config file.
	if key := os.Getenv("ASSEMBLYAI_API_KEY"); key != "" {
		cfg.Transcription.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Chat.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Transcription.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.Transcription.SampleRate)
	}
	if c.Transcription.ConnectTimeoutSecs <= 0 {
		return fmt.Errorf("invalid connect timeout: %d", c.Transcription.ConnectTimeoutSecs)
	}
	if c.Audio.FrameSamples <= 0 {
		return fmt.Errorf("invalid frame samples: %d", c.Audio.FrameSamples)
	}
	return nil
}
