package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration: defaults, then the TOML file,
// then VOICENOTE_* environment variables.
type Config struct {
	// Server
	Port int

	// Chat delivery. An empty ChatURL stores messages in OutboxDir instead.
	ChatURL   string
	ChatToken string
	OutboxDir string

	// Voice
	TempDir       string
	EncodeTimeout time.Duration
	Bitrate       int    // opus bits per second
	Container     string // ogg or m4a
	InputFormat   string // ffmpeg -f for the microphone
	Input         string // ffmpeg -i for the microphone

	// Images
	MaxDimension int
	JPEGQuality  int
	CameraMount  int // degrees

	LogLevel string
}

type fileConfig struct {
	Port          int     `toml:"port"`
	ChatURL       string  `toml:"chat_url"`
	ChatToken     string  `toml:"chat_token"`
	OutboxDir     string  `toml:"outbox_dir"`
	TempDir       string  `toml:"temp_dir"`
	EncodeTimeout float64 `toml:"encode_timeout"` // seconds
	Bitrate       int     `toml:"bitrate"`
	Container     string  `toml:"container"`
	InputFormat   string  `toml:"input_format"`
	Input         string  `toml:"input"`
	MaxDimension  int     `toml:"max_dimension"`
	JPEGQuality   int     `toml:"jpeg_quality"`
	CameraMount   *int    `toml:"camera_mount"`
	LogLevel      string  `toml:"log_level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	format, input := defaultInput()
	return Config{
		Port:          8090,
		OutboxDir:     filepath.Join(dataDir(), "outbox"),
		TempDir:       filepath.Join(os.TempDir(), "voicenote"),
		EncodeTimeout: 60 * time.Second,
		Bitrate:       24000,
		Container:     "ogg",
		InputFormat:   format,
		Input:         input,
		MaxDimension:  800,
		JPEGQuality:   75,
		LogLevel:      "info",
	}
}

// Load reads the config file at its default location, if any.
func Load() (Config, error) {
	return LoadFrom(FilePath())
}

// LoadFrom reads configuration from path. An empty path skips the file.
func LoadFrom(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		fc.apply(&cfg)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (fc fileConfig) apply(cfg *Config) {
	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if fc.ChatURL != "" {
		cfg.ChatURL = fc.ChatURL
	}
	if fc.ChatToken != "" {
		cfg.ChatToken = fc.ChatToken
	}
	if fc.OutboxDir != "" {
		cfg.OutboxDir = expandTilde(fc.OutboxDir)
	}
	if fc.TempDir != "" {
		cfg.TempDir = expandTilde(fc.TempDir)
	}
	if fc.EncodeTimeout > 0 {
		cfg.EncodeTimeout = seconds(fc.EncodeTimeout)
	}
	if fc.Bitrate != 0 {
		cfg.Bitrate = fc.Bitrate
	}
	if fc.Container != "" {
		cfg.Container = strings.ToLower(fc.Container)
	}
	if fc.InputFormat != "" {
		cfg.InputFormat = fc.InputFormat
	}
	if fc.Input != "" {
		cfg.Input = fc.Input
	}
	if fc.MaxDimension != 0 {
		cfg.MaxDimension = fc.MaxDimension
	}
	if fc.JPEGQuality != 0 {
		cfg.JPEGQuality = fc.JPEGQuality
	}
	if fc.CameraMount != nil {
		cfg.CameraMount = *fc.CameraMount
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Port = envInt("VOICENOTE_PORT", cfg.Port)
	cfg.ChatURL = envStr("VOICENOTE_CHAT_URL", cfg.ChatURL)
	cfg.ChatToken = envStr("VOICENOTE_CHAT_TOKEN", cfg.ChatToken)
	cfg.OutboxDir = expandTilde(envStr("VOICENOTE_OUTBOX_DIR", cfg.OutboxDir))
	cfg.TempDir = expandTilde(envStr("VOICENOTE_TEMP_DIR", cfg.TempDir))
	cfg.EncodeTimeout = seconds(envFloat("VOICENOTE_ENCODE_TIMEOUT", cfg.EncodeTimeout.Seconds()))
	cfg.Bitrate = envInt("VOICENOTE_BITRATE", cfg.Bitrate)
	cfg.Container = strings.ToLower(envStr("VOICENOTE_CONTAINER", cfg.Container))
	cfg.InputFormat = envStr("VOICENOTE_INPUT_FORMAT", cfg.InputFormat)
	cfg.Input = envStr("VOICENOTE_INPUT", cfg.Input)
	cfg.MaxDimension = envInt("VOICENOTE_MAX_DIMENSION", cfg.MaxDimension)
	cfg.JPEGQuality = envInt("VOICENOTE_JPEG_QUALITY", cfg.JPEGQuality)
	cfg.CameraMount = envInt("VOICENOTE_CAMERA_MOUNT", cfg.CameraMount)
	cfg.LogLevel = envStr("VOICENOTE_LOG_LEVEL", cfg.LogLevel)
}

// Validate rejects values the services cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Container != "ogg" && c.Container != "m4a" {
		return fmt.Errorf("invalid container %q (want ogg or m4a)", c.Container)
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("invalid bitrate %d", c.Bitrate)
	}
	if c.EncodeTimeout <= 0 {
		return fmt.Errorf("invalid encode timeout %v", c.EncodeTimeout)
	}
	if c.MaxDimension <= 0 {
		return fmt.Errorf("invalid max dimension %d", c.MaxDimension)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality %d", c.JPEGQuality)
	}
	if c.CameraMount%90 != 0 {
		return fmt.Errorf("camera mount %d is not a multiple of 90", c.CameraMount)
	}
	return nil
}

// FilePath returns $XDG_CONFIG_HOME/voicenote/config.toml (or the
// ~/.config equivalent) when that file exists, else "".
func FilePath() string {
	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "voicenote")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "voicenote")
	} else {
		return ""
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "voicenote")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "voicenote")
	}
	return filepath.Join(".", "voicenote")
}

func defaultInput() (format, input string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":default"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
