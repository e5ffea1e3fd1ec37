package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration. Values come from defaults, then the
// optional YAML file, then the environment.
type Config struct {
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Deepgram    DeepgramConfig    `yaml:"deepgram"`
	Audio       AudioConfig       `yaml:"audio"`
	Rules       RulesConfig       `yaml:"rules"`
	Session     SessionConfig     `yaml:"session"`
	Wake        WakeConfig        `yaml:"wake"`
	Browser     BrowserConfig     `yaml:"browser"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Log         LogConfig         `yaml:"log"`

	// File is the config file that was read, if any.
	File string `yaml:"-"`
}

type InterpreterConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type DeepgramConfig struct {
	APIKey      string        `yaml:"api_key"`
	APIBaseURL  string        `yaml:"api_base"`
	Model       string        `yaml:"model"`
	Language    string        `yaml:"language"`
	SmartFormat bool          `yaml:"smart_format"`
	Endpointing int           `yaml:"endpointing_ms"`
	KeepAlive   time.Duration `yaml:"keepalive"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	// Permission forces the microphone permission answer: granted or denied.
	Permission string `yaml:"permission"`
}

type RulesConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iteration_limit"`
	Watch          bool   `yaml:"watch"`
}

type SessionConfig struct {
	Continuous     bool          `yaml:"continuous"`
	InterimResults bool          `yaml:"interim_results"`
	Language       string        `yaml:"language"`
	RestartDelay   time.Duration `yaml:"restart_delay"`
	TurnTimeout    time.Duration `yaml:"turn_timeout"`
	ChunkSize      int           `yaml:"chunk_size"`
}

type WakeConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Keyword        string        `yaml:"keyword"`
	Cooldown       time.Duration `yaml:"cooldown"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

type BrowserConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DebuggerURL  string `yaml:"debugger_url"`
	Bin          string `yaml:"bin"`
	Headless     bool   `yaml:"headless"`
	StartURL     string `yaml:"start_url"`
	OpenInNewTab bool   `yaml:"open_in_new_tab"`
	SearchURL    string `yaml:"search_url"`
}

type BridgeConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// Relay sends page effects to bridged page contexts instead of driving
	// the browser directly.
	Relay  bool   `yaml:"relay"`
	Target string `yaml:"target"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults(home string) Config {
	return Config{
		Interpreter: InterpreterConfig{
			BaseURL: "https://chromate.sunrin.kr",
			Timeout: 15 * time.Second,
		},
		Deepgram: DeepgramConfig{
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			Language:    "ko",
			SmartFormat: true,
			Endpointing: 300,
			KeepAlive:   8 * time.Second,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
		},
		Rules: RulesConfig{
			Path:           filepath.Join(home, ".config", "chromate", "substitutions.rules"),
			IterationLimit: 30,
			Watch:          true,
		},
		Session: SessionConfig{
			Continuous:     true,
			InterimResults: true,
			Language:       "ko-KR",
			RestartDelay:   time.Second,
			TurnTimeout:    20 * time.Second,
			ChunkSize:      4096,
		},
		Wake: WakeConfig{
			Keyword:        "시리야",
			Cooldown:       2 * time.Second,
			CommandTimeout: 10 * time.Second,
		},
		Browser: BrowserConfig{
			Enabled:   true,
			SearchURL: "https://www.google.com/search?q=",
		},
		Bridge: BridgeConfig{
			ListenAddr: "127.0.0.1:34117",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads .env files, the config file and the environment from the real
// filesystem.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("CHROMATE_ENV_FILE"))
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("failed to load env file %q: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFrom(afero.NewOsFs())
}

// LoadFrom resolves configuration using fs for the config file.
func LoadFrom(fs afero.Fs) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := Defaults(home)

	path := envOrDefault("CHROMATE_CONFIG", filepath.Join(home, ".config", "chromate", "config.yaml"))
	if err := readFile(fs, path, &cfg); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	clamp(&cfg)
	return cfg, nil
}

func readFile(fs afero.Fs, path string, cfg *Config) error {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	cfg.File = path
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Interpreter.BaseURL = envOrDefault("CHROMATE_API_BASE", cfg.Interpreter.BaseURL)
	cfg.Interpreter.Timeout = envOrDefaultMillis("CHROMATE_API_TIMEOUT_MS", cfg.Interpreter.Timeout)

	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Deepgram.Language)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)
	cfg.Deepgram.Endpointing = envOrDefaultInt("DEEPGRAM_ENDPOINTING_MS", cfg.Deepgram.Endpointing)

	cfg.Audio.RecorderCommand = envOrDefault("CHROMATE_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("CHROMATE_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("CHROMATE_AUDIO_INPUT_DEVICE"),
		os.Getenv("DEEPGRAM_PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.SampleRate = envOrDefaultInt("CHROMATE_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("CHROMATE_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.Permission = envOrDefault("CHROMATE_MIC_PERMISSION", cfg.Audio.Permission)

	cfg.Rules.Path = envOrDefault("CHROMATE_RULES_FILE", cfg.Rules.Path)
	cfg.Rules.IterationLimit = envOrDefaultInt("CHROMATE_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)
	cfg.Rules.Watch = envOrDefaultBool("CHROMATE_RULES_WATCH", cfg.Rules.Watch)

	cfg.Session.Continuous = envOrDefaultBool("CHROMATE_CONTINUOUS", cfg.Session.Continuous)
	cfg.Session.InterimResults = envOrDefaultBool("CHROMATE_INTERIM_RESULTS", cfg.Session.InterimResults)
	cfg.Session.Language = envOrDefault("CHROMATE_LANGUAGE", cfg.Session.Language)
	cfg.Session.RestartDelay = envOrDefaultMillis("CHROMATE_RESTART_DELAY_MS", cfg.Session.RestartDelay)
	cfg.Session.TurnTimeout = envOrDefaultMillis("CHROMATE_TURN_TIMEOUT_MS", cfg.Session.TurnTimeout)
	cfg.Session.ChunkSize = envOrDefaultInt("CHROMATE_AUDIO_CHUNK_SIZE", cfg.Session.ChunkSize)

	cfg.Wake.Enabled = envOrDefaultBool("CHROMATE_WAKE_WORD", cfg.Wake.Enabled)
	cfg.Wake.Keyword = envOrDefault("CHROMATE_WAKE_KEYWORD", cfg.Wake.Keyword)
	cfg.Wake.Cooldown = envOrDefaultMillis("CHROMATE_WAKE_COOLDOWN_MS", cfg.Wake.Cooldown)
	cfg.Wake.CommandTimeout = envOrDefaultMillis("CHROMATE_WAKE_COMMAND_TIMEOUT_MS", cfg.Wake.CommandTimeout)

	cfg.Browser.Enabled = envOrDefaultBool("CHROMATE_BROWSER", cfg.Browser.Enabled)
	cfg.Browser.DebuggerURL = envOrDefault("CHROMATE_DEBUGGER_URL", cfg.Browser.DebuggerURL)
	cfg.Browser.Bin = envOrDefault("CHROMATE_BROWSER_BIN", cfg.Browser.Bin)
	cfg.Browser.Headless = envOrDefaultBool("CHROMATE_HEADLESS", cfg.Browser.Headless)
	cfg.Browser.StartURL = envOrDefault("CHROMATE_START_URL", cfg.Browser.StartURL)
	cfg.Browser.OpenInNewTab = envOrDefaultBool("CHROMATE_OPEN_IN_NEW_TAB", cfg.Browser.OpenInNewTab)
	cfg.Browser.SearchURL = envOrDefault("CHROMATE_SEARCH_URL", cfg.Browser.SearchURL)

	cfg.Bridge.ListenAddr = envOrDefault("CHROMATE_BRIDGE_ADDR", cfg.Bridge.ListenAddr)
	cfg.Bridge.Relay = envOrDefaultBool("CHROMATE_BRIDGE_RELAY", cfg.Bridge.Relay)
	cfg.Bridge.Target = envOrDefault("CHROMATE_BRIDGE_TARGET", cfg.Bridge.Target)

	cfg.Log.Level = envOrDefault("CHROMATE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Development = envOrDefaultBool("CHROMATE_LOG_DEVELOPMENT", cfg.Log.Development)
}

func clamp(cfg *Config) {
	defaults := Defaults("")
	if cfg.Interpreter.Timeout <= 0 {
		cfg.Interpreter.Timeout = defaults.Interpreter.Timeout
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = defaults.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = defaults.Audio.Channels
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = defaults.Rules.IterationLimit
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = defaults.Session.ChunkSize
	}
	if cfg.Session.RestartDelay <= 0 {
		cfg.Session.RestartDelay = defaults.Session.RestartDelay
	}
	if cfg.Session.TurnTimeout <= 0 {
		cfg.Session.TurnTimeout = defaults.Session.TurnTimeout
	}
	if strings.TrimSpace(cfg.Wake.Keyword) == "" {
		cfg.Wake.Keyword = defaults.Wake.Keyword
	}
	if cfg.Wake.Cooldown <= 0 {
		cfg.Wake.Cooldown = defaults.Wake.Cooldown
	}
	if cfg.Wake.CommandTimeout <= 0 {
		cfg.Wake.CommandTimeout = defaults.Wake.CommandTimeout
	}
	if cfg.Browser.SearchURL == "" {
		cfg.Browser.SearchURL = defaults.Browser.SearchURL
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
