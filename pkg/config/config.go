package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide configuration. JSON file first, then
// PALMCHAT_* environment overrides on top.
type Config struct {
	API       APIConfig      `json:"api"`
	Memory    MemoryConfig   `json:"memory"`
	Auto      AutoConfig     `json:"auto"`
	Intents   IntentsConfig  `json:"intents"`
	Autosave  AutosaveConfig `json:"autosave"`
	Discord   DiscordConfig  `json:"discord"`
	Log       LogConfig      `json:"log"`
	StatePath string         `json:"state_path" env:"PALMCHAT_STATE_PATH"`
}

// APIConfig holds the global completion endpoint settings. Characters
// may override base URL, model and temperature individually.
type APIConfig struct {
	BaseURL     string  `json:"base_url" env:"PALMCHAT_API_BASE_URL"`
	APIKey      string  `json:"api_key" env:"PALMCHAT_API_KEY"`
	Model       string  `json:"model" env:"PALMCHAT_API_MODEL"`
	Temperature float64 `json:"temperature" env:"PALMCHAT_API_TEMPERATURE"`
	Proxy       string  `json:"proxy,omitempty" env:"PALMCHAT_API_PROXY"`
}

type MemoryConfig struct {
	Enabled bool `json:"enabled" env:"PALMCHAT_MEMORY_ENABLED"`
	Every   int  `json:"every" env:"PALMCHAT_MEMORY_EVERY"`
	Window  int  `json:"window" env:"PALMCHAT_MEMORY_WINDOW"`
}

type AutoConfig struct {
	Moments bool `json:"moments" env:"PALMCHAT_AUTO_MOMENTS"`
	Diary   bool `json:"diary" env:"PALMCHAT_AUTO_DIARY"`
}

// IntentsConfig carries the locale-specific keyword lists used by the
// intent classifier. The defaults are the simplified-Chinese set the
// app ships with; deployments can swap in their own.
type IntentsConfig struct {
	EndWords    []string `json:"end_words"`
	DiaryWords  []string `json:"diary_words"`
	MomentWords []string `json:"moment_words"`
}

type AutosaveConfig struct {
	Enabled  bool   `json:"enabled" env:"PALMCHAT_AUTOSAVE_ENABLED"`
	Schedule string `json:"schedule" env:"PALMCHAT_AUTOSAVE_SCHEDULE"`
}

type DiscordConfig struct {
	Token string `json:"token" env:"PALMCHAT_DISCORD_TOKEN"`
	// Bindings maps a Discord channel ID to the character that chat
	// talks to. Unbound channels are ignored by the gateway.
	Bindings map[string]string `json:"bindings"`
}

type LogConfig struct {
	Level string `json:"level" env:"PALMCHAT_LOG_LEVEL"`
}

const (
	DefaultBaseURL      = "https://api.openai.com/v1"
	DefaultModel        = "gpt-4.1-mini"
	DefaultTemperature  = 0.7
	DefaultMemoryEvery  = 20
	DefaultMemoryWindow = 40
)

func defaultEndWords() []string {
	return []string{
		"结束", "收工", "下班", "睡觉", "晚安",
		"今天先这样", "今天就到这", "今天就到这里", "今天先到这",
		"先这样", "就到这里吧",
	}
}

func defaultDiaryWords() []string {
	return []string{"写日记", "记日记", "来一篇日记", "生成日记"}
}

func defaultMomentWords() []string {
	return []string{"发朋友圈", "写朋友圈", "来一条朋友圈", "生成朋友圈"}
}

// DefaultConfig returns a fully-populated configuration.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     DefaultBaseURL,
			Model:       DefaultModel,
			Temperature: DefaultTemperature,
		},
		Memory: MemoryConfig{
			Enabled: true,
			Every:   DefaultMemoryEvery,
			Window:  DefaultMemoryWindow,
		},
		Auto: AutoConfig{Moments: true, Diary: true},
		Intents: IntentsConfig{
			EndWords:    defaultEndWords(),
			DiaryWords:  defaultDiaryWords(),
			MomentWords: defaultMomentWords(),
		},
		Autosave:  AutosaveConfig{Enabled: false, Schedule: "*/5 * * * *"},
		Log:       LogConfig{Level: "info"},
		StatePath: filepath.Join(DefaultConfigDir(), "state.json"),
	}
}

// DefaultConfigDir is ~/.palmchat.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".palmchat"
	}
	return filepath.Join(home, ".palmchat")
}

// DefaultConfigPath is ~/.palmchat/config.json.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path (a missing file is fine), applies
// environment overrides, and normalizes defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// first run
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if strings.TrimSpace(c.API.Model) == "" {
		c.API.Model = DefaultModel
	}
	if c.API.Temperature <= 0 {
		c.API.Temperature = DefaultTemperature
	}
	if c.Memory.Every <= 0 {
		c.Memory.Every = DefaultMemoryEvery
	}
	if c.Memory.Window <= 0 {
		c.Memory.Window = DefaultMemoryWindow
	}
	if len(c.Intents.EndWords) == 0 {
		c.Intents.EndWords = defaultEndWords()
	}
	if len(c.Intents.DiaryWords) == 0 {
		c.Intents.DiaryWords = defaultDiaryWords()
	}
	if len(c.Intents.MomentWords) == 0 {
		c.Intents.MomentWords = defaultMomentWords()
	}
	if strings.TrimSpace(c.StatePath) == "" {
		c.StatePath = filepath.Join(DefaultConfigDir(), "state.json")
	}
}

// Save writes the config as indented JSON, creating the directory as
// needed. Last write wins.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
