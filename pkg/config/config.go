// Package config loads Herald's runtime configuration from a YAML file
// merged with environment variables. Environment values always win, so a
// deployment can override any file setting without editing it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults preserved from the system this replaces. The cooldown and the
// selector failure threshold are not known to be well tuned, so both are
// operator-overridable rather than baked into behavior.
const (
	DefaultRateLimitCooldown        = 15 * time.Minute
	DefaultSelectorFailureThreshold = 3
	DefaultSelectorValidateTimeout  = 5 * time.Second
	DefaultMentionFetchLimit        = 10
	DefaultScrollSteps              = 3
)

// AccountConfig holds the credentials and surface URLs for the target platform.
type AccountConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Email    string `yaml:"email"`

	// BaseURL is the root of the automation surface, e.g. "https://x.com".
	BaseURL string `yaml:"base_url"`
}

// BrowserConfig controls the automated browser session.
type BrowserConfig struct {
	Headless       bool   `yaml:"headless"`
	DisableSandbox bool   `yaml:"disable_sandbox"`
	ProxyHost      string `yaml:"proxy_host"`
	ProxyPort      int    `yaml:"proxy_port"`
	ProxyUsername  string `yaml:"proxy_username"`
	ProxyPassword  string `yaml:"proxy_password"`
}

// GenerationConfig configures the text and image generation collaborators.
type GenerationConfig struct {
	OpenAIAPIKey  string  `yaml:"openai_api_key"`
	OpenAIModel   string  `yaml:"openai_model"`
	OpenAIBaseURL string  `yaml:"openai_base_url"`
	Temperature   float64 `yaml:"temperature"`

	BrandVoice  string `yaml:"brand_voice"`
	EnableImage bool   `yaml:"enable_image_generation"`

	// ImageAPIBaseURL is the free text-to-image endpoint used when image
	// generation is enabled.
	ImageAPIBaseURL string `yaml:"image_api_base_url"`
}

// AgentConfig tunes the workflow orchestrator.
type AgentConfig struct {
	RequireHumanReview bool     `yaml:"require_human_review"`
	ContentTopics      []string `yaml:"content_topics"`

	MentionFetchLimit int `yaml:"mention_fetch_limit"`

	// MinActionDelay/MaxActionDelay bound the randomized sleep between
	// outbound posts. This is the proactive pacing contract, independent of
	// the driver's reactive cooldown.
	MinActionDelay time.Duration `yaml:"min_action_delay"`
	MaxActionDelay time.Duration `yaml:"max_action_delay"`
}

// AutomationConfig tunes the session driver and selector registry.
type AutomationConfig struct {
	RateLimitCooldown        time.Duration `yaml:"rate_limit_cooldown"`
	SelectorFailureThreshold int           `yaml:"selector_failure_threshold"`
	SelectorValidateTimeout  time.Duration `yaml:"selector_validate_timeout"`
	ScrollSteps              int           `yaml:"scroll_steps"`
}

// ScheduleConfig holds the cron expressions for the two scheduled entry points.
type ScheduleConfig struct {
	MentionCheck    string `yaml:"mention_check"`
	ContentCreation string `yaml:"content_creation"`
}

// AlertConfig configures the Telegram alert channel. Both fields empty
// disables alerting.
type AlertConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

// Config is the complete Herald configuration.
type Config struct {
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`
	BindAddr     string `yaml:"bind_addr"`
	LogLevel     string `yaml:"log_level"`

	Account    AccountConfig    `yaml:"account"`
	Browser    BrowserConfig    `yaml:"browser"`
	Generation GenerationConfig `yaml:"generation"`
	Agent      AgentConfig      `yaml:"agent"`
	Automation AutomationConfig `yaml:"automation"`
	Schedules  ScheduleConfig   `yaml:"schedules"`
	Alerts     AlertConfig      `yaml:"alerts"`
}

// SessionFile returns the path of the persisted browser session state.
func (c *Config) SessionFile() string {
	return filepath.Join(c.DataDir, "session.json")
}

// ScreenshotDir returns the directory for diagnostic screenshots.
func (c *Config) ScreenshotDir() string {
	return filepath.Join(c.DataDir, "screenshots")
}

// ImageDir returns the directory for generated images.
func (c *Config) ImageDir() string {
	return filepath.Join(c.DataDir, "generated_images")
}

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		DataDir:      "data",
		DatabasePath: filepath.Join("data", "herald.db"),
		BindAddr:     "127.0.0.1:8080",
		LogLevel:     "info",
		Account: AccountConfig{
			BaseURL: "https://x.com",
		},
		Browser: BrowserConfig{
			Headless: true,
		},
		Generation: GenerationConfig{
			OpenAIModel:     "gpt-4o-mini",
			OpenAIBaseURL:   "https://api.openai.com/v1",
			Temperature:     0.7,
			BrandVoice:      "professional",
			ImageAPIBaseURL: "https://image.pollinations.ai/prompt",
		},
		Agent: AgentConfig{
			RequireHumanReview: true,
			MentionFetchLimit:  DefaultMentionFetchLimit,
			MinActionDelay:     30 * time.Second,
			MaxActionDelay:     120 * time.Second,
		},
		Automation: AutomationConfig{
			RateLimitCooldown:        DefaultRateLimitCooldown,
			SelectorFailureThreshold: DefaultSelectorFailureThreshold,
			SelectorValidateTimeout:  DefaultSelectorValidateTimeout,
			ScrollSteps:              DefaultScrollSteps,
		},
		Schedules: ScheduleConfig{
			MentionCheck:    "*/15 * * * *",
			ContentCreation: "0 */4 * * *",
		},
	}
}

// Load reads the YAML file at path (missing file is not an error), loads a
// .env file if one exists, and applies environment overrides. The returned
// Config is fully validated.
func Load(path string) (*Config, error) {
	// .env is a developer convenience; absence is normal.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env-only configuration
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.DataDir, "HERALD_DATA_DIR")
	setString(&c.DatabasePath, "HERALD_DATABASE_PATH")
	setString(&c.BindAddr, "HERALD_BIND_ADDR")
	setString(&c.LogLevel, "HERALD_LOG_LEVEL")

	setString(&c.Account.Username, "HERALD_USERNAME")
	setString(&c.Account.Password, "HERALD_PASSWORD")
	setString(&c.Account.Email, "HERALD_EMAIL")
	setString(&c.Account.BaseURL, "HERALD_BASE_URL")

	setBool(&c.Browser.Headless, "HERALD_HEADLESS")
	setBool(&c.Browser.DisableSandbox, "HERALD_DISABLE_SANDBOX")
	setString(&c.Browser.ProxyHost, "HERALD_PROXY_HOST")
	setInt(&c.Browser.ProxyPort, "HERALD_PROXY_PORT")
	setString(&c.Browser.ProxyUsername, "HERALD_PROXY_USERNAME")
	setString(&c.Browser.ProxyPassword, "HERALD_PROXY_PASSWORD")

	setString(&c.Generation.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.Generation.OpenAIModel, "OPENAI_MODEL")
	setString(&c.Generation.OpenAIBaseURL, "OPENAI_BASE_URL")
	setFloat64(&c.Generation.Temperature, "HERALD_TEMPERATURE")
	setString(&c.Generation.BrandVoice, "HERALD_BRAND_VOICE")
	setBool(&c.Generation.EnableImage, "HERALD_ENABLE_IMAGE_GENERATION")

	setBool(&c.Agent.RequireHumanReview, "HERALD_REQUIRE_HUMAN_REVIEW")
	setInt(&c.Agent.MentionFetchLimit, "HERALD_MENTION_FETCH_LIMIT")
	setDuration(&c.Agent.MinActionDelay, "HERALD_MIN_ACTION_DELAY")
	setDuration(&c.Agent.MaxActionDelay, "HERALD_MAX_ACTION_DELAY")
	if topics := os.Getenv("HERALD_CONTENT_TOPICS"); topics != "" {
		c.Agent.ContentTopics = splitTopics(topics)
	}

	setDuration(&c.Automation.RateLimitCooldown, "HERALD_RATE_LIMIT_COOLDOWN")
	setInt(&c.Automation.SelectorFailureThreshold, "HERALD_SELECTOR_FAILURE_THRESHOLD")
	setDuration(&c.Automation.SelectorValidateTimeout, "HERALD_SELECTOR_VALIDATE_TIMEOUT")
	setInt(&c.Automation.ScrollSteps, "HERALD_SCROLL_STEPS")

	setString(&c.Alerts.TelegramToken, "HERALD_TELEGRAM_TOKEN")
	setInt64(&c.Alerts.TelegramChatID, "HERALD_TELEGRAM_CHAT_ID")
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	if c.Account.Username == "" {
		return fmt.Errorf("config: account username is required")
	}
	if c.Agent.MentionFetchLimit <= 0 {
		return fmt.Errorf("config: mention_fetch_limit must be positive, got %d", c.Agent.MentionFetchLimit)
	}
	if c.Agent.MinActionDelay < 0 || c.Agent.MaxActionDelay < c.Agent.MinActionDelay {
		return fmt.Errorf("config: action delay bounds invalid: min=%s max=%s", c.Agent.MinActionDelay, c.Agent.MaxActionDelay)
	}
	if c.Automation.SelectorFailureThreshold <= 0 {
		return fmt.Errorf("config: selector_failure_threshold must be positive, got %d", c.Automation.SelectorFailureThreshold)
	}
	if c.Automation.RateLimitCooldown <= 0 {
		return fmt.Errorf("config: rate_limit_cooldown must be positive, got %s", c.Automation.RateLimitCooldown)
	}
	return nil
}

// ProxyURL assembles the proxy server URL, or "" when no proxy is configured.
func (c *BrowserConfig) ProxyURL() string {
	if c.ProxyHost == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", c.ProxyHost, c.ProxyPort)
}

func splitTopics(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
