package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
	Secret     string        `mapstructure:"secret"`

	Credential CredentialConfig `mapstructure:"credential"`
	Signer     SignerConfig     `mapstructure:"signer"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Calendar   CalendarConfig   `mapstructure:"calendar"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// CredentialConfig is what a launcher needs to obtain and use a credential.
type CredentialConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Role        int           `mapstructure:"role"`
	DisplayName string        `mapstructure:"display_name"`
	Features    []string      `mapstructure:"features"`
	Container   string        `mapstructure:"container"`
}

type SignerConfig struct {
	Key          string        `mapstructure:"key"`
	Secret       string        `mapstructure:"secret"`
	Expiry       time.Duration `mapstructure:"expiry"`
	SessionKey   string        `mapstructure:"session_key"`
	UserIdentity string        `mapstructure:"user_identity"`
}

type ScheduleConfig struct {
	DBPath    string `mapstructure:"db_path"`
	BaseURL   string `mapstructure:"base_url"`
	HostEmail string `mapstructure:"host_email"`
	Summary   string `mapstructure:"summary"`
	Location  string `mapstructure:"location"`
	TimeZone  string `mapstructure:"timezone"`
}

// CalendarConfig is optional; an empty ClientID disables calendar events.
type CalendarConfig struct {
	OAuthURL     string `mapstructure:"oauth_url"`
	APIURL       string `mapstructure:"api_url"`
	GrantType    string `mapstructure:"grant_type"`
	AccountID    string `mapstructure:"account_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	CalendarID   string `mapstructure:"calendar_id"`
}

func (c CalendarConfig) Enabled() bool { return c.ClientID != "" && c.CalendarID != "" }

type RateLimitConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

var ErrInvalidConfig = errors.New("invalid config")

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName if it exists, applies LAUNCH_* env overrides and defaults.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("launch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).
		Str("credential_endpoint", cfg.Credential.Endpoint).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("ack_timeout", "30s")

	v.SetDefault("credential.endpoint", "http://localhost:8080/jwt")
	v.SetDefault("credential.timeout", "10s")
	v.SetDefault("credential.role", 1)
	v.SetDefault("credential.display_name", "Guest")
	v.SetDefault("credential.features", []string{"video", "audio", "settings", "users", "chat", "share"})
	v.SetDefault("credential.container", "sessionContainer")

	v.SetDefault("signer.expiry", "2h")
	v.SetDefault("signer.session_key", "videolaunch")
	v.SetDefault("signer.user_identity", "VideoLaunch")

	v.SetDefault("schedule.db_path", "./data/sessions.db")
	v.SetDefault("schedule.base_url", "http://localhost:8080")
	v.SetDefault("schedule.summary", "Meet with our expert")
	v.SetDefault("schedule.location", "Video session")
	v.SetDefault("schedule.timezone", "Europe/Amsterdam")

	v.SetDefault("calendar.oauth_url", "https://zoom.us/oauth")
	v.SetDefault("calendar.api_url", "https://api.zoom.us/v2")
	v.SetDefault("calendar.grant_type", "account_credentials")

	v.SetDefault("rate_limit.limit", 10)
	v.SetDefault("rate_limit.interval", "1m")
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	}
	u, err := url.Parse(c.Credential.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: credential.endpoint %q", ErrInvalidConfig, c.Credential.Endpoint)
	}
	if c.Credential.Timeout <= 0 {
		return fmt.Errorf("%w: credential.timeout must be positive", ErrInvalidConfig)
	}
	if c.Credential.Role != 0 && c.Credential.Role != 1 {
		return fmt.Errorf("%w: credential.role %d", ErrInvalidConfig, c.Credential.Role)
	}
	if c.Credential.Container == "" {
		return fmt.Errorf("%w: credential.container empty", ErrInvalidConfig)
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("%w: ack_timeout must be positive", ErrInvalidConfig)
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Interval <= 0 {
		return fmt.Errorf("%w: rate_limit", ErrInvalidConfig)
	}
	if _, err := time.LoadLocation(c.Schedule.TimeZone); err != nil {
		return fmt.Errorf("%w: schedule.timezone: %v", ErrInvalidConfig, err)
	}
	return nil
}
