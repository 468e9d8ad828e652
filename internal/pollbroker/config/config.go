// Package config loads the broker configuration from a TOML file.
package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/tansive/pollbroker/internal/common/apperrors"
)

// FormatVersion is the configuration file format written by this release.
const FormatVersion = "0.1.0"

// Environment variables that override the file.
const (
	EnvPort     = "POLLBROKER_PORT"
	EnvLogLevel = "POLLBROKER_LOG_LEVEL"
)

var (
	ErrConfig apperrors.Error = apperrors.New("invalid configuration")

	formatConstraint *semver.Constraints
	validate         = validator.New(validator.WithRequiredStructEnabled())
)

func init() {
	var err error
	formatConstraint, err = semver.NewConstraint("~0.1")
	if err != nil {
		panic(err)
	}
}

// SessionConfig holds session lifetime settings
type SessionConfig struct {
	Task                   string `toml:"task" validate:"required"`                  // Name of the registered task run per session
	ExpireSeconds          int    `toml:"expire_seconds" validate:"gt=0"`            // Idle time after which a session is evicted
	CleanupIntervalSeconds int    `toml:"cleanup_interval_seconds" validate:"gt=0"`  // Minimum time between expiration sweeps
	PostSettleMs           int    `toml:"post_settle_ms" validate:"gte=0,lte=10000"` // Pause after delivering a client event
}

func (s *SessionConfig) Expire() time.Duration {
	return time.Duration(s.ExpireSeconds) * time.Second
}

func (s *SessionConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalSeconds) * time.Second
}

func (s *SessionConfig) PostSettle() time.Duration {
	return time.Duration(s.PostSettleMs) * time.Millisecond
}

// OriginsConfig lists trusted cross-origin callers as shell-style patterns
type OriginsConfig struct {
	Allowed []string `toml:"allowed" validate:"dive,required"`
}

// ConfigParam holds all configuration parameters for the broker
type ConfigParam struct {
	FormatVersion  string `toml:"format_version" validate:"required"`
	ServerPort     string `toml:"server_port" validate:"required,numeric"`
	ListenHost     string `toml:"listen_host"`
	LogLevel       string `toml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	HandleCORS     bool   `toml:"handle_cors"`                                // Whether the /api endpoints answer cross-origin requests
	PollPath       string `toml:"poll_path" validate:"required,startswith=/"` // Route of the polling endpoint
	EventLoopQueue int    `toml:"event_loop_queue" validate:"gte=0"`

	Session SessionConfig `toml:"session"`
	Origins OriginsConfig `toml:"origins"`
}

// ListenAddress is the host:port the HTTP server binds.
func (c *ConfigParam) ListenAddress() string {
	return net.JoinHostPort(c.ListenHost, c.ServerPort)
}

var cfg *ConfigParam

// Config returns the loaded configuration, or nil before LoadConfig.
func Config() *ConfigParam {
	return cfg
}

// Default returns the configuration used for keys the file leaves out.
func Default() *ConfigParam {
	return &ConfigParam{
		FormatVersion:  FormatVersion,
		ServerPort:     "8080",
		LogLevel:       "info",
		PollPath:       "/poll",
		EventLoopQueue: 1024,
		Session: SessionConfig{
			Task:                   "echo",
			ExpireSeconds:          60,
			CleanupIntervalSeconds: 20,
			PostSettleMs:           100,
		},
	}
}

// Parse decodes content over the defaults, applies environment overrides and
// validates the result.
func Parse(content string) (*ConfigParam, error) {
	c := Default()
	if _, err := toml.Decode(content, c); err != nil {
		return nil, ErrConfig.MsgErr("error parsing config file", err)
	}
	applyEnv(c)
	if err := ValidateConfig(c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadConfig loads filename. A .env file in the same directory, if present,
// is loaded into the environment first; variables already set win.
func LoadConfig(filename string) error {
	if filename == "" {
		return ErrConfig.Msg("config filename is required")
	}
	_ = godotenv.Load(filepath.Join(filepath.Dir(filename), ".env")) // no error if .env doesn't exist

	content, err := os.ReadFile(filename)
	if err != nil {
		return ErrConfig.MsgErr("error reading config file", err)
	}
	c, err := Parse(string(content))
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

func applyEnv(c *ConfigParam) {
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		c.ServerPort = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

// ValidateConfig checks struct constraints and the file format version.
func ValidateConfig(c *ConfigParam) error {
	v, err := semver.NewVersion(c.FormatVersion)
	if err != nil || !formatConstraint.Check(v) {
		return ErrConfig.Msg("unsupported config file format version: " + c.FormatVersion)
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return ErrConfig.MsgErr("invalid value for "+fe.Namespace()+": failed '"+fe.Tag()+"'", err)
		}
		return ErrConfig.MsgErr("invalid configuration", err)
	}
	return nil
}
