package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/samber/lo"
)

// EnvPrefix prefixes every environment override, e.g. BOLTCTL_HOST.
const EnvPrefix = "BOLTCTL"

type IdentityConfig struct {
	Username       string `validate:"required"`
	PublicKeyFile  string `validate:"required"`
	PrivateKeyFile string `validate:"required"`
	Passphrase     string
}

// Config is everything a client needs to connect.
type Config struct {
	Host           string        `validate:"required"`
	Port           *int          `validate:"omitempty,min=1,max=65535"`
	Service        string        `validate:"required"`
	Nameserver     string        `validate:"omitempty,hostname_port"`
	ConnectTimeout time.Duration `validate:"gte=0"`
	MaxFrameBytes  int           `validate:"gte=0"`
	EventsBuffer   int           `validate:"gte=1"`
	Identity       IdentityConfig
}

func Default() Config {
	return Config{
		Service:      "bolt",
		EventsBuffer: 16,
	}
}

type fileConfig struct {
	Host           string       `toml:"host"`
	Port           int          `toml:"port"`
	Service        string       `toml:"service"`
	Nameserver     string       `toml:"nameserver"`
	ConnectTimeout string       `toml:"connect_timeout"`
	MaxFrameBytes  int          `toml:"max_frame_bytes"`
	EventsBuffer   int          `toml:"events_buffer"`
	Identity       fileIdentity `toml:"identity"`
}

type fileIdentity struct {
	Username       string `toml:"username"`
	PublicKeyFile  string `toml:"public_key_file"`
	PrivateKeyFile string `toml:"private_key_file"`
	Passphrase     string `toml:"passphrase"`
}

type envOverrides struct {
	Host           string        `envconfig:"HOST"`
	Port           int           `envconfig:"PORT"`
	Service        string        `envconfig:"SERVICE"`
	Nameserver     string        `envconfig:"NAMESERVER"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"`
	MaxFrameBytes  *int          `envconfig:"MAX_FRAME_BYTES"`
	EventsBuffer   *int          `envconfig:"EVENTS_BUFFER"`
	Username       string        `envconfig:"USERNAME"`
	PublicKeyFile  string        `envconfig:"PUBLIC_KEY_FILE"`
	PrivateKeyFile string        `envconfig:"PRIVATE_KEY_FILE"`
	Passphrase     string        `envconfig:"PASSPHRASE"`
}

// Load reads path (optional), applies BOLTCTL_* overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		var err error
		cfg, err = LoadFile(path)
		if err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile decodes a TOML file over the defaults without validating.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := lo.Map(undecoded, func(k toml.Key, _ int) string { return k.String() })
		return Config{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		port := raw.Port
		cfg.Port = &port
	}
	if meta.IsDefined("service") {
		cfg.Service = strings.TrimSpace(raw.Service)
	}
	if meta.IsDefined("nameserver") {
		cfg.Nameserver = strings.TrimSpace(raw.Nameserver)
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("events_buffer") {
		cfg.EventsBuffer = raw.EventsBuffer
	}

	cfg.Identity = IdentityConfig{
		Username:       strings.TrimSpace(raw.Identity.Username),
		PublicKeyFile:  strings.TrimSpace(raw.Identity.PublicKeyFile),
		PrivateKeyFile: strings.TrimSpace(raw.Identity.PrivateKeyFile),
		Passphrase:     raw.Identity.Passphrase,
	}
	return cfg, nil
}

// ApplyEnv overlays non-empty BOLTCTL_* variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config env failed: %w", err)
	}
	if v := strings.TrimSpace(env.Host); v != "" {
		cfg.Host = v
	}
	if env.Port != 0 {
		port := env.Port
		cfg.Port = &port
	}
	if v := strings.TrimSpace(env.Service); v != "" {
		cfg.Service = v
	}
	if v := strings.TrimSpace(env.Nameserver); v != "" {
		cfg.Nameserver = v
	}
	if env.ConnectTimeout != 0 {
		cfg.ConnectTimeout = env.ConnectTimeout
	}
	if env.MaxFrameBytes != nil {
		cfg.MaxFrameBytes = *env.MaxFrameBytes
	}
	if env.EventsBuffer != nil {
		cfg.EventsBuffer = *env.EventsBuffer
	}
	if v := strings.TrimSpace(env.Username); v != "" {
		cfg.Identity.Username = v
	}
	if v := strings.TrimSpace(env.PublicKeyFile); v != "" {
		cfg.Identity.PublicKeyFile = v
	}
	if v := strings.TrimSpace(env.PrivateKeyFile); v != "" {
		cfg.Identity.PrivateKeyFile = v
	}
	if env.Passphrase != "" {
		cfg.Identity.Passphrase = env.Passphrase
	}
	return nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func Validate(cfg Config) error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	return nil
}
