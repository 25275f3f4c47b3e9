package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes. In configuration files it may be written as an
// integer, a human readable size ("64MiB", "10 MB") or "unlimited".
type ByteSize int64

// Unlimited disables a size limit.
const Unlimited ByteSize = -1

// String renders the size for humans.
func (b ByteSize) String() string {
	if b == Unlimited {
		return "unlimited"
	}
	return humanize.IBytes(uint64(b))
}

// ParseByteSize parses a size as accepted in configuration files.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "unlimited", "-1":
		return Unlimited, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative size %d", n)
		}
		return ByteSize(n), nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// RedisConfig holds the connection settings of the Redis session registry.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// EncryptionConfig enables encryption of spool files at rest.
// Keys are hex encoded 32-byte AES-256 keys.
type EncryptionConfig struct {
	Key          string   `mapstructure:"key" yaml:"key"`
	FallbackKeys []string `mapstructure:"fallback_keys" yaml:"fallback_keys"`
}

// Enabled reports whether an active key is configured.
func (e EncryptionConfig) Enabled() bool {
	return e.Key != ""
}

// Keys decodes the active and fallback keys.
func (e EncryptionConfig) Keys() (active []byte, fallback [][]byte, err error) {
	active, err = decodeKey(e.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption.key: %w", err)
	}
	for i, k := range e.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("encryption.fallback_keys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Config is the server configuration (spooler.yaml).
type Config struct {
	Listen           string           `mapstructure:"listen" yaml:"listen"`
	TempDir          string           `mapstructure:"temp_dir" yaml:"temp_dir"`
	MaxContentLength ByteSize         `mapstructure:"max_content_length" yaml:"max_content_length"`
	ReadBuffer       ByteSize         `mapstructure:"read_buffer" yaml:"read_buffer"`
	Storage          string           `mapstructure:"storage" yaml:"storage"`   // file | memory
	Registry         string           `mapstructure:"registry" yaml:"registry"` // memory | redis
	Redis            RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Encryption       EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
	LogLevel         string           `mapstructure:"log_level" yaml:"log_level"`
	ShutdownTimeout  time.Duration    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:           ":8080",
		TempDir:          filepath.Join(os.TempDir(), "spooler"),
		MaxContentLength: Unlimited,
		ReadBuffer:       32 * 1024,
		Storage:          "file",
		Registry:         "memory",
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "spooler:session:",
		},
		LogLevel:        "info",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Load reads a YAML configuration file on top of the defaults.
// A missing file is not an error: the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data, cfg)
}

// Parse decodes YAML data over base and validates the result.
func Parse(data []byte, base Config) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return base, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := base
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			byteSizeHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return base, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return base, fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if c.MaxContentLength < 0 && c.MaxContentLength != Unlimited {
		return fmt.Errorf("max_content_length must be a size or \"unlimited\", got %d", c.MaxContentLength)
	}
	if c.ReadBuffer <= 0 {
		return fmt.Errorf("read_buffer must be positive, got %d", c.ReadBuffer)
	}
	switch c.Storage {
	case "file", "memory":
	default:
		return fmt.Errorf("unknown storage %q (want file or memory)", c.Storage)
	}
	switch c.Registry {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown registry %q (want memory or redis)", c.Registry)
	}
	if c.Storage == "file" && c.TempDir == "" {
		return fmt.Errorf("temp_dir is required with file storage")
	}
	if c.Encryption.Enabled() {
		if _, _, err := c.Encryption.Keys(); err != nil {
			return err
		}
	}
	return nil
}

var byteSizeType = reflect.TypeOf(ByteSize(0))

func byteSizeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != byteSizeType {
		return data, nil
	}
	if s, ok := data.(string); ok {
		return ParseByteSize(s)
	}
	return data, nil
}
