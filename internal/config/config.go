// Package config loads imgcas settings from a YAML file, IMGCAS_* environment
// variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const envPrefix = "IMGCAS"

// Config is the full process configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Retention RetentionConfig `mapstructure:"retention"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Remote    RemoteConfig    `mapstructure:"remote"`
}

type StorageConfig struct {
	Root         string `mapstructure:"root" validate:"required"`
	MetadataFile string `mapstructure:"metadata_file" validate:"required"`
	Hash         string `mapstructure:"hash" validate:"oneof=sha256 blake3"`
}

type UploadConfig struct {
	MaxObjectSize     ByteSize `mapstructure:"max_object_size" validate:"gt=0"`
	AllowedExtensions []string `mapstructure:"allowed_extensions" validate:"min=1,dive,required"`
	AllowedMimeTypes  []string `mapstructure:"allowed_mime_types" validate:"min=1,dive,required"`
}

type RetentionConfig struct {
	// Objects older than Window are removed by the sweeper.
	Window time.Duration `mapstructure:"window" validate:"gt=0"`
	// Interval between sweeps while serving; zero disables the sweeper.
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

type ServerConfig struct {
	Listen          string        `mapstructure:"listen" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type RemoteConfig struct {
	Ref         string `mapstructure:"ref"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Concurrency int    `mapstructure:"concurrency" validate:"gte=1"`
}

// ByteSize is a byte count that decodes from "5MiB", "500kB" or plain numbers.
type ByteSize uint64

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// New returns a viper instance with defaults, environment binding and the
// config file location set. An empty path searches the default directory.
func New(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(Dir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	return v
}

// Load reads the config file if present, decodes and validates the result.
// An explicitly named file must exist.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Storage.Root = expandHome(cfg.Storage.Root)
	cfg.Storage.MetadataFile = expandHome(cfg.Storage.MetadataFile)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its field constraints.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	data := DataDir()
	v.SetDefault("storage.root", filepath.Join(data, "blobs"))
	v.SetDefault("storage.metadata_file", filepath.Join(data, "metadata.json"))
	v.SetDefault("storage.hash", "sha256")

	v.SetDefault("upload.max_object_size", "5MiB")
	v.SetDefault("upload.allowed_extensions", []string{".jpg", ".jpeg", ".png", ".gif", ".webp"})
	v.SetDefault("upload.allowed_mime_types", []string{"image/jpeg", "image/png", "image/gif", "image/webp"})

	v.SetDefault("retention.window", "24h")
	v.SetDefault("retention.interval", "1h")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("remote.ref", "")
	v.SetDefault("remote.username", "")
	v.SetDefault("remote.password", "")
	v.SetDefault("remote.concurrency", 4)
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			n, err := humanize.ParseBytes(v)
			if err != nil {
				return nil, fmt.Errorf("invalid size %q: %w", v, err)
			}
			return ByteSize(n), nil
		case int:
			if v < 0 {
				return nil, fmt.Errorf("invalid size %d", v)
			}
			return ByteSize(v), nil
		case int64:
			if v < 0 {
				return nil, fmt.Errorf("invalid size %d", v)
			}
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			if v < 0 {
				return nil, fmt.Errorf("invalid size %v", v)
			}
			return ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// Dir is the default config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "imgcas")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "imgcas")
	}
	return ".imgcas"
}

// DataDir is the default data directory.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "imgcas")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "imgcas")
	}
	return ".imgcas"
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
