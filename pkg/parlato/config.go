package parlato

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/harunnryd/parlato/pkg/configutil"
)

type Config struct {
	Environment    string               `mapstructure:"environment"`
	LogLevel       string               `mapstructure:"log_level"`
	LogFormat      string               `mapstructure:"log_format"`
	Session        SessionConfig        `mapstructure:"session"`
	Recognizer     VendorConfig         `mapstructure:"recognizer"`
	Models         ModelsConfig         `mapstructure:"models"`
	Capture        CaptureConfig        `mapstructure:"capture"`
	Evaluation     EvaluationConfig     `mapstructure:"evaluation"`
	AutoTranscribe AutoTranscribeConfig `mapstructure:"auto_transcribe"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

// VendorConfig names a recognizer provider with free-form settings, decoded
// per provider via pkg/configutil.
type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type SessionConfig struct {
	// Mode selects the chat backend: guest or remote.
	Mode       string       `mapstructure:"mode"`
	Remote     RemoteConfig `mapstructure:"remote"`
	CacheTTLMS int          `mapstructure:"cache_ttl_ms"`
	GuestTTLMS int          `mapstructure:"guest_ttl_ms"`
}

type RemoteConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

type ModelsConfig struct {
	// Default is the model used for regular transcriptions.
	Default string `mapstructure:"default"`
	// Evaluation holds the two models compared by the evaluation engine.
	Evaluation []string `mapstructure:"evaluation"`
}

type CaptureConfig struct {
	Preferences []string `mapstructure:"preferences"`
}

type EvaluationConfig struct {
	StorePath string `mapstructure:"store_path"`
}

type AutoTranscribeConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	IntervalMS int  `mapstructure:"interval_ms"`
}

type MetricsConfig struct {
	// Path appends metrics events as JSON lines; empty disables the file.
	Path       string  `mapstructure:"path"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Buffer     int     `mapstructure:"buffer"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("session.mode", "guest")
	v.SetDefault("session.cache_ttl_ms", 5000)
	v.SetDefault("session.guest_ttl_ms", 600000)
	v.SetDefault("models.default", "")
	v.SetDefault("capture.preferences", []string{})
	v.SetDefault("evaluation.store_path", "data/evaluations.db")
	v.SetDefault("auto_transcribe.enabled", true)
	v.SetDefault("auto_transcribe.interval_ms", 1000)
	v.SetDefault("metrics.path", "")
	v.SetDefault("metrics.sample_rate", 1.0)
	v.SetDefault("metrics.buffer", 256)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	mode := strings.TrimSpace(c.Session.Mode)
	if mode != "guest" && mode != "remote" {
		return fmt.Errorf("session.mode must be guest or remote, got %q", c.Session.Mode)
	}
	if mode == "remote" && strings.TrimSpace(c.Session.Remote.BaseURL) == "" {
		return fmt.Errorf("session.remote.base_url is required in remote mode")
	}
	if err := configutil.RequireString(c.Recognizer.Provider, "recognizer.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Models.Default, "models.default"); err != nil {
		return err
	}
	if n := len(c.Models.Evaluation); n != 0 && n != 2 {
		return fmt.Errorf("models.evaluation needs exactly two models, got %d", n)
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Recognizer.Settings = expandSettings(cfg.Recognizer.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
