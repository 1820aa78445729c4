package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/cesargomez89/stemdeck/internal/constants"
)

// EnvPrefix is prepended to every environment variable, e.g. STEMDECK_PORT.
const EnvPrefix = "STEMDECK"

// Config holds all application configuration
type Config struct {
	Port          string `mapstructure:"port" validate:"required,numeric"`
	DBPath        string `mapstructure:"db_path" validate:"required"`
	DownloadsDir  string `mapstructure:"downloads_dir" validate:"required"`
	StemsCacheDir string `mapstructure:"stems_cache_dir" validate:"required"`
	BPMCacheDir   string `mapstructure:"bpm_cache_dir" validate:"required"`
	UploadsDir    string `mapstructure:"uploads_dir" validate:"required"`
	LogLevel      string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat     string `mapstructure:"log_format" validate:"oneof=text json"`
	LogFile       string `mapstructure:"log_file"`

	FilenameTemplate string `mapstructure:"filename_template" validate:"required"`

	MaxDuration    time.Duration `mapstructure:"max_duration" validate:"gt=0"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
	StreamInterval time.Duration `mapstructure:"stream_interval" validate:"gt=0"`

	ConversionSlots int `mapstructure:"conversion_slots" validate:"min=1"`
	SeparationSlots int `mapstructure:"separation_slots" validate:"min=1"`
	AnalysisSlots   int `mapstructure:"analysis_slots" validate:"min=1"`

	RateLimit        int           `mapstructure:"rate_limit" validate:"min=1"`
	RateWindow       time.Duration `mapstructure:"rate_window" validate:"gt=0"`
	RateLimitBackend string        `mapstructure:"rate_limit_backend" validate:"oneof=memory redis"`
	RedisAddr        string        `mapstructure:"redis_addr" validate:"required_if=RateLimitBackend redis"`
	RedisPassword    string        `mapstructure:"redis_password"`
	RedisDB          int           `mapstructure:"redis_db" validate:"min=0"`

	ReapInterval time.Duration `mapstructure:"reap_interval" validate:"gt=0"`
	TaskExpiry   time.Duration `mapstructure:"task_expiry" validate:"gt=0"`
	DiskQuota    int64         `mapstructure:"disk_quota" validate:"gt=0"`
	CacheQuota   int64         `mapstructure:"cache_quota" validate:"min=0"`

	MaxSeparationUpload int64 `mapstructure:"max_separation_upload" validate:"gt=0"`
	MaxAnalysisUpload   int64 `mapstructure:"max_analysis_upload" validate:"gt=0"`

	YTDLPBin       string `mapstructure:"ytdlp_bin" validate:"required"`
	FFmpegBin      string `mapstructure:"ffmpeg_bin" validate:"required"`
	FFprobeBin     string `mapstructure:"ffprobe_bin" validate:"required"`
	DemucsBin      string `mapstructure:"demucs_bin" validate:"required"`
	DemucsModel    string `mapstructure:"demucs_model" validate:"required"`
	AnalyzerCmd    string `mapstructure:"analyzer_cmd"`
	YouTubeCookies string `mapstructure:"youtube_cookies" validate:"omitempty,base64"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", constants.DefaultPort)
	v.SetDefault("db_path", constants.DefaultDBPath)
	v.SetDefault("downloads_dir", constants.DefaultDownloadsDir)
	v.SetDefault("stems_cache_dir", constants.DefaultStemsCacheDir)
	v.SetDefault("bpm_cache_dir", constants.DefaultBPMCacheDir)
	v.SetDefault("uploads_dir", constants.DefaultUploadsDir)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "")
	v.SetDefault("filename_template", constants.DefaultFilenameTemplate)

	v.SetDefault("max_duration", constants.DefaultMaxDuration)
	v.SetDefault("task_timeout", constants.DefaultTaskTimeout)
	v.SetDefault("stream_interval", constants.DefaultStreamInterval)

	v.SetDefault("conversion_slots", constants.DefaultConversionSlots)
	v.SetDefault("separation_slots", constants.DefaultSeparationSlots)
	v.SetDefault("analysis_slots", constants.DefaultAnalysisSlots)

	v.SetDefault("rate_limit", constants.DefaultRateLimit)
	v.SetDefault("rate_window", constants.DefaultRateWindow)
	v.SetDefault("rate_limit_backend", constants.RateLimitMemory)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("reap_interval", constants.DefaultReapInterval)
	v.SetDefault("task_expiry", constants.DefaultTaskExpiry)
	v.SetDefault("disk_quota", int64(constants.DefaultDiskQuota))
	v.SetDefault("cache_quota", 0)

	v.SetDefault("max_separation_upload", int64(constants.MaxSeparationUpload))
	v.SetDefault("max_analysis_upload", int64(constants.MaxAnalysisUpload))

	v.SetDefault("ytdlp_bin", constants.DefaultYTDLPBin)
	v.SetDefault("ffmpeg_bin", constants.DefaultFFmpegBin)
	v.SetDefault("ffprobe_bin", constants.DefaultFFprobeBin)
	v.SetDefault("demucs_bin", constants.DefaultDemucsBin)
	v.SetDefault("demucs_model", constants.DefaultDemucsArgs)
	v.SetDefault("analyzer_cmd", "")
	v.SetDefault("youtube_cookies", "")
}

// Load reads configuration from defaults, an optional YAML file and
// STEMDECK_-prefixed environment variables, in increasing precedence.
// An empty configFile searches for stemdeck.yaml in the working directory.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("stemdeck")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(envName)

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, describe(fe))
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(messages, "\n  - "))
}

func envName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
	if name == "" {
		return f.Name
	}
	return EnvPrefix + "_" + strings.ToUpper(name)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s cannot be empty", fe.Field())
	case "required_if":
		return fmt.Sprintf("%s is required when %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s, got: %v", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "min", "gt":
		return fmt.Sprintf("%s must be %s %s, got: %v", fe.Field(), map[string]string{"min": "at least", "gt": "greater than"}[fe.Tag()], fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation, got: %v", fe.Field(), fe.Tag(), fe.Value())
	}
}
