package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Database   `mapstructure:",squash"`
	Logging    `mapstructure:",squash"`
	Store      `mapstructure:",squash"`
	Seeds      `mapstructure:",squash"`
	Updater    `mapstructure:",squash"`
	Sources    `mapstructure:",squash"`
	Pipe       `mapstructure:",squash"`
	Container  `mapstructure:",squash"`
	Index      `mapstructure:",squash"`
	UserScrape `mapstructure:",squash"`

	PushgatewayURL string `mapstructure:"PUSHGATEWAY_URL" validate:"omitempty,url"`
}

type Database struct {
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES" validate:"gte=1"`
}

type Logging struct {
	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"oneof=json console"`
}

type Store struct {
	StoreBackend  string `mapstructure:"STORE_BACKEND" validate:"oneof=fs s3"`
	StoreRoot     string `mapstructure:"STORE_ROOT" validate:"required_if=StoreBackend fs"`
	S3Endpoint    string `mapstructure:"S3_ENDPOINT" validate:"required_if=StoreBackend s3"`
	S3AccessKey   string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey   string `mapstructure:"S3_SECRET_KEY"`
	S3Bucket      string `mapstructure:"S3_BUCKET" validate:"required_if=StoreBackend s3"`
	S3UseSSL      bool   `mapstructure:"S3_USE_SSL"`
	DataPrefix    string `mapstructure:"STORE_DATA_PREFIX"`
	ResultsPrefix string `mapstructure:"STORE_RESULTS_PREFIX"`
}

type Seeds struct {
	SeedChannelsPath      string   `mapstructure:"SEED_CHANNELS_PATH"`
	LimitedToSeedChannels []string `mapstructure:"LIMITED_TO_SEED_CHANNELS"`
}

type Updater struct {
	From                string        `mapstructure:"YT_FROM" validate:"datetime=2006-01-02"`
	RefreshAllAfter     time.Duration `mapstructure:"YT_REFRESH_ALL_AFTER"`
	RefreshVideosWithin time.Duration `mapstructure:"YT_REFRESH_VIDEOS_WITHIN"`
	RefreshRecsWithin   time.Duration `mapstructure:"YT_REFRESH_RECS_WITHIN"`
	RefreshRecsMin      int           `mapstructure:"YT_REFRESH_RECS_MIN" validate:"gte=0"`
	UploadStopAfterOld  int           `mapstructure:"YT_UPLOAD_STOP_AFTER_OLD" validate:"gte=1"`
	DefaultParallel     int           `mapstructure:"DEFAULT_PARALLEL" validate:"gte=1"`
	ParallelChannels    int           `mapstructure:"PARALLEL_CHANNELS" validate:"gte=1"`
}

type Sources struct {
	YtAPIKeys  []string `mapstructure:"YT_API_KEYS"`
	YtdlpPath  string   `mapstructure:"YTDLP_PATH"`
	ScraperRPS float64  `mapstructure:"SCRAPER_RPS" validate:"gt=0"`
}

type Pipe struct {
	PipeLocation          string `mapstructure:"PIPE_LOCATION" validate:"oneof=local container"`
	PipeMinWorkItems      int    `mapstructure:"PIPE_MIN_WORK_ITEMS" validate:"gte=1"`
	PipeMaxParallel       int    `mapstructure:"PIPE_MAX_PARALLEL" validate:"gte=1"`
	PipeContainerMinItems int    `mapstructure:"PIPE_CONTAINER_MIN_ITEMS" validate:"gte=1"`
}

type Container struct {
	ContainerImage       string        `mapstructure:"CONTAINER_IMAGE"`
	ContainerCPUs        float64       `mapstructure:"CONTAINER_CPUS" validate:"gt=0"`
	ContainerMemoryGB    float64       `mapstructure:"CONTAINER_MEMORY_GB" validate:"gt=0"`
	ContainerTimeout     time.Duration `mapstructure:"CONTAINER_TIMEOUT"`
	ContainerMaxParallel int           `mapstructure:"CONTAINER_MAX_PARALLEL" validate:"gte=1"`
	DockerPath           string        `mapstructure:"DOCKER_PATH"`
}

type Index struct {
	IndexParallel int    `mapstructure:"INDEX_PARALLEL" validate:"gte=1"`
	IndexVersion  string `mapstructure:"INDEX_VERSION" validate:"required"`
}

type UserScrape struct {
	UserScrapeImage         string `mapstructure:"USERSCRAPE_IMAGE"`
	UserScrapeMaxContainers int    `mapstructure:"USERSCRAPE_MAX_CONTAINERS" validate:"gte=1"`
}

// FromTime is the configured epoch used when a channel has no video checkpoint.
func (u Updater) FromTime() time.Time {
	t, err := time.Parse(time.DateOnly, u.From)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")

		// Squashed sub-structs contribute their own tags.
		if field.Type.Kind() == reflect.Struct && (tag == "" || strings.HasPrefix(tag, ",")) {
			bindEnv(field.Type)
			continue
		}
		if tag != "" {
			_ = viper.BindEnv(tag)
		}
	}
}

func setDefaults() {
	viper.SetDefault("DATABASE_RETRIES", 10)

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")

	viper.SetDefault("STORE_BACKEND", "fs")
	viper.SetDefault("STORE_ROOT", "data")
	viper.SetDefault("STORE_DATA_PREFIX", "db2")
	viper.SetDefault("STORE_RESULTS_PREFIX", "results")

	viper.SetDefault("YT_FROM", "2019-01-01")
	viper.SetDefault("YT_REFRESH_ALL_AFTER", "23h")
	viper.SetDefault("YT_REFRESH_VIDEOS_WITHIN", "2880h")
	viper.SetDefault("YT_REFRESH_RECS_WITHIN", "720h")
	viper.SetDefault("YT_REFRESH_RECS_MIN", 2)
	viper.SetDefault("YT_UPLOAD_STOP_AFTER_OLD", 3)
	viper.SetDefault("DEFAULT_PARALLEL", 8)
	viper.SetDefault("PARALLEL_CHANNELS", 4)

	viper.SetDefault("YTDLP_PATH", "yt-dlp")
	viper.SetDefault("SCRAPER_RPS", 5)

	viper.SetDefault("PIPE_LOCATION", "local")
	viper.SetDefault("PIPE_MIN_WORK_ITEMS", 200)
	viper.SetDefault("PIPE_MAX_PARALLEL", 4)
	viper.SetDefault("PIPE_CONTAINER_MIN_ITEMS", 1000)

	viper.SetDefault("CONTAINER_CPUS", 1)
	viper.SetDefault("CONTAINER_MEMORY_GB", 2)
	viper.SetDefault("CONTAINER_TIMEOUT", "2h")
	viper.SetDefault("CONTAINER_MAX_PARALLEL", 8)
	viper.SetDefault("DOCKER_PATH", "docker")

	viper.SetDefault("INDEX_PARALLEL", 4)
	viper.SetDefault("INDEX_VERSION", "v2")

	viper.SetDefault("USERSCRAPE_MAX_CONTAINERS", 10)
}

// validatePipe covers rules that span sub-structs: container pipes need an
// image to launch.
func validatePipe(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	if cfg.PipeLocation == "container" && strings.TrimSpace(cfg.ContainerImage) == "" {
		sl.ReportError(cfg.ContainerImage, "ContainerImage", "ContainerImage", "required_if", "PipeLocation container")
	}
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(reflect.TypeOf(Config{}))
	viper.AutomaticEnv()
	setDefaults()

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	slog.Debug("Loaded configuration", "store_backend", cfg.StoreBackend, "pipe_location", cfg.PipeLocation, "api_keys", len(cfg.YtAPIKeys))

	validate := validator.New()
	validate.RegisterStructValidation(validatePipe, Config{})
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
