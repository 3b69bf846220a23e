package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"thirdcoast.systems/ytharvest/internal/application"
	"thirdcoast.systems/ytharvest/internal/config"
	"thirdcoast.systems/ytharvest/internal/container"
	"thirdcoast.systems/ytharvest/internal/db"
	"thirdcoast.systems/ytharvest/internal/logging"
	"thirdcoast.systems/ytharvest/internal/metrics"
	"thirdcoast.systems/ytharvest/internal/pipe"
	"thirdcoast.systems/ytharvest/internal/scraper"
	"thirdcoast.systems/ytharvest/internal/seeds"
	"thirdcoast.systems/ytharvest/internal/store"
	"thirdcoast.systems/ytharvest/internal/updater"
	"thirdcoast.systems/ytharvest/internal/ytapi"
	"thirdcoast.systems/ytharvest/pkg/ytdlp"
)

// app holds what every command shares: config, logger, stores and the
// lazily opened warehouse pool.
type app struct {
	command string
	started time.Time
	conf    *config.Config
	log     *slog.Logger
	stores  *application.Stores

	poolMu sync.Mutex
	conn   *db.DatabaseConnection

	launcherOnce sync.Once
	launcher     container.Launcher
}

func newApp(ctx context.Context, command string) (*app, error) {
	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return nil, err
	}
	log := logging.Install(conf.LogLevel, conf.LogFormat).With("command", command)

	stores, err := application.OpenStores(ctx, *conf)
	if err != nil {
		log.Error("failed to open stores", "error", err)
		return nil, err
	}
	return &app{command: command, started: time.Now(), conf: conf, log: log, stores: stores}, nil
}

// close releases the pool and pushes the run metrics.
func (a *app) close(ctx context.Context) {
	metrics.RunDuration.WithLabelValues(a.command).Set(time.Since(a.started).Seconds())
	if err := metrics.Push(context.WithoutCancel(ctx), a.conf.PushgatewayURL, "ytharvest_"+strings.ReplaceAll(a.command, "-", "_")); err != nil {
		a.log.Warn("failed to push metrics", "error", err)
	}

	a.poolMu.Lock()
	defer a.poolMu.Unlock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

func (a *app) warehouse(ctx context.Context) (*db.Warehouse, error) {
	a.poolMu.Lock()
	defer a.poolMu.Unlock()
	if a.conn == nil {
		pool, err := application.OpenDBPoolWithRetry(ctx, *a.conf)
		if err != nil {
			return nil, fmt.Errorf("connect to warehouse: %w", err)
		}
		conn, err := db.NewDatabaseConnection(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping warehouse: %w", err)
		}
		a.conn = conn
	}
	return a.conn.Warehouse(), nil
}

// containerLauncher is shared by every pipe and trial of the process so the
// concurrency cap holds across them.
func (a *app) containerLauncher() container.Launcher {
	a.launcherOnce.Do(func() {
		a.launcher = container.NewRetrying(container.NewDocker(a.conf.DockerPath), a.conf.ContainerMaxParallel)
	})
	return a.launcher
}

func (a *app) pipeConfig() pipe.Config {
	return pipe.Config{
		Location:          pipe.Location(a.conf.PipeLocation),
		MinWorkItems:      a.conf.PipeMinWorkItems,
		MaxParallel:       a.conf.PipeMaxParallel,
		ContainerMinItems: a.conf.PipeContainerMinItems,
	}
}

func (a *app) pipeContext() *pipe.Context {
	pctx := &pipe.Context{Store: a.stores.Data, Log: a.log}
	if pipe.Location(a.conf.PipeLocation) == pipe.Container {
		pctx.Launcher = a.containerLauncher()
		pctx.Worker = container.Spec{
			Image:    a.conf.ContainerImage,
			Name:     "pipe",
			Env:      workerEnv(*a.conf),
			CPUs:     a.conf.ContainerCPUs,
			MemoryGB: a.conf.ContainerMemoryGB,
			Timeout:  a.conf.ContainerTimeout,
		}
	}
	return pctx
}

// ytdlpClient logs yt-dlp's stderr at debug level and its version once.
func (a *app) ytdlpClient(ctx context.Context) *ytdlp.Client {
	ylog := a.log.With("tool", "yt-dlp")
	yt := &ytdlp.Client{
		Path: a.conf.YtdlpPath,
		LogCallback: func(stream string, line string) {
			ylog.Debug(line, "stream", stream)
		},
	}
	if v, err := yt.Version(ctx); err != nil {
		ylog.Warn("could not read yt-dlp version", "path", yt.PathOrDefault(), "error", err)
	} else {
		ylog.Info("using yt-dlp", "version", v, "path", yt.PathOrDefault())
	}
	return yt
}

func (a *app) updater(ctx context.Context) (*updater.Updater, *pipe.Registry) {
	conf := a.conf
	scr := scraper.New(scraper.Config{
		RPS:   conf.ScraperRPS,
		Ytdlp: a.ytdlpClient(ctx),
	})

	u := updater.New(updater.Deps{
		Store:   store.NewYtStore(a.stores.Data),
		Scraper: scr,
		API:     ytapi.NewClient("", conf.YtAPIKeys),
		Seeds:   seeds.CSVLoader{Path: conf.SeedChannelsPath},
		OpenWarehouse: func(ctx context.Context) (updater.Warehouse, error) {
			w, err := a.warehouse(ctx)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		Pipe: a.pipeContext(),
	}, updater.Config{
		From:                  conf.FromTime(),
		RefreshAllAfter:       conf.RefreshAllAfter,
		RefreshVideosWithin:   conf.RefreshVideosWithin,
		RefreshRecsWithin:     conf.RefreshRecsWithin,
		RefreshRecsMin:        conf.RefreshRecsMin,
		UploadStopAfterOld:    conf.UploadStopAfterOld,
		DefaultParallel:       conf.DefaultParallel,
		ParallelChannels:      conf.ParallelChannels,
		LimitedToSeedChannels: conf.LimitedToSeedChannels,
		Pipe:                  a.pipeConfig(),
	})

	reg := pipe.NewRegistry()
	u.Register(reg)
	return u, reg
}

// workerEnv forwards the settings a pipe worker needs to rebuild the same
// stores and sources inside its container.
func workerEnv(conf config.Config) map[string]string {
	env := map[string]string{
		"DATABASE_DSN":             conf.DatabaseDSN,
		"DATABASE_RETRIES":         strconv.Itoa(conf.DatabaseRetries),
		"LOG_LEVEL":                conf.LogLevel,
		"LOG_FORMAT":               "json",
		"STORE_BACKEND":            conf.StoreBackend,
		"STORE_ROOT":               conf.StoreRoot,
		"S3_ENDPOINT":              conf.S3Endpoint,
		"S3_ACCESS_KEY":            conf.S3AccessKey,
		"S3_SECRET_KEY":            conf.S3SecretKey,
		"S3_BUCKET":                conf.S3Bucket,
		"S3_USE_SSL":               strconv.FormatBool(conf.S3UseSSL),
		"STORE_DATA_PREFIX":        conf.DataPrefix,
		"STORE_RESULTS_PREFIX":     conf.ResultsPrefix,
		"SEED_CHANNELS_PATH":       conf.SeedChannelsPath,
		"YT_FROM":                  conf.From,
		"YT_REFRESH_ALL_AFTER":     conf.RefreshAllAfter.String(),
		"YT_REFRESH_VIDEOS_WITHIN": conf.RefreshVideosWithin.String(),
		"YT_REFRESH_RECS_WITHIN":   conf.RefreshRecsWithin.String(),
		"YT_REFRESH_RECS_MIN":      strconv.Itoa(conf.RefreshRecsMin),
		"YT_UPLOAD_STOP_AFTER_OLD": strconv.Itoa(conf.UploadStopAfterOld),
		"DEFAULT_PARALLEL":         strconv.Itoa(conf.DefaultParallel),
		"YT_API_KEYS":              strings.Join(conf.YtAPIKeys, ","),
		"YTDLP_PATH":               conf.YtdlpPath,
		"SCRAPER_RPS":              strconv.FormatFloat(conf.ScraperRPS, 'f', -1, 64),
		// Workers always run their batch in-process.
		"PIPE_LOCATION":   string(pipe.Local),
		"PUSHGATEWAY_URL": conf.PushgatewayURL,
	}
	for k, v := range env {
		if v == "" {
			delete(env, k)
		}
	}
	return env
}
