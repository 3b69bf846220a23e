package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/ytharvest/internal/config"
)

func TestWorkerEnv(t *testing.T) {
	conf := config.Config{}
	conf.DatabaseDSN = "postgres://example"
	conf.DatabaseRetries = 3
	conf.StoreBackend = "s3"
	conf.S3Bucket = "yt"
	conf.RefreshAllAfter = 23 * time.Hour
	conf.YtAPIKeys = []string{"k1", "k2"}
	conf.ScraperRPS = 2.5
	conf.PipeLocation = "container"

	env := workerEnv(conf)
	require.Equal(t, "postgres://example", env["DATABASE_DSN"])
	require.Equal(t, "3", env["DATABASE_RETRIES"])
	require.Equal(t, "yt", env["S3_BUCKET"])
	require.Equal(t, "23h0m0s", env["YT_REFRESH_ALL_AFTER"])
	require.Equal(t, "k1,k2", env["YT_API_KEYS"])
	require.Equal(t, "2.5", env["SCRAPER_RPS"])
	require.Equal(t, "local", env["PIPE_LOCATION"])

	_, ok := env["S3_ENDPOINT"]
	require.False(t, ok, "empty settings are not forwarded")
}

func TestCommandsRegistered(t *testing.T) {
	for _, c := range []interface{ Name() string }{updateCmd(), indexCmd(), backfillExtraCmd(), pipeWorkerCmd(), userScrapeCmd()} {
		require.NotEmpty(t, c.Name())
	}
	require.NotNil(t, pipeWorkerCmd().Flags().Lookup("run-id"))
	require.NotNil(t, indexCmd().Flags().Lookup("names"))
}

func TestYtdlpClient_LogsToAppLogger(t *testing.T) {
	var buf bytes.Buffer
	conf := &config.Config{}
	conf.YtdlpPath = t.TempDir() + "/missing-yt-dlp"
	a := &app{conf: conf, log: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	yt := a.ytdlpClient(context.Background())
	require.Equal(t, conf.YtdlpPath, yt.PathOrDefault())
	require.Contains(t, buf.String(), "could not read yt-dlp version")

	require.NotNil(t, yt.LogCallback)
	yt.LogCallback("stderr", "[youtube] abc: Downloading webpage")
	require.Contains(t, buf.String(), "Downloading webpage")
	require.Contains(t, buf.String(), "tool=yt-dlp")
}
