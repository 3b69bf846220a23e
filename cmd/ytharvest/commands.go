package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"thirdcoast.systems/ytharvest/internal/container"
	"thirdcoast.systems/ytharvest/internal/index"
	"thirdcoast.systems/ytharvest/internal/updater"
	"thirdcoast.systems/ytharvest/internal/userscrape"
	"thirdcoast.systems/ytharvest/internal/videoid"
)

func updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update [all|channels|all-with-missing-recs]",
		Short: "Refresh channels, videos, recommendations and captions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			updateType := updater.All
			if len(args) == 1 {
				t, err := updater.ParseUpdateType(args[0])
				if err != nil {
					return err
				}
				updateType = t
			}

			a, err := newApp(ctx, "update")
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if a.conf.SeedChannelsPath == "" {
				err := errors.New("SEED_CHANNELS_PATH is not set")
				a.log.Error("cannot update", "error", err)
				return err
			}

			u, _ := a.updater(ctx)
			sum, err := u.Update(ctx, updateType, a.log)
			if err != nil {
				a.log.Error("update failed", "error", err)
				return err
			}
			fmt.Printf("updated %d channels: %d succeeded, %d failed, %d direct / %d fallback requests in %s\n",
				sum.Channels, sum.Succeeded, sum.Failed, sum.Requests.Direct, sum.Requests.Fallback, sum.Duration.Round(time.Second))
			return nil
		},
	}
}

func indexCmd() *cobra.Command {
	var names []string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build index snapshots from the warehouse and commit their manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "index")
			if err != nil {
				return err
			}
			defer a.close(ctx)

			w, err := a.warehouse(ctx)
			if err != nil {
				a.log.Error("failed to open warehouse", "error", err)
				return err
			}

			b := index.NewBuilder(a.stores.Results, w, index.DefaultRegistry(), index.Options{
				Version:  a.conf.IndexVersion,
				Parallel: a.conf.IndexParallel,
			})
			manifests, err := b.Build(ctx, names, a.log)
			if err != nil {
				a.log.Error("index build failed", "error", err)
				return err
			}
			for _, m := range manifests {
				var size int64
				for _, f := range m.Files {
					size += f.Bytes
				}
				fmt.Printf("%s/%s: %d files, %s\n", m.Name, m.Version, len(m.Files), humanize.Bytes(uint64(size)))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&names, "names", nil, "indexes to build (default all)")
	return cmd
}

func backfillExtraCmd() *cobra.Command {
	var (
		videos []string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "backfill-extra",
		Short: "Refresh video_extra for the given videos or the recent videos of every channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "backfill-extra")
			if err != nil {
				return err
			}
			defer a.close(ctx)

			ids, err := videoid.Videos(videos)
			if err != nil {
				return err
			}

			u, _ := a.updater(ctx)
			sum, err := u.BackfillVideoExtra(ctx, ids, limit, a.log)
			if err != nil {
				a.log.Error("video extra backfill failed", "error", err)
				return err
			}
			fmt.Printf("updated %d videos in %d batches (%d failed) in %s\n",
				sum.Videos, sum.Batches, sum.Failed, sum.Duration.Round(time.Second))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&videos, "videos", nil, "video ids or urls to refresh (default recent videos from the warehouse)")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap on videos selected from the warehouse")
	return cmd
}

func pipeWorkerCmd() *cobra.Command {
	var (
		pipeName string
		runID    string
		batch    int
	)
	cmd := &cobra.Command{
		Use:    "pipe-worker",
		Short:  "Process one pipe batch (container entry point)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "pipe-worker")
			if err != nil {
				return err
			}
			defer a.close(ctx)

			_, reg := a.updater(ctx)
			if err := reg.RunWorker(ctx, a.stores.Data, pipeName, runID, batch, a.log); err != nil {
				a.log.Error("pipe worker failed", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pipeName, "pipe", "", "registered pipe name")
	cmd.Flags().StringVar(&runID, "run-id", "", "pipe run id")
	cmd.Flags().IntVar(&batch, "batch", 0, "batch index")
	_ = cmd.MarkFlagRequired("pipe")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

func userScrapeCmd() *cobra.Command {
	var opts userscrape.Options
	cmd := &cobra.Command{
		Use:   "userscrape",
		Short: "Launch simulated-user recommendation trials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "userscrape")
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if a.conf.UserScrapeImage == "" {
				err := errors.New("USERSCRAPE_IMAGE is not set")
				a.log.Error("cannot run user scrape", "error", err)
				return err
			}

			us := userscrape.New(a.stores.Data, container.NewRetrying(container.NewDocker(a.conf.DockerPath), a.conf.UserScrapeMaxContainers), userscrape.Config{
				Image:         a.conf.UserScrapeImage,
				CPUs:          a.conf.ContainerCPUs,
				MemoryGB:      a.conf.ContainerMemoryGB,
				Timeout:       a.conf.ContainerTimeout,
				MaxContainers: a.conf.UserScrapeMaxContainers,
			})
			sum, err := us.Run(ctx, opts, a.log)
			if sum != nil {
				fmt.Printf("%d trials: %d succeeded, %d failed\n", sum.Trials, sum.Succeeded, sum.Failed)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.Init, "init", false, "initialise the test accounts before the trial")
	cmd.Flags().StringVar(&opts.Trial, "trial", "", "run a single named trial")
	cmd.Flags().StringSliceVar(&opts.Accounts, "accounts", nil, "limit to these account tags")
	return cmd
}
