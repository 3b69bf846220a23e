// Package userscrape launches the simulated-user recommendation trials. Each
// trial is a container that signs in as one or more test accounts.
package userscrape

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"thirdcoast.systems/ytharvest/internal/container"
	"thirdcoast.systems/ytharvest/internal/parallel"
	"thirdcoast.systems/ytharvest/internal/pipe"
	"thirdcoast.systems/ytharvest/pkg/blobstore"
)

const DefaultCfgPath = "cfg/userscrape.json"

type Config struct {
	Image         string
	CPUs          float64
	MemoryGB      float64
	Timeout       time.Duration
	MaxContainers int
	// CfgPath is the account config in the data store.
	CfgPath string
	Env     map[string]string
}

type Options struct {
	Init  bool
	Trial string
	// Accounts limits the run to these account tags.
	Accounts []string
}

type Summary struct {
	Trials    int
	Succeeded int
	Failed    int
}

type UserScrape struct {
	store    blobstore.Store
	launcher container.Launcher
	cfg      Config
	now      func() time.Time
}

func New(s blobstore.Store, launcher container.Launcher, cfg Config) *UserScrape {
	if cfg.CfgPath == "" {
		cfg.CfgPath = DefaultCfgPath
	}
	cfg.MaxContainers = max(cfg.MaxContainers, 1)
	return &UserScrape{store: s, launcher: launcher, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

type accountsCfg struct {
	Users []struct {
		Tag string `json:"tag"`
	} `json:"users"`
}

// Accounts lists the account tags in the trial config.
func (u *UserScrape) Accounts(ctx context.Context) ([]string, error) {
	data, err := blobstore.ReadAll(ctx, u.store, u.cfg.CfgPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u.cfg.CfgPath, err)
	}
	var cfg accountsCfg
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", u.cfg.CfgPath, err)
	}
	var tags []string
	for _, usr := range cfg.Users {
		if t := strings.TrimSpace(usr.Tag); t != "" {
			tags = append(tags, t)
		}
	}
	return tags, nil
}

// Run launches one named trial when opts.Trial is set. Otherwise it spreads
// the configured accounts over at most MaxContainers new trials.
func (u *UserScrape) Run(ctx context.Context, opts Options, log *slog.Logger) (*Summary, error) {
	if opts.Trial != "" {
		err := u.runTrial(ctx, opts.Trial, opts.Init, nil, log)
		sum := &Summary{Trials: 1}
		if err != nil {
			sum.Failed = 1
			return sum, err
		}
		sum.Succeeded = 1
		return sum, nil
	}

	all, err := u.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	accounts := all
	if len(opts.Accounts) > 0 {
		accounts = slices.DeleteFunc(slices.Clone(all), func(a string) bool { return !slices.Contains(opts.Accounts, a) })
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts to run (config has %d)", len(all))
	}

	batches := pipe.Batches(accounts, 1, u.cfg.MaxContainers)
	log.Info("starting user scrape", "accounts", len(accounts), "trials", len(batches))

	outcomes := parallel.Transform(ctx, batches, u.cfg.MaxContainers, func(ctx context.Context, b []string) (string, error) {
		trial := u.trialID()
		return trial, u.runTrial(ctx, trial, opts.Init, b, log)
	})

	sum := &Summary{Trials: len(batches)}
	for _, o := range outcomes {
		if o.Err != nil {
			sum.Failed++
		} else {
			sum.Succeeded++
		}
	}
	// Trials never started because of cancellation.
	sum.Failed += len(batches) - len(outcomes)

	log.Info("user scrape complete", "succeeded", sum.Succeeded, "failed", sum.Failed)
	if sum.Failed > 0 {
		return sum, fmt.Errorf("%d of %d trials failed", sum.Failed, sum.Trials)
	}
	return sum, nil
}

func (u *UserScrape) trialID() string {
	return u.now().Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
}

func (u *UserScrape) runTrial(ctx context.Context, trial string, init bool, accounts []string, log *slog.Logger) error {
	tlog := log.With("trial", trial)

	args := []string{"app.py"}
	if init {
		args = append(args, "-i")
	}
	args = append(args, "-t", trial)
	if len(accounts) > 0 {
		args = append(args, "-a", strings.Join(accounts, "|"))
	}

	env := map[string]string{"cfg_path": u.cfg.CfgPath}
	for k, v := range u.cfg.Env {
		env[k] = v
	}

	res, err := u.launcher.Launch(ctx, container.Spec{
		Image:    u.cfg.Image,
		Name:     "userscrape",
		Args:     args,
		Env:      env,
		CPUs:     u.cfg.CPUs,
		MemoryGB: u.cfg.MemoryGB,
		Timeout:  u.cfg.Timeout,
	}, tlog)
	if err != nil {
		tlog.Error("user scrape trial failed", "error", err)
		return err
	}
	tlog.Info("user scrape container completed", "run_id", res.RunID, "duration", res.Duration.Round(time.Second))
	return nil
}
