package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"pixgrid/internal/cache"
	"pixgrid/internal/config"
	"pixgrid/internal/core/logger"
	"pixgrid/internal/core/progress"
	"pixgrid/internal/core/types"
	"pixgrid/internal/gallery"
	"pixgrid/internal/index"
	"pixgrid/internal/repo"
	"pixgrid/internal/runner"
	"pixgrid/internal/source"
	"pixgrid/internal/transport"

	"github.com/alecthomas/kong"
)

type PagesCmd struct {
	Pages int `short:"n" long:"pages" default:"1" help:"Number of pages to walk"`
	Limit int `short:"l" long:"limit" default:"0" help:"Page size (0 = configured default)"`
}

type FillCmd struct {
	Limit int `short:"l" long:"limit" default:"0" help:"Listing page size used while filling (0 = configured bulk size)"`
}

type SizeCmd struct {
	History bool `short:"H" long:"history" help:"Print the recorded size samples"`
}

type ClearCmd struct {
	// Wipes blobs and metadata
}

type CleanupCmd struct {
	Budget types.Bytes `short:"b" long:"budget" help:"Eviction budget override (e.g. 512MiB)"`
}

type CLI struct {
	Config   string `short:"c" long:"config" default:"" help:"Path to config file"`
	CacheDir string `long:"cache-dir" default:"" help:"Cache directory override"`
	Source   string `short:"s" long:"source" default:"" help:"Source ID override"`
	Debug    bool   `short:"d" long:"debug" help:"Enable debug logging"`

	Pages   PagesCmd   `cmd:"pages" help:"Browse pages of the image listing"`
	Fill    FillCmd    `cmd:"fill" help:"Warm the cache with every image in the listing"`
	Size    SizeCmd    `cmd:"size" help:"Report cache disk usage"`
	Clear   ClearCmd   `cmd:"clear" help:"Wipe cached blobs and metadata"`
	Cleanup CleanupCmd `cmd:"cleanup" help:"Evict oldest blobs down to the budget"`
}

// app is the assembled stack behind every command. Everything is built
// once here and handed down explicitly.
type app struct {
	cfg     *types.Config
	log     *logger.Logger
	store   *cache.Store
	ix      *index.Index
	monitor *cache.Monitor
	cleaner *cache.Cleaner
	pool    *runner.Pool
	repo    *repo.Repository
}

func buildApp(ctx context.Context, cliRoot *CLI) (*app, error) {
	cfg, err := config.LoadConfig(config.ResolveConfigPath(cliRoot.Config))
	if err != nil {
		return nil, err
	}
	if cliRoot.CacheDir != "" {
		cfg.Cache.Dir = cliRoot.CacheDir
	}
	if cliRoot.Debug {
		cfg.Debug = true
	}

	logOpts := []logger.LoggerOption{logger.WithName("pixgrid")}
	if cfg.Debug {
		logOpts = append(logOpts,
			logger.WithLevel(logger.LevelDebug),
			logger.WithHandlerOptions(logger.WithTimeFormat(time.StampMilli)),
		)
	}
	log := logger.NewLogger(logOpts...)

	sourceID := cliRoot.Source
	if sourceID == "" {
		sourceID = cfg.Source
	}
	srcCfg, ok := cfg.Sources[sourceID]
	if !ok {
		return nil, fmt.Errorf("source %q not found in configuration", sourceID)
	}
	src, err := source.New(srcCfg)
	if err != nil {
		return nil, err
	}

	// Blobs live under a subdirectory so the metadata index next to them
	// is never scanned or evicted
	store, err := cache.NewStore(filepath.Join(cfg.Cache.Dir, "blobs"))
	if err != nil {
		return nil, err
	}
	ix, err := index.Open(filepath.Join(cfg.Cache.Dir, "index.db"))
	if err != nil {
		return nil, err
	}

	monitor := cache.NewMonitor(store,
		cache.WithDebounceInterval(time.Duration(cfg.Cache.DebounceInterval)),
		cache.WithStalenessCeiling(time.Duration(cfg.Cache.StalenessCeiling)),
		cache.WithHistoryCapacity(cfg.Cache.HistoryCapacity),
	)
	cleaner := cache.NewCleaner(store, log.WithGroup("cleaner"))

	transfer := srcCfg.Transfer
	if transfer == nil {
		tc := types.DefaultTransferConfig()
		transfer = &tc
	}
	pool := runner.NewPool(ctx, "cache",
		runner.WithPoolWorkers(transfer.Workers),
		runner.WithPoolQueueSize(transfer.QueueSize),
	)

	r, err := repo.New(repo.Deps{
		Store:         store,
		Index:         ix,
		Source:        src,
		Pool:          pool,
		Monitor:       monitor,
		Cleaner:       cleaner,
		Limiter:       transport.NewRateLimiter(transfer.RateLimit, transfer.RateBurst),
		Logger:        log.WithGroup("repo"),
		Budget:        cfg.Cache.MaxBytes,
		BulkThreshold: cfg.Gallery.BulkThreshold,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		ix:      ix,
		monitor: monitor,
		cleaner: cleaner,
		pool:    pool,
		repo:    r,
	}, nil
}

func (a *app) Close() {
	if err := a.ix.Close(); err != nil {
		a.log.Warn("failed to close index", "error", err)
	}
}

func (c *PagesCmd) Run(cliRoot *CLI) error {
	ctx, cancel := types.DefaultSignalNotifySubContext()
	defer cancel()

	app, err := buildApp(ctx, cliRoot)
	if err != nil {
		return err
	}
	defer app.Close()

	pageSize := c.Limit
	if pageSize <= 0 {
		pageSize = app.cfg.Gallery.PageSize
	}

	ctrl := gallery.NewController(app.repo, gallery.WithPageSize(pageSize))
	defer ctrl.Close()
	sub := ctrl.Subscribe()

	ctrl.LoadInitial(ctx)
	shown := 0
	for state := range sub {
		switch state.Phase {
		case gallery.PhaseError:
			return fmt.Errorf("page load failed (%s): %w", types.KindOf(state.Err), state.Err)
		case gallery.PhaseLoaded:
			for _, rec := range state.Images[shown:] {
				cached := " "
				if rec.Cached() {
					cached = "*"
				}
				fmt.Printf("%s %-12s %s\n", cached, rec.ID, rec.Title)
			}
			shown = len(state.Images)

			if state.Page >= c.Pages || !state.HasMore {
				fmt.Printf("\n%d images across %d pages", len(state.Images), state.Page)
				if !state.HasMore {
					fmt.Printf(" (listing exhausted)")
				}
				fmt.Println()
				return nil
			}
			ctrl.LoadMore(ctx)
		}
	}

	return ctx.Err()
}

func (c *FillCmd) Run(cliRoot *CLI) error {
	ctx, cancel := types.DefaultSignalNotifySubContext()
	defer cancel()

	app, err := buildApp(ctx, cliRoot)
	if err != nil {
		return err
	}
	defer app.Close()

	limit := c.Limit
	if limit <= 0 {
		limit = app.cfg.Gallery.BulkThreshold
	}

	bar := progress.NewFill("filling cache")
	filler := gallery.NewFiller(app.repo, limit,
		gallery.WithPageHook(func(count int) {
			bar.Extend(count)
		}),
		gallery.WithImageHook(func(rec types.ImageRecord, err error) {
			bar.Bump()
		}),
	)
	result, err := filler.Run(ctx)
	bar.Done()
	if err != nil {
		return err
	}

	fmt.Printf("Cached %d images (%s) across %d pages", result.Images, result.Bytes, result.Pages)
	if result.Failed > 0 {
		fmt.Printf(", %d failed", result.Failed)
	}
	fmt.Println()

	total, err := app.monitor.Refresh("fill")
	if err != nil {
		return err
	}
	fmt.Printf("Cache size: %s\n", total)
	return nil
}

func (c *SizeCmd) Run(cliRoot *CLI) error {
	ctx, cancel := types.DefaultSignalNotifySubContext()
	defer cancel()

	app, err := buildApp(ctx, cliRoot)
	if err != nil {
		return err
	}
	defer app.Close()

	total, err := app.monitor.Refresh("size")
	if err != nil {
		return err
	}
	fmt.Printf("Cache size: %s (budget %s)\n", total, app.cfg.Cache.MaxBytes)

	if c.History {
		for _, sample := range app.monitor.History() {
			fmt.Printf("%s  %-8s %s (%+d)\n",
				sample.At.Format("15:04:05.000"), sample.Op, sample.Total, sample.Delta)
		}
	}
	return nil
}

func (c *ClearCmd) Run(cliRoot *CLI) error {
	ctx, cancel := types.DefaultSignalNotifySubContext()
	defer cancel()

	app, err := buildApp(ctx, cliRoot)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.repo.ClearCache(); err != nil {
		return err
	}
	fmt.Println("Cache cleared")
	return nil
}

func (c *CleanupCmd) Run(cliRoot *CLI) error {
	ctx, cancel := types.DefaultSignalNotifySubContext()
	defer cancel()

	app, err := buildApp(ctx, cliRoot)
	if err != nil {
		return err
	}
	defer app.Close()

	budget := c.Budget
	if budget == 0 {
		budget = app.cfg.Cache.MaxBytes
	}

	result, err := app.cleaner.Cleanup(budget)
	if err != nil {
		return err
	}
	if result.Skipped {
		fmt.Println("Cleanup already running, skipped")
		return nil
	}

	total, err := app.monitor.Refresh("cleanup")
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d blobs, cache size now %s (budget %s)\n", result.Removed, total, budget)
	return nil
}

func main() {
	var cliRoot CLI
	kctx := kong.Parse(
		&cliRoot,
		kong.Name("pixgrid"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Description("PixGrid - Paged image gallery with a disk-backed blob cache"),
	)
	if err := kctx.Run(&cliRoot); err != nil {
		kctx.FatalIfErrorf(err)
	}
}
