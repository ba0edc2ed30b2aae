package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/mediaget/media-downloader/internal/config"
	"github.com/mediaget/media-downloader/internal/events"
	"github.com/mediaget/media-downloader/internal/httpx"
	"github.com/mediaget/media-downloader/internal/resolve"
	"github.com/mediaget/media-downloader/internal/scheduler"
	"github.com/mediaget/media-downloader/internal/store"
	"github.com/mediaget/media-downloader/internal/transfer"
)

var (
	cfgFile     string
	downloadDir string
	concurrency int
	statePath   string
	speedLimit  int64
	ytdlpPath   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mediaget",
	Short: "Download media from the web with resumable, concurrent transfers",
	Long: `mediaget resolves page URLs into downloadable media variants and
transfers them with bounded concurrency, automatic retries, pause/resume
with partial files kept on disk, and an optional persistent job queue.`,
	SilenceUsage: true,
}

// Execute runs the CLI. Interrupts cancel the command context so running
// downloads are paused rather than killed.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./mediaget.yaml or $HOME/.config/mediaget/mediaget.yaml)")
	rootCmd.PersistentFlags().StringVarP(&downloadDir, "dir", "d", "", "download directory")
	rootCmd.PersistentFlags().IntVarP(&concurrency, "concurrency", "c", 0, "max parallel downloads (1-10)")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "job database path; enables the persistent queue")
	rootCmd.PersistentFlags().Int64Var(&speedLimit, "speed-limit", 0, "total download speed limit in bytes per second (0 = unlimited)")
	rootCmd.PersistentFlags().StringVar(&ytdlpPath, "ytdlp", "", "path to the yt-dlp binary")
}

// app bundles the wired-up components behind the commands.
type app struct {
	settings config.Settings
	manager  *config.Manager
	sched    *scheduler.Scheduler
	store    *store.Store
	bus      *events.Bus
	registry *resolve.Registry
}

// newApp builds the full pipeline: config, resolvers, transfer engine,
// optional persistence and the scheduler, with flags overriding file and
// environment settings.
func newApp() (*app, error) {
	manager, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	settings := manager.Settings()
	if downloadDir != "" {
		settings.DownloadDir = downloadDir
	}
	if concurrency > 0 {
		settings.MaxConcurrency = concurrency
	}
	if statePath != "" {
		settings.StatePath = statePath
	}
	if speedLimit > 0 {
		settings.SpeedLimitBytes = speedLimit
	}
	if ytdlpPath != "" {
		settings.YTDLPPath = ytdlpPath
	}

	client := httpx.NewClient(httpx.DefaultOptions())
	registry := resolve.NewRegistry(
		resolve.NewYTDLPResolver(settings.YTDLPPath),
		resolve.NewDirectResolver(client),
	)

	var limiter *rate.Limiter
	if settings.SpeedLimitBytes > 0 {
		burst := int(settings.SpeedLimitBytes)
		if burst < 256*1024 {
			burst = 256 * 1024
		}
		limiter = rate.NewLimiter(rate.Limit(settings.SpeedLimitBytes), burst)
	}
	engine := transfer.NewEngine(client, transfer.Options{
		ProgressInterval: settings.ProgressInterval,
		StallTimeout:     settings.StallTimeout,
		Limiter:          limiter,
	})

	var st *store.Store
	if settings.StatePath != "" {
		st, err = store.Open(settings.StatePath)
		if err != nil {
			return nil, fmt.Errorf("cannot open job database: %w", err)
		}
	}

	bus := events.NewBus()
	sched := scheduler.New(scheduler.Options{
		MaxConcurrency: settings.MaxConcurrency,
		MaxRetries:     settings.MaxRetries,
		DownloadDir:    settings.DownloadDir,
	}, registry, engine, bus, st)

	manager.Watch(func(s config.Settings) {
		sched.SetConcurrency(s.MaxConcurrency)
	})

	return &app{
		settings: settings,
		manager:  manager,
		sched:    sched,
		store:    st,
		bus:      bus,
		registry: registry,
	}, nil
}

// restore loads persisted jobs into the scheduler; queued ones are admitted
// immediately.
func (a *app) restore() error {
	if a.store == nil {
		return nil
	}
	jobs, err := a.store.LoadAll()
	if err != nil {
		return err
	}
	a.sched.Restore(jobs)
	return nil
}

// close shuts the scheduler down gracefully and releases the store.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.sched.Shutdown(ctx); err != nil {
		fmt.Println("Warning: shutdown timed out, partial state may not be saved")
	}
	if a.store != nil {
		a.store.Close()
	}
}
