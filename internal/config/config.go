package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/mediaget/media-downloader/internal/fsutil"
)

// Settings keys
const (
	KeyDownloadDir      = "download_dir"
	KeyMaxConcurrency   = "max_concurrency"
	KeyMaxRetries       = "max_retries"
	KeySpeedLimitBytes  = "speed_limit_bytes"
	KeyStallTimeout     = "stall_timeout"
	KeyProgressInterval = "progress_interval"
	KeyStatePath        = "state_path"
	KeyYTDLPPath        = "ytdlp_path"
)

// Default values
const (
	DefaultMaxConcurrency   = 3
	DefaultMaxRetries       = 3
	DefaultStallTimeout     = 30 * time.Second
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultYTDLPPath        = "yt-dlp"

	maxConcurrencyCeiling = 10
)

// Settings is a resolved snapshot of the configuration.
type Settings struct {
	DownloadDir      string
	MaxConcurrency   int
	MaxRetries       int
	SpeedLimitBytes  int64 // 0 means unlimited
	StallTimeout     time.Duration
	ProgressInterval time.Duration
	StatePath        string // empty disables persistence
	YTDLPPath        string
}

// Manager loads settings from file and environment and republishes them when
// the config file changes on disk.
type Manager struct {
	v *viper.Viper
}

// NewManager builds a manager reading mediaget.yaml from the given path (or
// the usual locations when path is empty) with MEDIAGET_* env overrides. A
// missing config file is fine; defaults and env cover everything.
func NewManager(cfgFile string) (*Manager, error) {
	v := viper.New()

	v.SetDefault(KeyDownloadDir, "")
	v.SetDefault(KeyMaxConcurrency, DefaultMaxConcurrency)
	v.SetDefault(KeyMaxRetries, DefaultMaxRetries)
	v.SetDefault(KeySpeedLimitBytes, 0)
	v.SetDefault(KeyStallTimeout, DefaultStallTimeout)
	v.SetDefault(KeyProgressInterval, DefaultProgressInterval)
	v.SetDefault(KeyStatePath, "")
	v.SetDefault(KeyYTDLPPath, DefaultYTDLPPath)

	v.SetEnvPrefix("MEDIAGET")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("mediaget")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/mediaget")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &Manager{v: v}, nil
}

// Settings returns the current resolved configuration.
func (m *Manager) Settings() Settings {
	s := Settings{
		DownloadDir:      m.v.GetString(KeyDownloadDir),
		MaxConcurrency:   clampConcurrency(m.v.GetInt(KeyMaxConcurrency)),
		MaxRetries:       m.v.GetInt(KeyMaxRetries),
		SpeedLimitBytes:  m.v.GetInt64(KeySpeedLimitBytes),
		StallTimeout:     m.v.GetDuration(KeyStallTimeout),
		ProgressInterval: m.v.GetDuration(KeyProgressInterval),
		StatePath:        m.v.GetString(KeyStatePath),
		YTDLPPath:        m.v.GetString(KeyYTDLPPath),
	}
	if s.DownloadDir == "" {
		dir, err := fsutil.DefaultDownloadsDir()
		if err != nil {
			dir = "."
		}
		s.DownloadDir = dir
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.SpeedLimitBytes < 0 {
		s.SpeedLimitBytes = 0
	}
	if s.StallTimeout <= 0 {
		s.StallTimeout = DefaultStallTimeout
	}
	if s.ProgressInterval <= 0 {
		s.ProgressInterval = DefaultProgressInterval
	}
	if s.YTDLPPath == "" {
		s.YTDLPPath = DefaultYTDLPPath
	}
	return s
}

// Watch re-reads the config file whenever it changes and hands the fresh
// snapshot to onChange. Used to apply max_concurrency to a running scheduler.
func (m *Manager) Watch(onChange func(Settings)) {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("Config file changed: %s", e.Name)
		onChange(m.Settings())
	})
	m.v.WatchConfig()
}

// ConfigFileUsed reports which file was loaded, empty when running on
// defaults and environment only.
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

func clampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxConcurrencyCeiling {
		return maxConcurrencyCeiling
	}
	return n
}
