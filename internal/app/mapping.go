package app

import (
	"strings"
	"time"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/config"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/notify"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/storage"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

const defaultDrainTimeout = 30 * time.Second

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notify.Config, error) {
	nc := cfg.Notifier
	timeout, err := config.ParseDurationOrDefault("notifier.timeout", nc.Timeout, 10*time.Second)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Driver:     nc.Driver,
		URL:        strings.TrimRight(strings.TrimSpace(nc.URL), "/"),
		ProjectID:  nc.ProjectID,
		Secret:     nc.Secret,
		RatePerSec: nc.RatePerSec,
		ChunkSize:  nc.ChunkSize,
		RetryMax:   nc.RetryMax,
		Timeout:    timeout,
	}, nil
}

func drainTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("scheduler.drain_timeout", cfg.Scheduler.DrainTimeout, defaultDrainTimeout)
}
