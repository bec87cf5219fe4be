package config

import (
	"encoding/json"
)

// Config is the whole scheduler configuration file (JSON or YAML).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Notifier  NotifierConfig  `json:"notifier"`
	Snapshot  SnapshotConfig  `json:"snapshot"`
	Tasks     []TaskConfig    `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls timers and shutdown.
type SchedulerConfig struct {
	// Timezone schedules are evaluated in (IANA name). Default UTC.
	Timezone string `json:"timezone,omitempty"`
	// DrainTimeout bounds how long shutdown waits for in-flight bodies.
	DrainTimeout string `json:"drain_timeout,omitempty"`
}

// StorageConfig selects the cache backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/cache.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig selects how notifications leave the process.
// Secret is never logged.
type NotifierConfig struct {
	Driver     string `json:"driver"`
	URL        string `json:"url,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	Secret     string `json:"secret,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	ChunkSize  int    `json:"chunk_size,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// SnapshotConfig configures the shared snapshot refresh job.
type SnapshotConfig struct {
	ID           string   `json:"id,omitempty"` // default "main-service"
	Schedule     string   `json:"schedule"`
	PriceURL     string   `json:"price_url"`
	Tokens       []string `json:"tokens"`
	PrimaryToken string   `json:"primary_token,omitempty"`
	MembersURL   string   `json:"members_url"`
	MembersToken string   `json:"members_token,omitempty"`
	Timeout      string   `json:"timeout,omitempty"`
}

// TaskConfig registers one task runner.
type TaskConfig struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Schedule     string          `json:"schedule"`
	Targets      []string        `json:"targets"`
	TargetsBatch int             `json:"targets_batch,omitempty"`
	MembersBatch int             `json:"members_batch,omitempty"`
	Options      json.RawMessage `json:"options,omitempty"`
}
