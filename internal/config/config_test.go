package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: info
  console: true
scheduler:
  timezone: UTC
  drain_timeout: 20s
storage:
  driver: sqlite
  path: ./data/cache.db
notifier:
  driver: http
  url: https://notify.example.com/v1
  project_id: proj
  secret: s3cret
snapshot:
  schedule: "0 */5 * * * *"
  price_url: https://prices.example.com/simple/price
  tokens: [pancakeswap-token, binancecoin]
  primary_token: pancakeswap-token
  members_url: https://notify.example.com/v1/proj/subscribers
tasks:
  - id: price-alert
    kind: pricealert
    schedule: "0 */10 * * * *"
    targets: ["56", "1"]
    targets_batch: 1
    members_batch: 500
    options:
      tokens: {"56": binancecoin, "1": pancakeswap-token}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeFile(t, t.TempDir(), "scheduler.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Snapshot.PrimaryToken != "pancakeswap-token" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Tasks) != 1 || cfg.Tasks[0].TargetsBatch != 1 || !strings.Contains(string(cfg.Tasks[0].Options), `"56":"binancecoin"`) {
		t.Fatalf("unexpected tasks %+v", cfg.Tasks)
	}
	if cfg.SnapshotID() != "main-service" {
		t.Fatalf("SnapshotID = %q", cfg.SnapshotID())
	}
	if m.Get() != cfg {
		t.Fatalf("Load must commit the config")
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	t.Parallel()

	cfg, err := NewManager(filepath.Join("..", "..", "config.example.yaml")).Load()
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if len(cfg.Tasks) != 2 || cfg.Tasks[1].Kind != "roundwatch" {
		t.Fatalf("unexpected example tasks %+v", cfg.Tasks)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, path, body string
	}{
		{"unknown json field", "c.json", `{"snapshot":{"schedule":"@hourly"},"telegram":{}}`},
		{"unknown yaml field", "c.yaml", "logging:\n  colour: true\n"},
		{"trailing json", "c.json", `{} {}`},
	}
	for _, tt := range tests {
		if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		cfg, err := Decode("c.yaml", []byte(sampleYAML))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		return cfg
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("sample should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"bad drain", func(c *Config) { c.Scheduler.DrainTimeout = "soon" }, "scheduler.drain_timeout"},
		{"sqlite no path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"http no url", func(c *Config) { c.Notifier.URL = "" }, "notifier.url"},
		{"no snapshot schedule", func(c *Config) { c.Snapshot.Schedule = "" }, "snapshot.schedule"},
		{"primary not in tokens", func(c *Config) { c.Snapshot.PrimaryToken = "eth" }, "primary_token"},
		{"duplicate task", func(c *Config) { c.Tasks = append(c.Tasks, c.Tasks[0]) }, "used twice"},
		{"task collides with snapshot", func(c *Config) { c.Tasks[0].ID = "main-service" }, "used twice"},
		{"task no targets", func(c *Config) { c.Tasks[0].Targets = nil }, "targets"},
		{"task whitespace id", func(c *Config) { c.Tasks[0].ID = "price alert" }, "whitespace"},
	}
	for _, tt := range tests {
		cfg := base()
		tt.mutate(cfg)
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: Validate = %v, want mention of %q", tt.name, err, tt.want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg, _ := Decode("c.yaml", []byte(sampleYAML))
	newCfg, _ := Decode("c.yaml", []byte(sampleYAML))
	newCfg.Logging.Level = "debug"
	newCfg.Snapshot.Schedule = "0 */2 * * * *"
	newCfg.Tasks[0].Schedule = "30 0 12 * * *"
	newCfg.Tasks = append(newCfg.Tasks, TaskConfig{ID: "lottery", Kind: "roundwatch", Schedule: "@hourly", Targets: []string{"56"}})

	ch, _ := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(ch.Sections, ",") != "logging,snapshot,tasks" {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if ch.Rescheduled["main-service"] != "0 */2 * * * *" || ch.Rescheduled["price-alert"] != "30 0 12 * * *" {
		t.Fatalf("rescheduled = %v", ch.Rescheduled)
	}
	if len(ch.Added) != 1 || ch.Added[0] != "lottery" || len(ch.Removed) != 0 {
		t.Fatalf("added=%v removed=%v", ch.Added, ch.Removed)
	}

	same, _ := SummarizeConfigChange(oldCfg, oldCfg)
	if len(same.Sections) != 0 || len(same.Rescheduled) != 0 {
		t.Fatalf("identical configs reported changes: %+v", same)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationOrDefault("x", "", 2*time.Hour); err != nil || d != 2*time.Hour {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "90s", time.Hour); err != nil || d != 90*time.Second {
		t.Fatalf("explicit = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative duration must fail")
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "scheduler.yaml", sampleYAML)
	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	// invalid config is rejected and never published
	writeFile(t, dir, "scheduler.yaml", strings.Replace(sampleYAML, "members_url:", "members_url_typo:", 1))
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}

	writeFile(t, dir, "scheduler.yaml", strings.Replace(sampleYAML, "level: info", "level: debug", 1))
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("config change not published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("published config not committed")
	}
}
