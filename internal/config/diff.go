package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	Sections []string
	// Rescheduled maps a job identity to its new schedule.
	Rescheduled map[string]string
	// Added and Removed are task ids that need a restart to take effect.
	Added   []string
	Removed []string
}

// SummarizeConfigChange compares two configs. The returned fields are safe
// to log (secrets are reported only as set/unset).
func SummarizeConfigChange(oldCfg, newCfg *Config) (Change, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	ch := Change{Rescheduled: map[string]string{}}
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		ch.Sections = append(ch.Sections, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		ch.Sections = append(ch.Sections, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		ch.Sections = append(ch.Sections, "notifier")
		attrs = append(attrs,
			logx.String("notifier.driver", newCfg.Notifier.Driver),
			logx.Bool("notifier.secret_set", strings.TrimSpace(newCfg.Notifier.Secret) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Snapshot, newCfg.Snapshot) {
		ch.Sections = append(ch.Sections, "snapshot")
		if oldCfg.Snapshot.Schedule != newCfg.Snapshot.Schedule {
			ch.Rescheduled[newCfg.SnapshotID()] = newCfg.Snapshot.Schedule
		}
	}

	oldTasks := indexTasks(oldCfg.Tasks)
	newTasks := indexTasks(newCfg.Tasks)
	for id, nt := range newTasks {
		ot, ok := oldTasks[id]
		if !ok {
			ch.Added = append(ch.Added, id)
			continue
		}
		if ot.Schedule != nt.Schedule {
			ch.Rescheduled[id] = nt.Schedule
		}
		if !sameTask(ot, nt) && !contains(ch.Sections, "tasks") {
			ch.Sections = append(ch.Sections, "tasks")
		}
	}
	for id := range oldTasks {
		if _, ok := newTasks[id]; !ok {
			ch.Removed = append(ch.Removed, id)
		}
	}
	if (len(ch.Added) > 0 || len(ch.Removed) > 0) && !contains(ch.Sections, "tasks") {
		ch.Sections = append(ch.Sections, "tasks")
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.Added)
	sort.Strings(ch.Removed)
	if len(ch.Rescheduled) > 0 {
		attrs = append(attrs, logx.Int("rescheduled", len(ch.Rescheduled)))
	}
	return ch, attrs
}

func indexTasks(list []TaskConfig) map[string]TaskConfig {
	out := make(map[string]TaskConfig, len(list))
	for _, t := range list {
		out[t.ID] = t
	}
	return out
}

func sameTask(a, b TaskConfig) bool {
	if optionsFingerprint(a.Options) != optionsFingerprint(b.Options) {
		return false
	}
	a.Options, b.Options = nil, nil
	return reflect.DeepEqual(a, b)
}
