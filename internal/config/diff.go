package config

import (
	"sort"
	"strings"

	logx "bgtask/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists top-level sections that changed.
	Sections []string
	// Fields are log attributes describing the new values.
	Fields []logx.Field
	// Tasks lists task names that were added, removed or modified, sorted.
	// A change to defaults or timezone marks every task.
	Tasks []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 && len(c.Tasks) == 0 }

// SummarizeConfigChange compares old and new. Either may be nil.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if hashJSON(oldCfg.Logging) != hashJSON(newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Pool != newCfg.Pool {
		ch.Sections = append(ch.Sections, "pool")
		ch.Fields = append(ch.Fields,
			logx.Int("pool.workers", newCfg.Pool.Workers),
			logx.Int("pool.queue_size", newCfg.Pool.QueueSize),
		)
	}
	if hashJSON(oldCfg.Storage) != hashJSON(newCfg.Storage) {
		ch.Sections = append(ch.Sections, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		ch.Fields = append(ch.Fields, logx.String("storage.driver", driver))
	}
	if oldCfg.Status != newCfg.Status {
		ch.Sections = append(ch.Sections, "status")
		ch.Fields = append(ch.Fields,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", newCfg.Status.Addr),
		)
	}

	allTasks := false
	if oldCfg.Defaults != newCfg.Defaults {
		ch.Sections = append(ch.Sections, "defaults")
		allTasks = true
	}
	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		ch.Sections = append(ch.Sections, "timezone")
		ch.Fields = append(ch.Fields, logx.String("timezone", newCfg.Timezone))
		allTasks = true
	}

	oldTasks := taskHashes(oldCfg)
	newTasks := taskHashes(newCfg)
	changed := map[string]bool{}
	for name, h := range newTasks {
		if allTasks || oldTasks[name] != h {
			changed[name] = true
		}
	}
	for name := range oldTasks {
		if _, ok := newTasks[name]; !ok {
			changed[name] = true
		}
	}
	if len(changed) > 0 {
		ch.Sections = append(ch.Sections, "tasks")
		for name := range changed {
			ch.Tasks = append(ch.Tasks, name)
		}
		sort.Strings(ch.Tasks)
		ch.Fields = append(ch.Fields,
			logx.Int("tasks.total", len(newCfg.Tasks)),
			logx.Int("tasks.changed", len(ch.Tasks)),
		)
	}
	return ch
}

func taskHashes(cfg *Config) map[string]uint64 {
	out := make(map[string]uint64, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		out[strings.TrimSpace(t.Name)] = hashJSON(t)
	}
	return out
}
