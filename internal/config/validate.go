package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the structure of cfg. Schedule strings are checked by the
// scheduler through the manager's validator hook.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("defaults.backoff", cfg.Defaults.Backoff); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("defaults.timeout", cfg.Defaults.Timeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range []struct{ k, v string }{
		{"status.read_timeout", cfg.Status.ReadTimeout},
		{"status.write_timeout", cfg.Status.WriteTimeout},
		{"status.idle_timeout", cfg.Status.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.k, f.v); err != nil {
			errs = append(errs, err)
		}
	}

	seen := map[string]bool{}
	for i, t := range cfg.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", path))
		} else {
			path = fmt.Sprintf("tasks[%s]", name)
			if seen[name] {
				errs = append(errs, fmt.Errorf("%s: duplicate name", path))
			}
			seen[name] = true
		}
		if strings.TrimSpace(t.Schedule) == "" {
			errs = append(errs, fmt.Errorf("%s: schedule is required", path))
		}
		switch strings.ToLower(strings.TrimSpace(t.Kind)) {
		case KindExec:
			if len(t.Command) == 0 || strings.TrimSpace(t.Command[0]) == "" {
				errs = append(errs, fmt.Errorf("%s: command is required for exec", path))
			}
		case KindHTTP:
			if u, err := url.Parse(t.URL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("%s: valid url is required for http", path))
			}
		case KindSystemd:
			if strings.TrimSpace(t.Unit) == "" {
				errs = append(errs, fmt.Errorf("%s: unit is required for systemd", path))
			}
			switch strings.ToLower(strings.TrimSpace(t.Action)) {
			case "", "start", "stop", "restart":
			default:
				errs = append(errs, fmt.Errorf("%s: unknown action %q", path, t.Action))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown kind %q (use exec, http or systemd)", path, t.Kind))
		}
		if t.RetryLimit < 0 {
			errs = append(errs, fmt.Errorf("%s: retry_limit must be >= 0", path))
		}
		for _, f := range []struct{ k, v string }{{"timeout", t.Timeout}, {"backoff", t.Backoff}} {
			if _, err := ParseDurationField(path+"."+f.k, f.v); err != nil {
				errs = append(errs, err)
			}
		}
		for j, p := range t.Prerequisites {
			pp := fmt.Sprintf("%s.prerequisites[%d]", path, j)
			if len(p.Command) == 0 || strings.TrimSpace(p.Command[0]) == "" {
				errs = append(errs, fmt.Errorf("%s: command is required", pp))
			}
			if _, err := ParseDurationField(pp+".timeout", p.Timeout); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
