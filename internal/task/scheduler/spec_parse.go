package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bgtask/internal/task/policy"
)

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
	SpecAt
)

func (k SpecKind) String() string {
	switch k {
	case SpecCron:
		return "cron"
	case SpecInterval:
		return "interval"
	case SpecAt:
		return "at"
	default:
		return "unknown"
	}
}

// defaultRecurrence applies to "at:" schedules without an explicit "/<recurrence>".
const defaultRecurrence = 24 * time.Hour

// TimeOfDay is a wall-clock fire time.
type TimeOfDay struct {
	Hour, Minute, Second int
}

func (t TimeOfDay) String() string {
	if t.Second == 0 {
		return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
	}
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// ParsedSpec represents a parsed schedule string.
//
// Supported forms:
//   - Cron (crontab.guru-style): "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - Fire times: "at:08:00,20:00" (daily), "at:06:30:15/12h", "at:09:00/0" (once)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
//   - "at:" lists wall-clock fire times with an optional recurrence
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	At     []TimeOfDay
	Recur  time.Duration // SpecAt only; 0 means each time fires once
	Source string        // "cron" | "duration" | "hhmm" | "at"
}

var (
	reHHMM  = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reClock = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)
)

// ParseSchedule parses a schedule string into a cron expression, an interval
// duration or a list of fire times.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return parseCron(expr)
	case strings.HasPrefix(low, "interval:"):
		return intervalSpec(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return intervalSpec(s[len("every:"):])
	case strings.HasPrefix(low, "at:"):
		return parseAt(s[len("at:"):])
	}

	// any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}

	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', duration like '55m', or at:08:00,20:00)",
		raw,
	)
}

func parseCron(expr string) (ParsedSpec, error) {
	if _, err := policy.CronParser.Parse(expr); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
}

func intervalSpec(v string) (ParsedSpec, error) {
	d, src, err := parseInterval(v)
	if err != nil {
		return ParsedSpec{}, err
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
}

// parseAt handles "HH:MM[:SS][,HH:MM[:SS]...][/<recurrence>]".
func parseAt(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	recur := defaultRecurrence
	if i := strings.LastIndex(v, "/"); i >= 0 {
		r := strings.TrimSpace(v[i+1:])
		v = strings.TrimSpace(v[:i])
		if r == "0" {
			recur = 0
		} else {
			d, _, err := parseInterval(r)
			if err != nil {
				return ParsedSpec{}, fmt.Errorf("at recurrence: %w", err)
			}
			recur = d
		}
	}
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("at least one fire time required after 'at:'")
	}

	var times []TimeOfDay
	for _, part := range strings.Split(v, ",") {
		tod, err := parseClock(part)
		if err != nil {
			return ParsedSpec{}, err
		}
		times = append(times, tod)
	}
	return ParsedSpec{Kind: SpecAt, At: times, Recur: recur, Source: "at"}, nil
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		return d, "hhmm", err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// parseClock parses a wall-clock time "HH:MM" or "HH:MM:SS".
func parseClock(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	m := reClock.FindStringSubmatch(s)
	if m == nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM or HH:MM:SS", s)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	var sec int
	if m[3] != "" {
		sec, _ = strconv.Atoi(m[3])
	}
	if h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	if mi > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	if sec > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid second in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: mi, Second: sec}, nil
}
