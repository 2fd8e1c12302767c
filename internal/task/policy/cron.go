package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bgtask/internal/task/dispatch"
)

// CronParser accepts 5- or 6-field expressions and descriptors like "@hourly".
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cron fires on each activation of a cron expression. Activations missed while
// the work was running are skipped.
type Cron struct {
	mu    sync.Mutex
	expr  string
	sched cron.Schedule
	loc   *time.Location
	next  time.Time
}

func NewCron(expr string, loc *time.Location) (*Cron, error) {
	expr = strings.TrimSpace(expr)
	sched, err := CronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Cron{expr: expr, sched: sched, loc: loc}, nil
}

func (c *Cron) Expr() string { return c.expr }

func (c *Cron) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

func (c *Cron) Begin(now time.Time) {
	c.mu.Lock()
	c.next = c.sched.Next(now.In(c.loc))
	c.mu.Unlock()
}

func (c *Cron) Poll(now time.Time) dispatch.Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	// robfig returns the zero time when nothing matches within five years.
	if c.next.IsZero() {
		return dispatch.Step{Done: true}
	}
	if now.Before(c.next) {
		return dispatch.Step{Wait: c.next.Sub(now)}
	}
	return dispatch.Step{Fire: true, Due: c.next}
}

func (c *Cron) Fired(_ dispatch.Step, now time.Time) {
	c.mu.Lock()
	c.next = c.sched.Next(now.In(c.loc))
	c.mu.Unlock()
}
