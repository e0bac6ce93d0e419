// Package scheduler fires scheduled prompts against the agent runtime on
// their own timer, independent of the message path.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/justSteve/claudeclaw/internal/agent"
	"github.com/justSteve/claudeclaw/internal/store"
)

// DefaultPollInterval between due-task sweeps.
const DefaultPollInterval = 60 * time.Second

// cronParser accepts standard five-field expressions plus an optional
// leading seconds field.
var cronParser = rcron.NewParser(
	rcron.SecondOptional | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

// NextRun evaluates a cron expression against "from" and returns the next
// firing time as unix seconds. Always computed from wall clock, never from
// the previous next_run, so a process that slept through occurrences fires
// once and resynchronizes instead of replaying a backlog.
func NextRun(expr string, from time.Time) (int64, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return sched.Next(from).Unix(), nil
}

// Notifier delivers task output to the operator. Best effort: the
// scheduler logs and swallows its failures.
type Notifier func(text string) error

// Service polls the store for due tasks and runs them sequentially, so
// concurrent firings never share agent rate limits.
type Service struct {
	store    *store.Store
	invoker  agent.Invoker
	notify   Notifier
	interval time.Duration
}

func New(s *store.Store, invoker agent.Invoker, notify Notifier, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Service{store: s, invoker: invoker, notify: notify, interval: interval}
}

// Start runs the polling loop until ctx is done.
func (s *Service) Start(ctx context.Context) {
	log.Printf("[scheduler] started (checking every %s)", s.interval)
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunDue(ctx)
			case <-ctx.Done():
				log.Printf("[scheduler] stopped")
				return
			}
		}
	}()
}

// RunDue fires every currently due task. One task's failure never aborts
// the sweep for the others.
func (s *Service) RunDue(ctx context.Context) {
	tasks, err := s.store.DueTasks(time.Now().Unix())
	if err != nil {
		log.Printf("[scheduler] due-task query warning: %v", err)
		return
	}
	if len(tasks) == 0 {
		return
	}
	log.Printf("[scheduler] running %d due task(s)", len(tasks))

	for _, task := range tasks {
		s.runTask(ctx, task)
	}
}

func (s *Service) runTask(ctx context.Context, task store.ScheduledTask) {
	log.Printf("[scheduler] firing task %s: %s", task.ID, truncate(task.Prompt, 60))

	s.sendNotice(fmt.Sprintf("Scheduled task running: %q", truncate(task.Prompt, 80)))

	// Deliberately stateless: no session, no progress callback.
	result, err := s.invoker.Invoke(ctx, task.Prompt, "", nil)
	if err != nil {
		log.Printf("[scheduler] task %s failed: %v", task.ID, err)
		// next_run stays untouched, so the task is due again on the next
		// tick and retries until it succeeds or the operator pauses it.
		s.sendNotice(fmt.Sprintf("Task failed: %q - check logs.", truncate(task.Prompt, 60)))
		return
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		text = "Task completed with no output."
	}
	s.sendNotice(text)

	nextRun, err := NextRun(task.Schedule, time.Now())
	if err != nil {
		// A schedule that no longer parses cannot advance; surface it and
		// leave the task for the operator.
		log.Printf("[scheduler] task %s has invalid schedule %q: %v", task.ID, task.Schedule, err)
		s.sendNotice(fmt.Sprintf("Task %s has an invalid schedule (%q); pause or delete it.", task.ID, task.Schedule))
		return
	}
	if err := s.store.MarkTaskRun(task.ID, nextRun, text); err != nil {
		log.Printf("[scheduler] task %s update warning: %v", task.ID, err)
		return
	}
	log.Printf("[scheduler] task %s complete, next run %s", task.ID, time.Unix(nextRun, 0).Format(time.RFC3339))
}

func (s *Service) sendNotice(text string) {
	if s.notify == nil {
		return
	}
	if err := s.notify(text); err != nil {
		log.Printf("[scheduler] notify warning: %v", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
