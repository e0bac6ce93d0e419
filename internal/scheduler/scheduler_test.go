package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/justSteve/claudeclaw/internal/agent"
	"github.com/justSteve/claudeclaw/internal/store"
)

type fakeInvoker struct {
	calls []string
	text  string
	err   error
}

func (f *fakeInvoker) Invoke(ctx context.Context, prompt, sessionID string, onProgress func()) (*agent.Result, error) {
	f.calls = append(f.calls, prompt)
	if sessionID != "" {
		return nil, errors.New("scheduled runs must be stateless")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &agent.Result{Text: f.text, SessionID: "ignored"}, nil
}

func newTestService(t *testing.T, inv *fakeInvoker) (*Service, *store.Store, *[]string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	notices := &[]string{}
	notify := func(text string) error {
		*notices = append(*notices, text)
		return nil
	}
	return New(s, inv, notify, time.Second), s, notices
}

func TestNextRun_AdvancesFromWallClock(t *testing.T) {
	from := time.Date(2026, 8, 28, 10, 30, 0, 0, time.Local)

	next, err := NextRun("0 */4 * * *", from)
	if err != nil {
		t.Fatalf("NextRun error: %v", err)
	}
	if next <= from.Unix() {
		t.Errorf("next run %d not after from %d", next, from.Unix())
	}
	want := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local).Unix()
	if next != want {
		t.Errorf("next run = %s, want %s", time.Unix(next, 0), time.Unix(want, 0))
	}
}

func TestNextRun_SixFieldAndDescriptor(t *testing.T) {
	from := time.Now()
	if _, err := NextRun("*/30 * * * * *", from); err != nil {
		t.Errorf("seconds field rejected: %v", err)
	}
	if _, err := NextRun("@hourly", from); err != nil {
		t.Errorf("descriptor rejected: %v", err)
	}
	if _, err := NextRun("not a cron line", from); err == nil {
		t.Error("garbage expression accepted")
	}
}

func TestRunDue_SuccessAdvancesTask(t *testing.T) {
	inv := &fakeInvoker{text: "All quiet on the server."}
	svc, s, notices := newTestService(t, inv)

	now := time.Now().Unix()
	if err := s.CreateTask("t1", "check the server", "0 * * * *", now-5); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}

	svc.RunDue(context.Background())

	if len(inv.calls) != 1 || inv.calls[0] != "check the server" {
		t.Fatalf("invoker calls = %v", inv.calls)
	}

	task, _, _ := s.Task("t1")
	if task.NextRun <= now {
		t.Errorf("nextRun = %d, want advanced past %d", task.NextRun, now)
	}
	if task.LastResult != "All quiet on the server." {
		t.Errorf("lastResult = %q", task.LastResult)
	}
	if task.LastRun == 0 {
		t.Error("lastRun not stamped")
	}

	// Firing notice plus result notice.
	if len(*notices) != 2 {
		t.Fatalf("notices = %v", *notices)
	}
	if (*notices)[1] != "All quiet on the server." {
		t.Errorf("result notice = %q", (*notices)[1])
	}
}

func TestRunDue_FailureLeavesTaskDue(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("model overloaded")}
	svc, s, notices := newTestService(t, inv)

	now := time.Now().Unix()
	if err := s.CreateTask("t1", "check the server", "0 * * * *", now-5); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}

	svc.RunDue(context.Background())

	task, _, _ := s.Task("t1")
	if task.NextRun != now-5 {
		t.Errorf("failed task nextRun moved to %d", task.NextRun)
	}
	if task.LastRun != 0 || task.LastResult != "" {
		t.Errorf("failed task recorded history: %+v", task)
	}

	// Still due, so the next tick retries.
	due, _ := s.DueTasks(time.Now().Unix())
	if len(due) != 1 {
		t.Errorf("failed task no longer due")
	}

	found := false
	for _, n := range *notices {
		if strings.Contains(n, "failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("no failure notice in %v", *notices)
	}
}

func TestRunDue_OneFailureDoesNotAbortSweep(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("down")}
	svc, s, _ := newTestService(t, inv)

	now := time.Now().Unix()
	if err := s.CreateTask("t1", "first task", "0 * * * *", now-10); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	if err := s.CreateTask("t2", "second task", "0 * * * *", now-5); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}

	svc.RunDue(context.Background())

	if len(inv.calls) != 2 {
		t.Errorf("invoker calls = %v, want both tasks attempted", inv.calls)
	}
}

func TestRunDue_EmptyResultPlaceholder(t *testing.T) {
	inv := &fakeInvoker{text: "   \n  "}
	svc, s, notices := newTestService(t, inv)

	now := time.Now().Unix()
	if err := s.CreateTask("t1", "quiet task", "0 * * * *", now-5); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}

	svc.RunDue(context.Background())

	task, _, _ := s.Task("t1")
	if task.LastResult != "Task completed with no output." {
		t.Errorf("lastResult = %q", task.LastResult)
	}
	if (*notices)[len(*notices)-1] != "Task completed with no output." {
		t.Errorf("notices = %v", *notices)
	}
}

func TestRunDue_NotifierFailureIsSwallowed(t *testing.T) {
	inv := &fakeInvoker{text: "done"}
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	svc := New(s, inv, func(string) error { return errors.New("telegram down") }, time.Second)

	now := time.Now().Unix()
	if err := s.CreateTask("t1", "notify me", "0 * * * *", now-5); err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}

	svc.RunDue(context.Background())

	task, _, _ := s.Task("t1")
	if task.NextRun <= now {
		t.Error("notifier failure should not block the task from advancing")
	}
}
