package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Scheduled task states.
const (
	TaskActive = "active"
	TaskPaused = "paused"
)

// lastResultMax bounds the stored task output.
const lastResultMax = 500

// ScheduledTask is an autonomous recurring prompt fired by the scheduler.
type ScheduledTask struct {
	ID         string
	Prompt     string
	Schedule   string
	NextRun    int64
	LastRun    int64 // zero when the task has never run
	LastResult string
	Status     string
	CreatedAt  int64
}

// CreateTask inserts a new active task with a precomputed first firing time.
func (s *Store) CreateTask(id, prompt, schedule string, nextRun int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO scheduled_tasks (id, prompt, schedule, next_run, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, prompt, schedule, nextRun, TaskActive, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// DueTasks returns active tasks whose next_run is at or before now,
// soonest first.
func (s *Store) DueTasks(now int64) ([]ScheduledTask, error) {
	rows, err := s.db.Query(`
		SELECT id, prompt, schedule, next_run, last_run, last_result, status, created_at
		FROM scheduled_tasks
		WHERE status = ? AND next_run <= ?
		ORDER BY next_run
	`, TaskActive, now)
	if err != nil {
		return nil, fmt.Errorf("due tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Tasks returns every scheduled task, newest first.
func (s *Store) Tasks() ([]ScheduledTask, error) {
	rows, err := s.db.Query(`
		SELECT id, prompt, schedule, next_run, last_run, last_result, status, created_at
		FROM scheduled_tasks
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Task returns a single task by id.
func (s *Store) Task(id string) (*ScheduledTask, bool, error) {
	rows, err := s.db.Query(`
		SELECT id, prompt, schedule, next_run, last_run, last_result, status, created_at
		FROM scheduled_tasks
		WHERE id = ?
	`, id)
	if err != nil {
		return nil, false, fmt.Errorf("get task: %w", err)
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, false, err
	}
	if len(tasks) == 0 {
		return nil, false, nil
	}
	return &tasks[0], true, nil
}

// MarkTaskRun records a completed firing: last_run, the advanced next_run,
// and the truncated result, in one statement.
func (s *Store) MarkTaskRun(id string, nextRun int64, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(result) > lastResultMax {
		result = result[:lastResultMax]
	}
	_, err := s.db.Exec(`
		UPDATE scheduled_tasks SET last_run = ?, next_run = ?, last_result = ? WHERE id = ?
	`, time.Now().Unix(), nextRun, result, id)
	if err != nil {
		return fmt.Errorf("mark task run: %w", err)
	}
	return nil
}

// SetTaskNextRun re-anchors a task's next firing time without touching
// last_run or last_result. Used when resuming a paused task.
func (s *Store) SetTaskNextRun(id string, nextRun int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`UPDATE scheduled_tasks SET next_run = ? WHERE id = ?`, nextRun, id); err != nil {
		return fmt.Errorf("set task next run: %w", err)
	}
	return nil
}

func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM scheduled_tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *Store) PauseTask(id string) error {
	return s.setTaskStatus(id, TaskPaused)
}

func (s *Store) ResumeTask(id string) error {
	return s.setTaskStatus(id, TaskActive)
}

func (s *Store) setTaskStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`UPDATE scheduled_tasks SET status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	return nil
}

func scanTasks(rows *sql.Rows) ([]ScheduledTask, error) {
	result := make([]ScheduledTask, 0)
	for rows.Next() {
		var t ScheduledTask
		var lastRun sql.NullInt64
		var lastResult sql.NullString
		if err := rows.Scan(&t.ID, &t.Prompt, &t.Schedule, &t.NextRun, &lastRun, &lastResult, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.LastRun = lastRun.Int64
		t.LastResult = lastResult.String
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return result, nil
}
