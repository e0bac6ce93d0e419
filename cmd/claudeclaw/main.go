package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/justSteve/claudeclaw/internal/config"
	"github.com/justSteve/claudeclaw/internal/gateway"
	"github.com/justSteve/claudeclaw/internal/memory"
	"github.com/justSteve/claudeclaw/internal/scheduler"
	"github.com/justSteve/claudeclaw/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "claudeclaw",
	Short: "claudeclaw - Telegram bridge to a Claude agent with durable memory",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the bridge (Telegram + memory + scheduler)",
	RunE:  runGateway,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled tasks",
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create \"prompt\" \"cron expression\"",
	Short: "Create a scheduled task",
	Args:  cobra.ExactArgs(2),
	RunE:  runScheduleCreate,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled tasks",
	RunE:  runScheduleList,
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a scheduled task",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDelete,
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Pause a scheduled task",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedulePause,
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a paused task",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleResume,
}

var memoryCmd = &cobra.Command{
	Use:   "memory <chat-id>",
	Short: "Show recent memories for a chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemory,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run memory decay and log pruning once",
	RunE:  runSweep,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show claudeclaw status",
	RunE:  runStatus,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

func init() {
	scheduleCmd.AddCommand(scheduleCreateCmd, scheduleListCmd, scheduleDeleteCmd, schedulePauseCmd, scheduleResumeCmd)
	rootCmd.AddCommand(gatewayCmd, scheduleCmd, memoryCmd, sweepCmd, statusCmd, onboardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore() (*store.Store, *config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, cfg, nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(context.Background())
}

func runScheduleCreate(cmd *cobra.Command, args []string) error {
	prompt, schedule := args[0], args[1]

	nextRun, err := scheduler.NextRun(schedule, time.Now())
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}

	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	id := uuid.NewString()[:8]
	if err := st.CreateTask(id, prompt, schedule, nextRun); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	fmt.Printf("Created task %s\n", id)
	fmt.Printf("  Prompt:   %s\n", prompt)
	fmt.Printf("  Schedule: %s\n", schedule)
	fmt.Printf("  Next run: %s\n", time.Unix(nextRun, 0).Format("2006-01-02 15:04:05"))
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.Tasks()
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No scheduled tasks.")
		return nil
	}

	for _, t := range tasks {
		fmt.Printf("%s [%s]\n", t.ID, t.Status)
		fmt.Printf("  Prompt:   %s\n", t.Prompt)
		fmt.Printf("  Schedule: %s\n", t.Schedule)
		fmt.Printf("  Next run: %s\n", time.Unix(t.NextRun, 0).Format("2006-01-02 15:04:05"))
		if t.LastRun != 0 {
			fmt.Printf("  Last run: %s\n", time.Unix(t.LastRun, 0).Format("2006-01-02 15:04:05"))
		}
		if t.LastResult != "" {
			fmt.Printf("  Last result: %s\n", firstLine(t.LastResult))
		}
	}
	return nil
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeleteTask(args[0]); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	fmt.Printf("Deleted task %s\n", args[0])
	return nil
}

func runSchedulePause(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.PauseTask(args[0]); err != nil {
		return fmt.Errorf("pause task: %w", err)
	}
	fmt.Printf("Paused task %s\n", args[0])
	return nil
}

func runScheduleResume(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	task, ok, err := st.Task(args[0])
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if !ok {
		return fmt.Errorf("no task with id %s", args[0])
	}

	// Re-anchor the next run so a long pause does not fire immediately.
	nextRun, err := scheduler.NextRun(task.Schedule, time.Now())
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", task.Schedule, err)
	}
	if err := st.SetTaskNextRun(task.ID, nextRun); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if err := st.ResumeTask(task.ID); err != nil {
		return fmt.Errorf("resume task: %w", err)
	}
	fmt.Printf("Resumed task %s, next run %s\n", task.ID, time.Unix(nextRun, 0).Format("2006-01-02 15:04:05"))
	return nil
}

func runMemory(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	chatID := args[0]
	mems, err := st.RecentMemories(chatID, 20)
	if err != nil {
		return fmt.Errorf("read memories: %w", err)
	}

	count, err := st.MemoryCount(chatID)
	if err != nil {
		return fmt.Errorf("count memories: %w", err)
	}
	fmt.Printf("Chat %s: %d memories\n", chatID, count)
	for _, m := range mems {
		fmt.Printf("  [%s %.2f] %s\n", m.Sector, m.Salience, m.Content)
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	memory.NewEngine(st).RunSweep()
	fmt.Println("Sweep complete.")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Store: %s\n", cfg.Store.Path)
	fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Context limit: %d tokens\n", cfg.Agent.ContextLimit)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v allowedChat=%s\n", cfg.Telegram.Enabled, orUnset(cfg.Telegram.AllowedChatID))

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	tasks, err := st.Tasks()
	if err == nil {
		active := 0
		for _, t := range tasks {
			if t.Status == store.TaskActive {
				active++
			}
		}
		fmt.Printf("Tasks: %d (%d active)\n", len(tasks), active)
	}
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Agent.Workspace, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	st.Close()
	fmt.Printf("Store ready: %s\n", cfg.Store.Path)

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and Telegram token\n", cfgPath)
	fmt.Println("  2. Or set CLAUDECLAW_API_KEY and CLAUDECLAW_TELEGRAM_TOKEN")
	fmt.Println("  3. Run 'claudeclaw gateway', message the bot, and claim it with /chatid")
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}
