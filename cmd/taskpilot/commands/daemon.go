package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/sunward/taskpilot/internal/config"
	"github.com/sunward/taskpilot/internal/db"
	"github.com/sunward/taskpilot/internal/logging"
	"github.com/sunward/taskpilot/internal/sweep"
	"github.com/sunward/taskpilot/internal/task"
)

const pidFileName = "taskpilot.pid"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage background daemon",
	Long: `Start, stop, or check status of the taskpilot background daemon.

The daemon periodically recovers tasks stuck in ai_processing (from a
crashed worker) and reloads the log level when the config file changes.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start background daemon",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop background daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	RunE:  runDaemonStatus,
}

var daemonForegroundFlag bool

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForegroundFlag, "foreground", "f", false, "Run in foreground (don't daemonize)")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// pidFilePath returns the path to the PID file.
func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "taskpilot", pidFileName)
}

// writePidFile writes the current process PID to the PID file.
func writePidFile() error {
	if err := os.MkdirAll(filepath.Dir(pidFilePath()), 0755); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

// readPidFile reads the PID from the PID file.
func readPidFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; send signal 0 to check if alive
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// isDaemonRunning checks if the daemon is currently running.
func isDaemonRunning() (bool, int) {
	pid, err := readPidFile()
	if err != nil {
		return false, 0
	}
	return isProcessRunning(pid), pid
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if running, pid := isDaemonRunning(); running {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	cfg, err := config.LoadFrom(configPathFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if daemonForegroundFlag {
		return runDaemonLoop(cfg)
	}

	// Daemonize: start a new process with --foreground flag
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable: %w", err)
	}

	cmdArgs := []string{"daemon", "start", "--foreground"}
	if configPathFlag != "" {
		cmdArgs = append(cmdArgs, "--config", configPathFlag)
	}
	child := exec.Command(executable, cmdArgs...)
	child.Stdout = nil
	child.Stderr = nil
	child.Stdin = nil
	child.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	fmt.Printf("daemon started (pid %d)\n", child.Process.Pid)
	return nil
}

func runDaemonLoop(cfg *config.Config) error {
	if err := logging.Init(logging.Config{
		Level:         cfg.Log.Level,
		Path:          cfg.Log.Path,
		Format:        cfg.Log.Format,
		RetentionDays: cfg.Log.RetentionDays,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("daemon")

	if err := writePidFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = os.Remove(pidFilePath()) }()

	log.Info("daemon starting")

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = database.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received signal %v, shutting down", sig)
		cancel()
	}()

	watchConfig(log)

	sweeper := sweep.New(task.NewSQLiteStore(database), cfg.Sweep.ProcessingTTL)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Sweep.Cron, func() {
		if _, err := sweeper.Run(ctx); err != nil {
			log.Errorf("sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep cron %q: %w", cfg.Sweep.Cron, err)
	}
	scheduler.Start()

	log.InfoCtx("daemon running", map[string]any{
		"sweep_cron": cfg.Sweep.Cron,
		"sweep_ttl":  cfg.Sweep.ProcessingTTL.String(),
	})

	<-ctx.Done()

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		log.Warn("sweep still running at shutdown, abandoning")
	}

	log.Info("daemon stopped")
	return nil
}

// watchConfig reloads the log level when the config file changes on disk.
// Other settings need a daemon restart.
func watchConfig(log *logging.Logger) {
	v := config.Viper(configPathFlag)
	if err := v.ReadInConfig(); err != nil {
		// No file to watch; env and defaults only.
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		level := v.GetString("log.level")
		if err := logging.SetLevel(level); err != nil {
			log.Warnf("config change: %v", err)
			return
		}
		log.InfoCtx("config reloaded", map[string]any{
			"file":      e.Name,
			"log_level": level,
		})
	})
	v.WatchConfig()
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Printf("daemon stopped (pid %d)\n", pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		fmt.Println("daemon is not running")
		return nil
	}
	fmt.Printf("daemon running (pid %d)\n", pid)
	return nil
}
