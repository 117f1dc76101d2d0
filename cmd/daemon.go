package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/cli"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/config"
	"github.com/jovantay521/SC4079-aflplusplus-dashboard/internal/daemon"

	"github.com/spf13/cobra"
)

var (
	flagDaemonAddr         string
	flagDaemonInterval     time.Duration
	flagDaemonDetach       bool
	flagDaemonPIDFile      string
	flagDaemonLogFile      string
	flagDaemonEventsBuffer int
	flagDaemonChild        bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Poll the campaign in the background and serve it over HTTP/SSE",
	RunE:  runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon process and API status",
	RunE:  runDaemonStatus,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

func init() {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	f := daemonCmd.PersistentFlags()
	f.StringVar(&flagDaemonAddr, "addr", cfg.Daemon.Addr, "HTTP listen address")
	f.DurationVar(&flagDaemonInterval, "interval", time.Duration(cfg.Daemon.IntervalSec)*time.Second, "Polling interval")
	f.StringVar(&flagDaemonPIDFile, "pid-file", filepath.Join(config.CacheDir(), "afldashd.pid"), "PID file path")
	f.StringVar(&flagDaemonLogFile, "log-file", filepath.Join(config.CacheDir(), "afldashd.log"), "Log file path for detached mode")
	f.IntVar(&flagDaemonEventsBuffer, "events-buffer", cfg.Daemon.EventsBuffer, "Max in-memory events retained")

	daemonCmd.Flags().BoolVar(&flagDaemonDetach, "detach", false, "Run daemon as a background process")
	daemonCmd.Flags().BoolVar(&flagDaemonChild, "child", false, "Internal: mark detached child process")
	_ = daemonCmd.Flags().MarkHidden("child")

	daemonCmd.AddCommand(daemonStatusCmd, daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

// pidFile tracks a running daemon: the pid itself plus a JSON sidecar with
// the address and campaign it serves.
type pidFile struct {
	path string
}

type daemonRuntimeState struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	OutDir    string    `json:"out_dir"`
}

func (p pidFile) statePath() string { return p.path + ".json" }

func (p pidFile) write(st daemonRuntimeState) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(st.PID)+"\n"), 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.statePath(), append(data, '\n'), 0o600)
}

func (p pidFile) pid() (int, error) {
	//nolint:gosec // daemon pid path is configured by the local user
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", p.path)
	}
	return pid, nil
}

func (p pidFile) state() (daemonRuntimeState, error) {
	var st daemonRuntimeState
	//nolint:gosec // daemon state path is configured by the local user
	data, err := os.ReadFile(p.statePath())
	if err != nil {
		return st, err
	}
	err = json.Unmarshal(data, &st)
	return st, err
}

func (p pidFile) remove() {
	_ = os.Remove(p.path)
	_ = os.Remove(p.statePath())
}

// claim fails if a live daemon holds the pid file and clears a stale one.
func (p pidFile) claim() error {
	pid, err := p.pid()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	case processAlive(pid):
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	p.remove()
	return nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	if flagDaemonDetach && flagDaemonChild {
		return errors.New("invalid daemon launch mode")
	}
	if flagDaemonDetach {
		return startDaemonDetached()
	}
	return runDaemonForeground()
}

func startDaemonDetached() error {
	pf := pidFile{flagDaemonPIDFile}
	if err := pf.claim(); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	args := append(filterDetachArg(os.Args[1:]), "--child")

	if err := os.MkdirAll(filepath.Dir(flagDaemonLogFile), 0o750); err != nil {
		return fmt.Errorf("create daemon log directory: %w", err)
	}
	//nolint:gosec // daemon log path is configured by the local user
	logf, err := os.OpenFile(flagDaemonLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	child := exec.Command(exe, args...) //nolint:gosec // exe/args come from current process invocation
	child.Stdout = logf
	child.Stderr = logf
	child.Env = os.Environ()
	if err := child.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}

	fmt.Printf("  Started daemon (pid %d)\n", child.Process.Pid)
	fmt.Printf("  Watching: %s\n", flagOutDir)
	fmt.Printf("  API: http://%s/v1/status\n", flagDaemonAddr)
	fmt.Printf("  Log: %s\n", flagDaemonLogFile)
	return nil
}

func runDaemonForeground() error {
	pf := pidFile{flagDaemonPIDFile}
	if err := pf.claim(); err != nil {
		return err
	}
	if err := pf.write(daemonRuntimeState{
		PID:       os.Getpid(),
		Addr:      flagDaemonAddr,
		StartedAt: time.Now(),
		OutDir:    flagOutDir,
	}); err != nil {
		return err
	}
	defer pf.remove()

	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	svc := daemon.New(daemon.Config{
		OutDir:              flagOutDir,
		WorkerFilter:        flagWorker,
		UseCache:            !flagNoCache,
		CachePath:           config.CachePath(),
		Interval:            flagDaemonInterval,
		Addr:                flagDaemonAddr,
		EventsBuffer:        flagDaemonEventsBuffer,
		ResetOnSchemaChange: cfg.Ingest.ResetOnSchemaChange,
		Logger:              slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})),
	})

	fmt.Printf("  afldash daemon listening on http://%s\n", flagDaemonAddr)
	fmt.Printf("  Polling every %s from %s\n", flagDaemonInterval, flagOutDir)
	fmt.Printf("  Stop with: afldash daemon stop --pid-file %s\n", flagDaemonPIDFile)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	pf := pidFile{flagDaemonPIDFile}
	pid, err := pf.pid()
	if err != nil {
		fmt.Println("  Daemon: not running (pid file not found)")
		return nil
	}
	if !processAlive(pid) {
		fmt.Printf("  Daemon: stale pid file (pid %d not alive)\n", pid)
		return nil
	}

	addr := flagDaemonAddr
	if st, err := pf.state(); err == nil && st.Addr != "" {
		addr = st.Addr
	}
	fmt.Printf("  Daemon PID: %d\n", pid)
	fmt.Printf("  Address: http://%s\n", addr)

	st, err := fetchDaemonStatus(addr)
	if err != nil {
		fmt.Printf("  API status: %v\n", err)
		return nil
	}

	if st.LastPollAt.IsZero() {
		fmt.Println("  Last poll: pending")
	} else {
		fmt.Printf("  Last poll: %s (%s)\n", st.LastPollAt.Local().Format(time.RFC3339),
			cli.FormatAgo(st.LastPollAt, time.Now()))
	}
	fmt.Printf("  Poll count: %d\n", st.PollCount)
	fmt.Printf("  Output dir: %s\n", st.OutDir)
	fmt.Printf("  Workers: %d\n", st.Summary.Workers)
	fmt.Printf("  Execs: %s (%s)\n", cli.FormatCount(st.Summary.ExecsDone), cli.FormatRate(st.Summary.ExecsPerSec))
	fmt.Printf("  Crashes: %d  Hangs: %d\n", st.Summary.SavedCrashes, st.Summary.SavedHangs)
	fmt.Printf("  Coverage: %s\n", cli.FormatPercent(st.Summary.MaxCoverage))
	fmt.Printf("  Events: %d (%d subscribers)\n", st.EventCount, st.SubscriberCount)
	if len(st.RefreshMillis) > 0 {
		parts := make([]string, len(st.RefreshMillis))
		for i, tm := range st.RefreshMillis {
			parts[i] = fmt.Sprintf("%s %.1fms", tm.File, tm.Millis)
		}
		fmt.Printf("  Refresh: %s\n", strings.Join(parts, ", "))
	}
	for _, r := range st.Resets {
		fmt.Printf("  Reset: %s\n", r)
	}
	for _, w := range st.Warnings {
		fmt.Printf("  Warning: %s\n", w)
	}
	if st.LastError != "" {
		fmt.Printf("  Last error: %s\n", st.LastError)
	}
	return nil
}

func fetchDaemonStatus(addr string) (daemon.Status, error) {
	var st daemon.Status
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/v1/status", nil)
	if err != nil {
		return st, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return st, fmt.Errorf("unreachable (%w)", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("malformed response (%w)", err)
	}
	return st, nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	pf := pidFile{flagDaemonPIDFile}
	pid, err := pf.pid()
	if err != nil {
		return errors.New("daemon is not running")
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon process: %w", err)
	}

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			pf.remove()
			fmt.Printf("  Stopped daemon (pid %d)\n", pid)
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}

	return fmt.Errorf("daemon (pid %d) did not exit in time", pid)
}

func filterDetachArg(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--detach" || strings.HasPrefix(a, "--detach=") {
			continue
		}
		out = append(out, a)
	}
	return out
}
