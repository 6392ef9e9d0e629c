package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/oracle/internal/config"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running oracle server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return stopServer(pidFilePath(cfg.Storage.DataDir))
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "oracle.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func readPIDFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return pid, nil
}

func removePIDFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		printWarning("removing %s: %v", path, err)
	}
}

// checkNotRunning fails when something already answers /health on port.
func checkNotRunning(port int, pidPath string) error {
	c := &http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return nil
	}
	resp.Body.Close()
	if pid, err := readPIDFile(pidPath); err == nil {
		return fmt.Errorf("oracle is already running (PID %d)", pid)
	}
	return fmt.Errorf("port %d is already serving oracle", port)
}

func stopServer(pidPath string) error {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("oracle is not running: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// stale file from a crashed server
		removePIDFile(pidPath)
		return fmt.Errorf("signalling PID %d: %w", pid, err)
	}
	printSuccess("Sent stop signal to oracle (PID %d)", pid)
	return nil
}
