package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/oracle/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show oracle system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		showStatus(cmd.Context(), cfg)
		return nil
	},
}

// fetchHealth returns the server's /health body, or an error when the server
// is down or unhealthy.
func fetchHealth(ctx context.Context, port int) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", port), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	health := map[string]string{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return health, nil
}

func showStatus(ctx context.Context, cfg config.Config) {
	if ctx == nil {
		ctx = context.Background()
	}
	if health, err := fetchHealth(ctx, cfg.Server.Port); err != nil {
		printStatus("Server", "stopped (%v)", err)
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
		printStatus("Content version", "%s", health["contentVersion"])
	}

	switch {
	case cfg.Content.Path == "":
		printStatus("Content file", "embedded default")
	default:
		printStatus("Content file", "%s (watch %v)", cfg.Content.Path, cfg.Content.Watch)
	}
	if cfg.Community.NATSURL != "" {
		printStatus("Community", "NATS at %s (%s.*)", cfg.Community.NATSURL, cfg.Community.SubjectPrefix)
	} else {
		printStatus("Community", "log only")
	}
	printStatus("Retention", "%d days, schedule %s", cfg.Retention.RunDays, cfg.Retention.Schedule)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
}
