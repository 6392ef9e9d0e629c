package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/oracle/internal/api"
	"github.com/kalambet/oracle/internal/community"
	"github.com/kalambet/oracle/internal/config"
	"github.com/kalambet/oracle/internal/content"
	"github.com/kalambet/oracle/internal/pipeline"
	"github.com/kalambet/oracle/internal/retention"
	"github.com/kalambet/oracle/internal/state"
	"github.com/kalambet/oracle/internal/storage"
)

const (
	workerPollInterval = 500 * time.Millisecond
	shutdownTimeout    = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the oracle server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		printWarning("unknown log level %q, using info", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// daemon holds everything `oracle serve` runs. close releases it in
// reverse order of acquisition.
type daemon struct {
	cfg     config.Config
	deps    api.Deps
	watcher *content.FileSource // nil unless a content file is configured
	worker  *community.Worker
	sweeper *retention.Sweeper
	closers []func() error
}

func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}
}

func newDaemon(cfg config.Config, token string) (_ *daemon, err error) {
	d := &daemon{cfg: cfg}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	d.closers = append(d.closers, store.Close)

	src, fileSrc, err := openContent(cfg)
	if err != nil {
		return nil, err
	}
	if fileSrc != nil && cfg.Content.Watch {
		d.watcher = fileSrc
	}
	slog.Info("content table loaded", "version", src.Table().Version)

	users, err := state.NewUsers(store, cfg.State.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating user state stores: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	orch := pipeline.New(src, users,
		pipeline.WithTeachings(store),
		pipeline.WithMetrics(pipeline.MustNewMetrics(reg)),
		pipeline.WithStageTimeout(cfg.Pipeline.Timeout()),
		pipeline.WithStoreRetries(cfg.Pipeline.StoreRetries),
		pipeline.WithLogger(slog.Default()),
	)

	pub, err := openPublisher(cfg.Community)
	if err != nil {
		return nil, err
	}
	if c, ok := pub.(interface{ Close() error }); ok {
		d.closers = append(d.closers, c.Close)
	}

	d.worker = community.NewWorker(store, pub, cfg.Community.SubjectPrefix, workerPollInterval).WithLogger(slog.Default())
	d.sweeper = retention.New(store, cfg.Retention.Schedule, cfg.Retention.RunDays).WithLogger(slog.Default())
	d.deps = api.Deps{
		Pipeline:  orch,
		Gate:      orch.Gate(),
		Users:     users,
		Runs:      store,
		Community: community.NewService(orch.Gate(), users.Profiles, store),
		Content:   src,
		Token:     token,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:    slog.Default(),
	}
	return d, nil
}

// openContent returns the embedded table, or the override file when one is
// configured. The second result is that file, for watching.
func openContent(cfg config.Config) (content.Source, *content.FileSource, error) {
	if cfg.Content.Path == "" {
		return content.NewStatic(content.Default()), nil, nil
	}
	fs, err := content.OpenFile(cfg.Content.Path,
		content.WithLogger(slog.Default()),
		content.WithReloadHook(func(t *content.Table) {
			slog.Info("content table reloaded", "version", t.Version)
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("loading content table: %w", err)
	}
	return fs, fs, nil
}

// openPublisher dials NATS when a URL is configured and logs shares otherwise.
func openPublisher(cfg config.CommunityConfig) (community.Publisher, error) {
	if cfg.NATSURL == "" {
		return community.LogPublisher{Logger: slog.Default()}, nil
	}
	np, err := community.DialNATS(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	slog.Info("publishing community shares over NATS", "url", cfg.NATSURL)
	return np, nil
}

// run serves HTTP (and MCP on stdio when asked) next to the share worker, the
// retention sweeper, and the content watcher until ctx ends or one fails.
func (d *daemon) run(ctx context.Context, withMCP bool) error {
	addr := fmt.Sprintf("127.0.0.1:%d", d.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if n := d.cfg.Server.MaxConns; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}
	srv := &http.Server{
		Handler:           api.NewHandler(d.deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("oracle listening", "addr", addr, "max_conns", d.cfg.Server.MaxConns)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		d.worker.Run(gctx)
		return nil
	})
	g.Go(func() error { return d.sweeper.Run(gctx) })
	if d.watcher != nil {
		g.Go(func() error { return d.watcher.Watch(gctx) })
	}
	if withMCP {
		stdio := server.NewStdioServer(api.NewMCPServer(d.deps, version))
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "oracle version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	token, generated, err := config.EnsureAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	if generated {
		slog.Info("generated a new API bearer token and stored it in the platform secret store")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := checkNotRunning(cfg.Server.Port, pidPath); err != nil {
		return err
	}
	if cfg.Storage.DataDir != storage.MemoryDataDir {
		if err := writePIDFile(pidPath); err != nil {
			return fmt.Errorf("writing PID file: %w", err)
		}
		defer removePIDFile(pidPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, token)
	if err != nil {
		return err
	}
	defer d.close()
	return d.run(ctx, withMCP)
}
