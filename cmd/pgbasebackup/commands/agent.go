package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pgbasebackup/agent/cmd/pgbasebackup/cmdutil"
	"github.com/pgbasebackup/agent/internal/logger"
	"github.com/pgbasebackup/agent/pkg/agent"
	"github.com/pgbasebackup/agent/pkg/config"
	"github.com/pgbasebackup/agent/pkg/httpapi"
	"github.com/pgbasebackup/agent/pkg/metrics"
)

var stateDirFlag string

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the backup agent's control loop",
	Long: `Run the continuous base-backup agent: schedules and executes backups
for every configured site, and optionally serves the HTTP basebackup
enumeration API for restore clients.

Examples:
  pgbasebackup-agent agent
  pgbasebackup-agent agent --config /etc/pgbasebackup/config.yaml`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVar(&stateDirFlag, "state-dir", "", "directory for the agent's durable scheduler state (default: $XDG_STATE_HOME/pgbasebackup)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := cmdutil.InitLogger(cfg); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}
	rec := metrics.NewRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateDir, err := resolveStateDir()
	if err != nil {
		return err
	}

	ag, err := agent.New(ctx, cfg, stateDir, nil, rec)
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}
	defer func() {
		if err := ag.Close(); err != nil {
			logger.Error("closing agent state", "error", err)
		}
	}()

	agentDone := make(chan error, 1)
	go func() { agentDone <- ag.Run(ctx) }()

	httpDone := make(chan error, 1)
	if cfg.HTTP.Enabled {
		httpServer, err := buildHTTPServer(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to build http server: %w", err)
		}
		go func() { httpDone <- httpServer.ListenAndServe(ctx, cfg.HTTP.Address) }()
	} else {
		httpDone = nil
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("agent running", "sites", len(cfg.Sites), "http_enabled", cfg.HTTP.Enabled)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
		cancel()
		return <-agentDone
	case err := <-agentDone:
		return err
	case err := <-httpDone:
		if err != nil {
			logger.Error("http server error", "error", err)
		}
		cancel()
		return <-agentDone
	}
}

// buildHTTPServer wires every configured site's object store into an
// httpapi.Server so a restore client can enumerate basebackups without
// talking to the object store directly.
func buildHTTPServer(ctx context.Context, cfg *config.Config) (*httpapi.Server, error) {
	sites := make(map[string]httpapi.SiteBackend, len(cfg.Sites))
	for name, sc := range cfg.Sites {
		if sc.Prefix == "" {
			sc.Prefix = name
		}
		store, err := cmdutil.BuildSiteStore(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("building object store for site %q: %w", name, err)
		}
		sites[name] = httpapi.SiteBackend{Store: store, Prefix: sc.Prefix}
	}
	return httpapi.NewServer(sites), nil
}

func resolveStateDir() (string, error) {
	if stateDirFlag != "" {
		if err := os.MkdirAll(stateDirFlag, 0o755); err != nil {
			return "", fmt.Errorf("create state directory: %w", err)
		}
		return stateDirFlag, nil
	}

	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("determine home directory: %w", err)
		}
		base = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(base, "pgbasebackup")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}
	return dir, nil
}
