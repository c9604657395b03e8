// Package backup implements the pgbasebackup-agent backup subcommand: a
// one-shot manual trigger that runs a single backup attempt directly
// through the executor, without talking to a running agent process.
package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgbasebackup/agent/cmd/pgbasebackup/cmdutil"
	"github.com/pgbasebackup/agent/pkg/config"
	"github.com/pgbasebackup/agent/pkg/executor"
	"github.com/pgbasebackup/agent/pkg/walker"
)

var (
	site       string
	backupName string
)

// Cmd is the backup subcommand.
var Cmd = &cobra.Command{
	Use:   "backup",
	Short: "Run a single backup attempt for a site",
	Long: `Run one backup attempt for a configured site directly, without going
through the agent's scheduler. Useful for testing a site's configuration or
forcing an out-of-band backup.

Examples:
  pgbasebackup-agent backup --site primary
  pgbasebackup-agent backup --site primary --name manual-2024-01-02`,
	RunE: runBackup,
}

func init() {
	Cmd.Flags().StringVar(&site, "site", "", "site to back up (required)")
	Cmd.Flags().StringVar(&backupName, "name", "", "backup name (default: current timestamp)")
	_ = Cmd.MarkFlagRequired("site")
}

func runBackup(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Root().PersistentFlags().GetString("config")

	cfg, err := config.MustLoad(configFile)
	if err != nil {
		return err
	}
	if err := cmdutil.InitLogger(cfg); err != nil {
		return err
	}

	sc, err := cmdutil.ResolveSite(cfg, site)
	if err != nil {
		return err
	}

	ctx := context.Background()

	store, err := cmdutil.BuildSiteStore(ctx, sc)
	if err != nil {
		return fmt.Errorf("building object store: %w", err)
	}

	tablespaces, err := walker.Discover(sc.PGData)
	if err != nil {
		return fmt.Errorf("discovering tablespaces: %w", err)
	}

	encKey, err := config.ResolveEncryptionKey(cfg, sc)
	if err != nil {
		return fmt.Errorf("resolving encryption key: %w", err)
	}

	name := backupName
	if name == "" {
		name = "backup-" + time.Now().UTC().Format("2006-01-02T15-04-05Z")
	}

	execCfg := executor.Config{
		Mode:             executor.Mode(strings.ReplaceAll(sc.BasebackupMode, "_", "-")),
		Site:             site,
		Prefix:           sc.Prefix,
		BackupName:       name,
		PGData:           sc.PGData,
		Tablespaces:      tablespaces,
		ConnString:       sc.ConnString,
		ActiveBackupMode: sc.ActiveBackupMode,
		TargetChunkSize:  sc.TargetChunkSize.Int64(),
		Compression:      cmdutil.CompressionConfig(sc),
		Encryption:       encKey,
		MaxParallel:      sc.MaxParallel,
	}
	execCfg.DeltaConfig.MinDeltaFileSize = sc.DeltaModeMinFileSize.Int64()
	execCfg.DeltaConfig.ChunkSize = sc.DeltaModeChunkSize.Int64()
	execCfg.DeltaConfig.MaxRetries = sc.DeltaModeMaxRetries
	if v, err := cmdutil.ReadPGVersion(sc.PGData); err == nil {
		execCfg.PGVersion = v
	}

	exec := executor.New(store, nil)
	result := exec.Run(ctx, execCfg)
	if !result.Success {
		return fmt.Errorf("backup failed: %w", result.Exception)
	}

	fmt.Printf("backup %q completed: %d chunk(s)\n", result.BackupName, len(result.Manifest.Chunks))
	return nil
}
