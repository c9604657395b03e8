package restore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgbasebackup/agent/cmd/pgbasebackup/cmdutil"
	"github.com/pgbasebackup/agent/pkg/config"
	"github.com/pgbasebackup/agent/pkg/preservation"
	"github.com/pgbasebackup/agent/pkg/restore"
)

const isoLayout = "2006-01-02T15:04:05-07:00"

var (
	getSite                   string
	getBackupName             string
	getTargetDir              string
	getTablespaceDirs         []string
	getOverwrite              bool
	getPreserveUntil          string
	getCancelPreserveOnSucces bool
	getRestoreToPrimary       bool
	getVerbose                bool
)

var getBasebackupCmd = &cobra.Command{
	Use:   "get-basebackup",
	Short: "Download and unpack a basebackup",
	Long: `Download, decrypt, decompress and unpack a site's basebackup onto
disk, then write the recovery configuration appropriate to the server
version.

Examples:
  pgbasebackup-agent restore get-basebackup --site primary --target-dir /var/lib/postgresql/restore
  pgbasebackup-agent restore get-basebackup --site primary --restore-to-primary --overwrite`,
	RunE: runGetBasebackup,
}

func init() {
	getBasebackupCmd.Flags().StringVar(&getSite, "site", "", "site to restore from (required)")
	getBasebackupCmd.Flags().StringVar(&getBackupName, "name", "latest", "backup name to restore (default: latest)")
	getBasebackupCmd.Flags().StringVar(&getTargetDir, "target-dir", "", "directory to restore the data directory into")
	getBasebackupCmd.Flags().StringArrayVar(&getTablespaceDirs, "tablespace-dir", nil, "tablespace mapping name=path (repeatable)")
	getBasebackupCmd.Flags().BoolVar(&getOverwrite, "overwrite", false, "allow restoring into a non-empty target directory")
	getBasebackupCmd.Flags().StringVar(&getPreserveUntil, "preserve-until", "", "hold this backup against retention until this ISO-8601 timestamp while it is being restored")
	getBasebackupCmd.Flags().BoolVar(&getCancelPreserveOnSucces, "cancel-preserve-on-success", true, "cancel the preservation hold once the restore succeeds")
	getBasebackupCmd.Flags().BoolVar(&getRestoreToPrimary, "restore-to-primary", false, "restore directly into the site's configured pgdata instead of --target-dir")
	getBasebackupCmd.Flags().BoolVar(&getVerbose, "verbose", false, "print the restored manifest's chunk and tablespace details")
	_ = getBasebackupCmd.MarkFlagRequired("site")
}

func runGetBasebackup(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.MustLoad(configFile)
	if err != nil {
		return err
	}
	if err := cmdutil.InitLogger(cfg); err != nil {
		return err
	}

	sc, err := cmdutil.ResolveSite(cfg, getSite)
	if err != nil {
		return err
	}

	targetDir := getTargetDir
	if getRestoreToPrimary {
		targetDir = sc.PGData
	}
	if targetDir == "" {
		return fmt.Errorf("one of --target-dir or --restore-to-primary is required")
	}

	tsDirs, err := parseTablespaceDirs(getTablespaceDirs)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := cmdutil.BuildSiteStore(ctx, sc)
	if err != nil {
		return fmt.Errorf("building object store: %w", err)
	}

	encKey, err := config.ResolveEncryptionKey(cfg, sc)
	if err != nil {
		return fmt.Errorf("resolving encryption key: %w", err)
	}

	preserveReg := preservation.New(store, sc.Prefix)
	requestName, preserved, err := requestPreservationHold(ctx, preserveReg, getBackupName, getPreserveUntil)
	if err != nil {
		return err
	}

	opts := restore.Options{
		BackupName:     getBackupName,
		TargetDir:      targetDir,
		Overwrite:      getOverwrite,
		TablespaceDirs: tsDirs,
		RestoreCommand: restoreCommandFor(sc),
	}
	rcfg := restore.Config{
		Compression: cmdutil.CompressionConfig(sc),
		Encryption:  encKey,
		MaxParallel: sc.MaxParallel,
	}

	result, err := restore.Run(ctx, store, sc.Prefix, rcfg, opts)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	if preserved && getCancelPreserveOnSucces {
		preserveReg.TryCancel(ctx, requestName)
	}

	fmt.Printf("restored %q into %s (%d chunk(s))\n", result.BackupName, targetDir, len(result.Manifest.Chunks))
	if getVerbose {
		for name, ts := range result.Manifest.Tablespaces {
			fmt.Printf("  tablespace %s -> %s\n", name, ts.Path)
		}
	}
	return nil
}

// parseTablespaceDirs turns repeated name=path flag values into the map
// restore.Options expects.
func parseTablespaceDirs(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		name, path, ok := strings.Cut(kv, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid --tablespace-dir %q (expected name=path)", kv)
		}
		out[name] = path
	}
	return out, nil
}

// requestPreservationHold protects the backup against a concurrent
// retention sweep for the duration of the restore when --preserve-until
// was given; it is a no-op otherwise.
func requestPreservationHold(ctx context.Context, reg *preservation.Registry, backupName, preserveUntil string) (requestName string, requested bool, err error) {
	if preserveUntil == "" {
		return "", false, nil
	}
	until, err := time.Parse(isoLayout, preserveUntil)
	if err != nil {
		return "", false, fmt.Errorf("invalid --preserve-until %q: %w", preserveUntil, err)
	}
	name, err := reg.Request(ctx, backupName, until)
	if err != nil {
		return "", false, fmt.Errorf("requesting preservation hold: %w", err)
	}
	return name, true, nil
}

// restoreCommandFor builds the restore_command line this site's server
// needs for continuous WAL replay. standalone_hot_backup mode already
// materializes its start segment directly, so it needs no command line.
func restoreCommandFor(sc config.SiteConfig) string {
	if sc.ActiveBackupMode != "archive_command" {
		return ""
	}
	exe, err := os.Executable()
	if err != nil {
		exe = "pgbasebackup-agent"
	}
	return fmt.Sprintf("%s restore get-wal --site %s %%f %%p", exe, sc.Prefix)
}
