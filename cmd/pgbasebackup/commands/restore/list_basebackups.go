package restore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pgbasebackup/agent/cmd/pgbasebackup/cmdutil"
	"github.com/pgbasebackup/agent/pkg/config"
	"github.com/pgbasebackup/agent/pkg/objectstore"
)

var (
	listSite    string
	listVerbose bool
)

var listBasebackupsCmd = &cobra.Command{
	Use:   "list-basebackups",
	Short: "List the basebackups available for a site",
	RunE:  runListBasebackups,
}

func init() {
	listBasebackupsCmd.Flags().StringVar(&listSite, "site", "", "site to list (required)")
	listBasebackupsCmd.Flags().BoolVar(&listVerbose, "verbose", false, "print every backup's metadata, not just the summary columns")
	_ = listBasebackupsCmd.MarkFlagRequired("site")
}

func runListBasebackups(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.MustLoad(configFile)
	if err != nil {
		return err
	}
	if err := cmdutil.InitLogger(cfg); err != nil {
		return err
	}

	sc, err := cmdutil.ResolveSite(cfg, listSite)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := cmdutil.BuildSiteStore(ctx, sc)
	if err != nil {
		return fmt.Errorf("building object store: %w", err)
	}

	entries, err := store.List(ctx, objectstore.BaseBackupPrefix(sc.Prefix))
	if err != nil {
		return fmt.Errorf("listing basebackups: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LastModified.Before(entries[j].LastModified) })

	return printBasebackupList(cmd, store, ctx, entries, sc.Prefix, listVerbose)
}

// printBasebackupList renders the same two shapes pghoard's
// print_basebackup_list offers: a compact name/size/start-time table by
// default, and every stored metadata field per backup under --verbose.
func printBasebackupList(cmd *cobra.Command, store objectstore.Store, ctx context.Context, entries []objectstore.Entry, prefix string, verbose bool) error {
	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "NAME\tSIZE\tPG-VERSION\tSTART-TIME")
	for _, e := range entries {
		meta := e.Metadata
		if meta == nil {
			var err error
			meta, err = store.GetMetadata(ctx, e.Key)
			if err != nil {
				return fmt.Errorf("fetching metadata for %q: %w", e.Key, err)
			}
		}
		name := strings.TrimPrefix(e.Key, objectstore.BaseBackupPrefix(prefix))
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", name, e.Size, meta["pg-version"], meta["start-time"])

		if verbose {
			keys := make([]string, 0, len(meta))
			for k := range meta {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "\t%s = %s\n", k, meta[k])
			}
		}
	}
	return nil
}
