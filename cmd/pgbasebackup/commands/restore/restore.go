// Package restore implements the pgbasebackup-agent restore subcommands:
// list-basebackups enumerates what is available for a site, and
// get-basebackup downloads and unpacks one onto disk, grounded on
// pghoard's restore CLI (pghoard_restore.py's print_basebackup_list and
// get_basebackup).
package restore

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent restore command; its actual work lives in the
// list-basebackups and get-basebackup subcommands.
var Cmd = &cobra.Command{
	Use:   "restore",
	Short: "Enumerate and restore basebackups",
}

func init() {
	Cmd.AddCommand(listBasebackupsCmd)
	Cmd.AddCommand(getBasebackupCmd)
}
