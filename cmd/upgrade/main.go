// Command upgrade walks every page of an on-disk fragment file forward to
// the current on-disk page format (spec.md §6 "engine upgrade -h <home>
// <file>"), grounded on page.Upgrade and the teacher's StartDB opening
// sequence in filodb_engine.go generalized from "open one database" to
// "upgrade one fragment file in place".
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/memstore"
	"github.com/sharvit-labs/ordidx/page"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var home string

	cmd := &cobra.Command{
		Use:   "upgrade <file>",
		Short: "upgrade an on-disk fragment file to the current page format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), home, args[0])
		},
	}

	cmd.Flags().BoolP("help", "", false, "help for upgrade")
	cmd.Flags().StringVarP(&home, "home", "h", ".", "database home directory")

	return cmd
}

// run parses file's FileID out of its "frag-N.db" name (memstore.Cache's
// naming convention), opens home as a page cache, and upgrades every page
// up to the file's last allocated page number.
func run(ctx context.Context, home, file string) error {
	id, err := fileIDFromName(file)
	if err != nil {
		return err
	}

	cache := memstore.NewCache(home, 4096, nil)
	defer cache.Close()

	last, err := cache.LastPgno(id)
	if err != nil {
		return err
	}

	if err := page.Upgrade(ctx, cache, id, last); err != nil {
		return err
	}

	fmt.Printf("upgraded %s: pages 0..%d\n", file, last)
	return nil
}

// fileIDFromName extracts the numeric FileID out of a "frag-N.db"-style
// base name, matching memstore.Cache.fileFor's naming convention.
func fileIDFromName(path string) (contract.FileID, error) {
	base := path
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	base = strings.TrimSuffix(base, ".db")
	base = strings.TrimPrefix(base, "frag-")

	n, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse FileID from %q (expected frag-N.db): %w", path, err)
	}
	return contract.FileID(n), nil
}
