// Command dump prints a read-only, page-by-page summary of an on-disk
// fragment file for debugging (spec.md §1 names a "dump" utility as the
// out-of-scope read path this module still provides for diagnostics).
// It decodes pages directly off the raw file rather than through a
// contract.PageCache, since dump needs no write-back or buffer pooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sharvit-labs/ordidx/page"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		pageSize int
		checksum bool
	)

	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "print a page-by-page summary of an on-disk fragment file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], pageSize, checksum)
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 4096, "page size in bytes")
	cmd.Flags().BoolVar(&checksum, "checksum", false, "verify per-page checksums while decoding")

	return cmd
}

func run(path string, pageSize int, checksum bool) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(buf)%pageSize != 0 {
		fmt.Fprintf(os.Stderr, "warning: file size %d is not a multiple of page size %d\n", len(buf), pageSize)
	}

	cookie := page.Cookie{AccessMethod: page.AccessBTree, Checksum: checksum, PageSize: pageSize}

	for off := 0; off+pageSize <= len(buf); off += pageSize {
		pgno := off / pageSize
		chunk := buf[off : off+pageSize]
		p, err := page.Decode(chunk, cookie)
		if err != nil {
			fmt.Printf("page %d: decode error: %v\n", pgno, err)
			continue
		}
		fmt.Printf("page %d: type=%s level=%d entries=%d prev=%d next=%d lsn=%d\n",
			pgno, p.Type, p.Level, p.NumSlots(), p.Prev, p.Next, p.LSN)
		for i := 0; i < p.NumSlots(); i++ {
			e := p.Entry(i)
			switch e.Kind {
			case page.EntryKeyData:
				fmt.Printf("  [%d] key=%x val=%d bytes pending_delete=%v\n", i, e.Key, len(e.Val), e.PendingDelete)
			case page.EntryOverflow:
				fmt.Printf("  [%d] key=%x -> overflow page %d (%d bytes)\n", i, e.Key, e.OverflowPgno, e.OverflowLen)
			case page.EntryDuplicate:
				fmt.Printf("  [%d] key=%x -> duplicate chain page %d\n", i, e.Key, e.DupPgno)
			}
		}
	}
	return nil
}
