// Command checkpoint is the ordered-index checkpoint daemon (spec.md §6
// "Checkpoint daemon"). Grounded on the teacher's StartDB/shutdownDB signal
// handling in filodb_engine.go, generalized from an interactive REPL's
// SIGINT/SIGTERM shutdown into this daemon's own one-shot/periodic loop.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/memstore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		once       bool
		kbTrigger  int
		minTrigger int
		logPath    string
		home       string
		verbose    bool
		version    bool
	)

	cmd := &cobra.Command{
		Use:           "checkpoint",
		Short:         "run (or one-shot trigger) the ordered-index checkpoint daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			if version {
				fmt.Println("checkpoint (ordidx) v1")
				return nil
			}
			return run(cmd.Context(), home, logPath, once, kbTrigger, minTrigger, verbose)
		},
	}

	// -h is claimed by spec.md §6 for the database home directory, not
	// cobra's default --help shorthand, so the default help flag is added
	// back below with its shorthand suppressed.
	cmd.Flags().BoolP("help", "", false, "help for checkpoint")
	cmd.Flags().BoolVarP(&once, "once", "1", false, "run one checkpoint pass, force it, and exit")
	cmd.Flags().IntVarP(&kbTrigger, "kb", "k", 0, "trigger a checkpoint every K kilobytes of log")
	cmd.Flags().IntVarP(&minTrigger, "minutes", "p", 0, "trigger a checkpoint every M minutes")
	cmd.Flags().StringVarP(&logPath, "logfile", "L", "", "write daemon log output to this file instead of stderr")
	cmd.Flags().StringVarP(&home, "home", "h", ".", "database home directory")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	cmd.Flags().BoolVarP(&version, "version", "V", false, "print version and exit")

	return cmd
}

func newLogger(logPath string, verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	if logPath != "" {
		cfg.OutputPaths = []string{logPath}
		cfg.ErrorOutputPaths = []string{logPath}
	}
	return cfg.Build()
}

// run wires a TxnManager against home's WAL + page directory and either
// fires one forced checkpoint pass (once) or polls on a ticker (every -p
// minutes, or every 30s without -p) until SIGINT/SIGTERM. With -p set every
// tick checkpoints, and WAL growth between ticks does not trigger an
// earlier pass; with only -k set a tick checkpoints once the WAL has grown
// by -k KB since the last pass; with neither set every tick checkpoints.
func run(ctx context.Context, home, logPath string, once bool, kbTrigger, minTrigger int, verbose bool) error {
	log, err := newLogger(logPath, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	wal, err := memstore.NewWAL(home + "/wal.log")
	if err != nil {
		return err
	}
	defer wal.Close()
	cache := memstore.NewCache(home, 4096, log)
	defer cache.Close()
	txns := memstore.NewTxnManager(wal, cache)

	if once {
		return checkpointWithRetry(ctx, txns, log)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	interval := triggerInterval(minTrigger)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSize int64
	for {
		select {
		case <-sigChan:
			log.Info("checkpoint daemon shutting down")
			return nil
		case <-ticker.C:
			size, err := wal.Size()
			if err != nil {
				return err
			}
			kbGrown := kbTrigger > 0 && (size-lastSize) >= int64(kbTrigger)*1024
			if kbTrigger == 0 && minTrigger == 0 {
				kbGrown = true // no triggers configured: checkpoint every tick
			}
			if !kbGrown && minTrigger == 0 {
				continue
			}
			if err := checkpointWithRetry(ctx, txns, log); err != nil {
				return err
			}
			lastSize = size
		}
	}
}

func triggerInterval(minTrigger int) time.Duration {
	if minTrigger > 0 {
		return time.Duration(minTrigger) * time.Minute
	}
	return 30 * time.Second
}

// checkpointWithRetry tolerates contract.ErrIncomplete by sleeping 2s and
// retrying (spec.md §6 "Must tolerate incomplete return ... by sleeping 2s
// and retrying").
func checkpointWithRetry(ctx context.Context, txns contract.TxnManager, log *zap.Logger) error {
	for {
		err := txns.Checkpoint(ctx)
		if err == nil {
			log.Info("checkpoint complete")
			return nil
		}
		if errors.Is(err, contract.ErrIncomplete) {
			log.Debug("checkpoint incomplete, retrying")
			time.Sleep(2 * time.Second)
			continue
		}
		log.Error("checkpoint failed", zap.Error(err))
		return err
	}
}
