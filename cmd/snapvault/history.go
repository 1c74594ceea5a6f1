package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"snapvault/internal/config"
	"snapvault/internal/ledger"
	"snapvault/internal/progress"
	"snapvault/internal/scanner"
)

var (
	clearConfirmed bool
	verifyWorkers  int

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recorded scans, newest first",
		Long: `Reads the scan ledger directly. The ledger is locked by a running server,
so stop it first.`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	historyClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete every scan record",
		Long:  `Drops the whole ledger. Snapshot and archive files are left on disk.`,
		Args:  cobra.NoArgs,
		RunE:  runHistoryClear,
	}

	historyVerifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Check every snapshot against its recorded digest",
		Args:  cobra.NoArgs,
		RunE:  runHistoryVerify,
	}
)

func init() {
	historyClearCmd.Flags().BoolVar(&clearConfirmed, "yes", false, "Confirm deleting the history")
	historyVerifyCmd.Flags().IntVarP(&verifyWorkers, "workers", "w", runtime.NumCPU()*2, "Number of worker goroutines")
	historyCmd.AddCommand(historyClearCmd, historyVerifyCmd)
}

func openLedger(cfg *config.Config) (*ledger.Ledger, error) {
	ledgerCfg := ledger.DefaultConfig(cfg.LedgerDir())
	ledgerCfg.Logger = newLogger(cfg, os.Stderr).With("component", "badger")
	store, err := ledger.Open(ledgerCfg)
	if err != nil {
		return nil, fmt.Errorf("%w (is the server running?)", err)
	}
	return store, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Records(cmd.Context())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No scans recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSIZE\tDURATION\tARCHIVE")
	for _, rec := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d ms\t%s\n",
			rec.ID, rec.StartTime.Format(ledger.ListTimeFormat), rec.TotalSize, rec.ScanDurationMs, rec.ArchivePath)
	}
	return w.Flush()
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	if !clearConfirmed {
		return errors.New("refusing to clear the history without --yes")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Scan history cleared")
	return nil
}

func runHistoryVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Records(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Verifying %d snapshots...\n", len(records))

	bar := progress.New(int64(len(records)), out)
	problems, err := scanner.VerifySnapshots(cmd.Context(), records, verifyWorkers, func(rec ledger.Record) {
		bar.SetLabel(fmt.Sprintf("scan %d", rec.ID))
		bar.Increment()
	})
	bar.Finish()
	if err != nil {
		return err
	}

	if len(problems) == 0 {
		fmt.Fprintf(out, "✓ All %d snapshots match their digests\n", len(records))
		return nil
	}
	for _, p := range problems {
		fmt.Fprintf(out, "⚠ %s\n", p)
	}
	return fmt.Errorf("%d of %d snapshots failed verification", len(problems), len(records))
}
