package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mainmeister/dlclubtwit/internal/feed"
	"github.com/mainmeister/dlclubtwit/internal/ledger"
	"github.com/mainmeister/dlclubtwit/internal/process"
	"github.com/mainmeister/dlclubtwit/internal/report"
	"github.com/mainmeister/dlclubtwit/internal/transfer"
	"github.com/mainmeister/dlclubtwit/internal/util"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download new episodes from the feed",
	Long: `Fetch the member feed and download every episode not yet recorded in
the ledger.

Partial downloads left behind by an interrupted run are resumed from
the last written byte when the server supports range requests. An
episode only enters the ledger once its file is complete and in place,
so a crashed run is always safe to repeat.`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().BoolP("skip", "s", false, "mark episodes complete without downloading")
	fetchCmd.Flags().String("url", "", "feed URL")
	fetchCmd.Flags().String("dest", "", "destination directory (default .)")
	fetchCmd.Flags().Int("blocksize", 0, "read block size in bytes (default 1048576)")
	fetchCmd.Flags().String("events-dir", "", "write JSONL lifecycle events to this directory")

	viper.BindPFlag("skip", fetchCmd.Flags().Lookup("skip"))
	viper.BindPFlag("url", fetchCmd.Flags().Lookup("url"))
	viper.BindPFlag("dest", fetchCmd.Flags().Lookup("dest"))
	viper.BindPFlag("blocksize", fetchCmd.Flags().Lookup("blocksize"))
	viper.BindPFlag("events-dir", fetchCmd.Flags().Lookup("events-dir"))
}

func runFetch(cmd *cobra.Command, args []string) error {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	feedURL := GetConfigString("url", "")
	if feedURL == "" {
		return fmt.Errorf("feed URL is required (use --url or set twitcluburl): %w", util.ErrInvalidConfig)
	}

	dest := GetConfigString("dest", ".")
	blockSize := GetConfigInt("blocksize", transfer.DefaultBlockSize)
	dbPath := GetConfigString("db", "dltwit.sqlite")

	util.InfoLog("Club TWiT URL: %s", feedURL)
	util.InfoLog("Destination: %s", dest)
	util.InfoLog("Blocksize: %s", humanize.Bytes(uint64(blockSize)))

	// One instance per ledger/destination pair; a second one would
	// race the resume files and the ledger
	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another dlclub instance is already running against %s", dbPath)
	}
	defer lock.Unlock()

	led, err := ledger.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer led.Close()

	var events *report.EventLogger
	if dir := viper.GetString("events-dir"); dir != "" {
		events, err = report.NewEventLogger(dir, report.LevelDebug)
		if err != nil {
			return err
		}
		defer events.Close()
		util.DebugLog("Writing events to %s", events.Path())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc := &process.Processor{
		Ledger:        led,
		Downloader:    &transfer.Downloader{BlockSize: blockSize},
		Dest:          dest,
		SkipDownloads: GetConfigBool("skip"),
		Events:        events,
	}
	if !viper.GetBool("quiet") {
		proc.Progress = func(description string, total int64) transfer.Observer {
			return transfer.NewConsoleProgress(description, total)
		}
	}

	summary, err := proc.Run(ctx, feed.NewSource(feedURL))
	if !viper.GetBool("quiet") {
		summary.Render(os.Stdout)
	}

	if errors.Is(err, util.ErrCancelled) || errors.Is(err, context.Canceled) {
		util.WarnLog("Interrupted, partial state kept for the next run")
		return nil
	}
	return err
}
