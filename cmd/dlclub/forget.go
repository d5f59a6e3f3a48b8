package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mainmeister/dlclubtwit/internal/feed"
	"github.com/mainmeister/dlclubtwit/internal/ledger"
	"github.com/mainmeister/dlclubtwit/internal/util"
)

var forgetCmd = &cobra.Command{
	Use:   "forget <title>...",
	Short: "Remove episodes from the ledger so they download again",
	Long: `Remove one or more episodes from the ledger. The next fetch run will
download them again. Accepts either the output filename or the episode
title; titles are cleaned the same way fetch cleans them.

The file in the destination directory is not touched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runForget,
}

func init() {
	rootCmd.AddCommand(forgetCmd)
}

func runForget(cmd *cobra.Command, args []string) error {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	dbPath := GetConfigString("db", "dltwit.sqlite")

	led, err := ledger.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer led.Close()

	for _, arg := range args {
		filename := arg
		if !strings.HasSuffix(filename, feed.OutputExtension) {
			filename = feed.CleanTitle(filename) + feed.OutputExtension
		}

		// Removal is idempotent; forgetting an unknown episode is fine
		if err := led.Remove(filename); err != nil {
			return err
		}
		util.SuccessLog("Forgot %s", filename)
	}

	return nil
}
