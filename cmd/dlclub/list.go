package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dhowden/tag"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mainmeister/dlclubtwit/internal/ledger"
	"github.com/mainmeister/dlclubtwit/internal/util"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List completed episodes recorded in the ledger",
	Long: `List every episode the ledger considers complete, together with the
state of its file in the destination directory and, where readable,
the media title embedded in the file itself.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().String("dest", "", "destination directory (default .)")
	viper.BindPFlag("dest", listCmd.Flags().Lookup("dest"))
}

func runList(cmd *cobra.Command, args []string) error {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	dest := GetConfigString("dest", ".")
	dbPath := GetConfigString("db", "dltwit.sqlite")

	led, err := ledger.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer led.Close()

	entries, err := led.Entries()
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		util.InfoLog("Ledger is empty")
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Filename", "Recorded", "On disk", "Size", "Media title"})

	for _, e := range entries {
		onDisk := "no"
		size := "-"
		mediaTitle := "-"

		path := filepath.Join(dest, e.Filename)
		if info, err := os.Stat(path); err == nil {
			onDisk = "yes"
			size = humanize.Bytes(uint64(info.Size()))
			mediaTitle = readMediaTitle(path)
		}

		tw.AppendRow(table.Row{
			e.Filename,
			e.RecordedAt.Format("2006-01-02 15:04"),
			onDisk,
			size,
			mediaTitle,
		})
	}

	tw.Render()
	return nil
}

// readMediaTitle extracts the title tag from a downloaded media file.
// Not every file carries readable tags; failures just yield "-".
func readMediaTitle(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "-"
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil || m.Title() == "" {
		return "-"
	}
	return m.Title()
}
