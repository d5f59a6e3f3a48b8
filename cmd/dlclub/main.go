package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mainmeister/dlclubtwit/internal/util"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "dlclub",
		Short: "Club TWiT downloader - fetch member feed episodes exactly once",
		Long: `dlclub polls a members-only podcast RSS feed and downloads each
episode's media file into a destination directory exactly once.

Interrupted downloads resume from where they stopped, and completed
episodes are recorded in a SQLite ledger so reruns only fetch what is
still missing.`,
		Version: Version,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./dlclub.yaml)")
	rootCmd.PersistentFlags().String("db", "dltwit.sqlite", "ledger database file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("dlclub")
		viper.SetConfigType("yaml")
	}

	// Read in environment variables that match
	viper.SetEnvPrefix("TWITCLUB")
	viper.AutomaticEnv()

	// Legacy lowercase variable names keep working
	viper.BindEnv("url", "TWITCLUB_URL", "twitcluburl")
	viper.BindEnv("blocksize", "TWITCLUB_BLOCKSIZE", "twitclubblocksize")
	viper.BindEnv("dest", "TWITCLUB_DEST", "twitclubdestination")

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
