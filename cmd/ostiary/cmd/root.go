// Package cmd provides the CLI commands for ostiary.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ostiary-ai/ostiary/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ostiary",
	Short: "Ostiary - action authority and approval engine",
	Long: `Ostiary decides how much autonomy an assistant has for each kind of
action it can take on a user's behalf: execute automatically, draft for
approval, always ask, or never act.

Quick start:
  1. Optionally create a config file: ostiary.yaml
  2. Run: ostiary serve

Configuration:
  Config is loaded from ostiary.yaml in the current directory,
  $HOME/.ostiary/, or /etc/ostiary/.

  Environment variables can override config values with the OSTIARY_ prefix.
  Example: OSTIARY_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the API server
  seed        Seed the built-in action type catalog
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ostiary.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
