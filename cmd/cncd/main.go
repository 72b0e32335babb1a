// cncd runs the CNC interpreter and motion-planning core.
//
// Usage:
//
//	cncd serve    -config machine.cfg [--addr :7125] [--program part.nc]
//	cncd check    part.nc [more.nc ...]
//	cncd simulate -config machine.cfg part.nc
//	cncd ports
//	cncd version
//
// Examples:
//
//	# Serve the operator API with the field link from the config
//	cncd serve -config ~/machine.cfg
//
//	# Validate programs before loading them on the machine
//	cncd check parts/*.nc
//
//	# Estimate the cycle time of a program without a machine
//	cncd simulate -config ~/machine.cfg --dry-run part.nc
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cncd",
	Short: "CNC interpreter and motion-planning core",
	Long: `cncd interprets G-code part programs, plans look-ahead motion and
gates every command on the field-layer safety status.

Commands:
  serve     - operator API, field link and controller
  check     - parse programs and report load-time errors
  simulate  - run a program without hardware and print a summary
  ports     - list serial devices for the field link`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cncd %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "machine configuration file (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override [log] level: debug, info, warn, error")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
