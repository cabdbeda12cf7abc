package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// set by -ldflags at build time
var (
	Version   = "dev"
	GitCommit = ""
)

var (
	cfgFile    string
	outputJSON bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "drivewatch",
		Short: "Storage health and TrueNAS alert API",
		Long: `drivewatch inspects block devices and SMART counters on this host and
relays TrueNAS alerts through a small read-only HTTP API.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default /etc/drivewatch/config.yml when present)")
	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	root.AddCommand(
		newServeCmd(),
		newDevicesCmd(),
		newSmartCmd(),
		newAlertsCmd(),
		newInstallCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
