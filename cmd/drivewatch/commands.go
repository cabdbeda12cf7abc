package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/metabinary-ltd/drivewatch/internal/installer"
	"github.com/metabinary-ltd/drivewatch/internal/truenas"
	"github.com/metabinary-ltd/drivewatch/internal/types"
)

func newDevicesCmd() *cobra.Command {
	var disksOnly bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List block devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			list := a.devices.ListDevices
			if disksOnly {
				list = a.devices.ListDisks
			}
			devices, err := list(cmd.Context())
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), devices)
			}
			return printDevices(cmd.OutOrStdout(), devices)
		},
	}
	cmd.Flags().BoolVar(&disksOnly, "disks", false, "only list whole disks")
	return cmd
}

func newSmartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "smart <name>",
		Short: "Show evaluated SMART attributes of a drive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			smart, err := a.smart.ReadSmart(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), smart)
			}
			return printSmart(cmd.OutOrStdout(), smart)
		},
	}
}

func newAlertsCmd() *cobra.Command {
	var (
		minLevel         string
		includeDismissed bool
	)
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List TrueNAS alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			minimum, err := types.ParseAlertLevel(minLevel)
			if err != nil {
				return err
			}
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			if a.alerts == nil {
				return fmt.Errorf("%w: set truenas.enabled, truenas.address and truenas.token", types.ErrDisabled)
			}
			alerts, err := a.alerts.FetchAlerts(cmd.Context())
			if err != nil {
				return err
			}
			alerts = truenas.FilterAlerts(alerts, minimum, includeDismissed)
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), alerts)
			}
			return printAlerts(cmd.OutOrStdout(), alerts)
		},
	}
	cmd.Flags().StringVar(&minLevel, "min-level", "info", "minimum level: info, warning, critical or unknown")
	cmd.Flags().BoolVar(&includeDismissed, "include-dismissed", false, "include dismissed alerts")
	return cmd
}

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install drivewatch as a systemd service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			if err := installer.New(runtime.GOOS, a.logger).Install(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s installed and enabled\n", installer.UnitName)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			commit := GitCommit
			if commit == "" {
				commit = "unknown"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "drivewatch %s (commit: %s)\n", Version, commit)
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDevices(w io.Writer, devices []types.Blockdevice) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tSIZE\tMOUNTPOINT\tMODEL\tDISK ID")
	writeDeviceRows(tw, devices, 0)
	return tw.Flush()
}

func writeDeviceRows(w io.Writer, devices []types.Blockdevice, depth int) {
	for _, d := range devices {
		name := d.Name
		if depth > 0 {
			name = strings.Repeat("  ", depth-1) + "└─" + name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			name, d.DeviceType, formatSize(d.SizeKB), deref(d.Mountpoint), deref(d.Model), deref(d.DiskID))
		writeDeviceRows(w, d.Children, depth+1)
	}
}

func formatSize(kb uint64) string {
	if kb > math.MaxUint64/1000 {
		return ">" + humanize.Bytes(math.MaxUint64)
	}
	return humanize.Bytes(kb * 1000)
}

func printSmart(w io.Writer, s types.Smart) error {
	verdict := "PASSED"
	if !s.Passed {
		verdict = "FAILED"
	}
	fmt.Fprintf(w, "Device:        %s (%s, %s)\n", s.Device.Name, s.Device.DeviceType, s.Device.Protocol)
	fmt.Fprintf(w, "Self-assessed: %s\n", verdict)
	fmt.Fprintf(w, "Caution:       %t\n", s.Caution)
	fmt.Fprintf(w, "Power on:      %s hours, %s cycles\n\n", humanize.Comma(int64(s.PowerOnHours)), humanize.Comma(int64(s.PowerCycleCount)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVALUE\tWORST\tTHRESH\tRAW\tCAUTION")
	for _, a := range s.Attributes {
		mark := ""
		if a.Caution {
			mark = "!"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%s\n", a.ID, a.Name, a.Value, a.Worst, a.Threshold, a.Raw, mark)
	}
	return tw.Flush()
}

func printAlerts(w io.Writer, alerts []types.Alert) error {
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(w, "No alerts")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tCLASS\tDISMISSED\tTEXT")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", a.Level, a.Klass, a.Dismissed, a.Text)
	}
	return tw.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
