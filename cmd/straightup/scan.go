package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/straightup/internal/device"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Look for the wearable",
	Long: `Scan for the posture wearable, printing the session log as it goes.

The scan ends when the wearable is found and connected (it is disconnected
again right away) or when --duration elapses. Every device seen along the way
is listed at the end.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 30*time.Second, "Give up after this long")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format for the device list (table, json)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := openWearable(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	stopLog := followLog(ctx, out, w.session.Log())
	scanCtx, cancel := context.WithTimeout(ctx, scanDuration)
	st, err := w.connect(scanCtx)
	cancel()

	switch {
	case err == nil:
		w.session.Disconnect()
		stopLog()
		fmt.Fprintf(out, "\nWearable found: %s\n", describeDevice(st.DeviceAddress, st.DeviceName))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		w.session.StopScan()
		stopLog()
		fmt.Fprintf(out, "\nWearable not found within %s\n", scanDuration)
	default:
		stopLog()
		return err
	}

	return printSightings(out, w.session.Sightings(), w.session.Identity(), scanFormat)
}

func describeDevice(address, name string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s (%s)", address, name)
}

// printSightings lists devices by descending signal strength.
func printSightings(out io.Writer, sightings []device.ScanObservation, id device.DeviceIdentity, format string) error {
	slices.SortFunc(sightings, func(a, b device.ScanObservation) int {
		if a.RSSI != b.RSSI {
			return b.RSSI - a.RSSI
		}
		return strings.Compare(a.Address, b.Address)
	})

	if format == "json" {
		if sightings == nil {
			sightings = []device.ScanObservation{}
		}
		data, err := json.MarshalIndent(sightings, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode devices: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(sightings) == 0 {
		fmt.Fprintln(out, "No devices seen.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tRSSI\tWEARABLE")
	for _, obs := range sightings {
		match := ""
		if id.Matches(obs) {
			match = "yes"
		}
		name := obs.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", obs.Address, name, obs.RSSI, match)
	}
	return tw.Flush()
}

