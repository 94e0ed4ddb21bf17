package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neoxapps/eyefighter"
	_ "github.com/neoxapps/eyefighter/pkg/radios/all"
)

func main() {
	var (
		duration time.Duration
		follow   bool
	)

	cmd := &cobra.Command{
		Use:   "scanner [PREFIX...]",
		Short: "List nearby fixtures",
		Long: `List nearby Bluetooth devices whose name starts with PREFIX.
Without a prefix every registered driver prefix is used.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, prefixes []string) error {
			if follow {
				return stream(cmd, prefixes)
			}

			logrus.Infof("scanning for %s, turn the fixture on now", duration)
			devices, err := eyefighter.Scan(duration, prefixes...)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			if len(devices) == 0 {
				cmd.Println("No supported devices found.")
				cmd.Println("Make sure the fixture is powered and not connected to another host.")
				return nil
			}
			for i, d := range devices {
				printDevice(cmd, i+1, d)
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 15*time.Second, "how long to scan")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "print devices as they are found until interrupted")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func stream(cmd *cobra.Command, prefixes []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	devices, err := eyefighter.ScanStream(ctx, prefixes...)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	n := 0
	for d := range devices {
		n++
		printDevice(cmd, n, d)
	}
	return nil
}

func printDevice(cmd *cobra.Command, i int, d eyefighter.FoundDevice) {
	cmd.Printf("%d: %s\n", i, color.New(color.Bold).Sprint(d.Name))
	cmd.Printf("   ID:   %s\n", d.ID)
	cmd.Printf("   RSSI: %d\n", d.RSSI)
}
