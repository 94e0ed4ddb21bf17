package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/neoxapps/eyefighter/pkg/client"
	"github.com/neoxapps/eyefighter/pkg/config"
	"github.com/neoxapps/eyefighter/pkg/daemon"

	// Registers the LightVISION and MOCK radio drivers.
	_ "github.com/neoxapps/eyefighter/pkg/radios/all"
)

var (
	logLevel       = "info"
	unixSocketPath = daemon.DefaultSocketPath
	configPath     = config.DefaultPath
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func apiClient() *client.Client {
	return client.NewClient(unixSocketPath)
}

func handleCmdError(err error) {
	var se *client.StatusError
	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: eyefighter daemon is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'eyefighter daemon' or check --daemon-socket.")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or restart the daemon with '--always-allow-non-root-access'")
	case errors.As(err, &se) && se.Code == http.StatusServiceUnavailable:
		fmt.Fprintln(os.Stderr, "\nThe fixture is not connected. Try 'eyefighter connect'.")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eyefighter",
		Short: "eyefighter aims a LightVISION fixture where you look",
		Long: `eyefighter maps gaze samples from a face tracker onto the pan and tilt
of a LightVISION fixture over Bluetooth Low Energy.

Run 'eyefighter daemon' on the machine with the Bluetooth adapter, then
calibrate with 'eyefighter calibrate step'.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "eyefighter daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewStatusCommand(),
		NewCalibrateCommand(),
		NewPositionCommand(),
		NewConnectCommand(),
		NewDisconnectCommand(),
		NewScanCommand(),
		NewLedCommand(),
		NewWatchCommand(),
	)

	return cmd
}
