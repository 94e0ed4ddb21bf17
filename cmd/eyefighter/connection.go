package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func NewConnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "connect [NAME]",
		Short:   "Scan for the fixture and connect to it",
		Long:    `Scan for the fixture and connect to it. NAME defaults to the configured device name.`,
		GroupID: gBasic,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := apiClient().Connect(firstArg(args)); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			cmd.Println("Connecting. Check 'eyefighter status' for progress.")
			return nil
		},
	}
}

func NewDisconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "disconnect [NAME]",
		Short:   "Drop the link to the fixture",
		GroupID: gBasic,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := apiClient().Disconnect(firstArg(args)); err != nil {
				return fmt.Errorf("failed to disconnect: %w", err)
			}
			cmd.Println("Disconnecting.")
			return nil
		},
	}
}

func NewScanCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "scan",
		Short:   "Start discovering nearby peripherals",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient().Scan(); err != nil {
				return fmt.Errorf("failed to scan: %w", err)
			}
			cmd.Println("Scanning. Discovered peripherals show up in 'eyefighter status --json'.")
			return nil
		},
	}
}

func NewLedCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "led on|off",
		Short:     "Switch the fixture's lamp",
		Long:      `Switch the fixture's lamp. This needs the json wire format.`,
		GroupID:   gBasic,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			if _, err := apiClient().SetLed(on); err != nil {
				return fmt.Errorf("failed to switch lamp: %w", err)
			}
			cmd.Printf("Lamp %s.\n", args[0])
			return nil
		},
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
	return b, nil
}
