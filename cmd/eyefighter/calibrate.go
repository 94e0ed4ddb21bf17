package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/neoxapps/eyefighter/pkg/calibration"
)

func NewCalibrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibrate",
		Aliases: []string{"calibration", "cali"},
		Short:   "Walk through the five point gaze calibration",
		Long: `Walk through the five point gaze calibration.

The fixture points at each reference position in turn: center, right, down,
left and up. Look at the spot it lights and run 'calibrate step'.`,
		GroupID: gBasic,
	}

	stepCmd := &cobra.Command{
		Use:   "step",
		Short: "Record the current gaze for this point and move on",
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := apiClient().Step()
			if err != nil {
				return fmt.Errorf("failed to step calibration: %w", err)
			}
			if state == calibration.Done {
				cmd.Println("Calibration done.")
				return nil
			}
			cmd.Printf("Now %s: %s\n", bold("%s", state), nextHint(state))
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget every recorded point and start over",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient().Reset(); err != nil {
				return fmt.Errorf("failed to reset calibration: %w", err)
			}
			cmd.Println("Calibration reset.")
			return nil
		},
	}

	cmd.AddCommand(stepCmd, resetCmd)

	return cmd
}

func NewPositionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "position X Y",
		Short:   "Map a raw gaze point with the current calibration",
		GroupID: gAdvanced,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := strconv.ParseFloat(args[0], 32)
			if err != nil {
				return fmt.Errorf("invalid x %q: %w", args[0], err)
			}
			y, err := strconv.ParseFloat(args[1], 32)
			if err != nil {
				return fmt.Errorf("invalid y %q: %w", args[1], err)
			}

			pos, err := apiClient().GetPosition(float32(x), float32(y))
			if err != nil {
				return fmt.Errorf("failed to map position: %w", err)
			}
			cmd.Println(pos)
			return nil
		},
	}
}
