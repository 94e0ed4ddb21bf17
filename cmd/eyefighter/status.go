package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/neoxapps/eyefighter/pkg/calibration"
	"github.com/neoxapps/eyefighter/pkg/connection"
)

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of eyefighter",
		Long:    `Get the calibration progress, the recorded calibration values and the fixture link.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient().GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			if asJSON {
				b, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}

			cmd.Println(bold("Fixture:"))
			cmd.Printf("  State: %s\n", connectionText(st.Connection.State))
			if d := st.Connection.Device; d != nil {
				cmd.Printf("  Device: %s (%s, %d dBm)\n", bold("%s", d.Name), d.ID, d.RSSI)
			}
			if c := st.Connection.Characteristic; c != nil {
				cmd.Printf("  Characteristic: %s\n", c.UUID)
				cmd.Printf("  Max write length: %s\n", bold("%d bytes", st.Connection.MaxWriteLength))
			}
			cmd.Printf("  Wire format: %s\n", bold("%s", st.Connection.WireFormat))
			cmd.Printf("  Peripherals seen: %d\n", len(st.Connection.Peripherals))

			cmd.Println()

			cal := st.Calibration
			cmd.Println(bold("Calibration:"))
			cmd.Printf("  State: %s\n", bold("%s", cal.State))
			cmd.Printf("  Calibrated: %s\n", bool2Text(cal.Calibrated))
			cmd.Printf("  Face detected: %s\n", bool2Text(cal.FaceDetected))
			printScalar(cmd, "Center X", cal.Values.CenterX)
			printScalar(cmd, "Center Y", cal.Values.CenterY)
			printScalar(cmd, "Max X", cal.Values.MaxX)
			printScalar(cmd, "Min X", cal.Values.MinX)
			printScalar(cmd, "Max Y", cal.Values.MaxY)
			printScalar(cmd, "Min Y", cal.Values.MinY)
			if !cal.Calibrated {
				cmd.Printf("  Next: %s\n", nextHint(cal.State))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")

	return cmd
}

func printScalar(cmd *cobra.Command, name string, v *float32) {
	if v == nil {
		cmd.Printf("  %s: -\n", name)
		return
	}
	cmd.Printf("  %s: %s\n", name, bold("%.3f", *v))
}

func nextHint(s calibration.State) string {
	switch s {
	case calibration.Initial:
		return "run 'eyefighter calibrate step' to start"
	case calibration.Done:
		return "nothing"
	default:
		return fmt.Sprintf("look %s and run 'eyefighter calibrate step'", lookAt(s))
	}
}

func lookAt(s calibration.State) string {
	switch s {
	case calibration.Center:
		return "at the center"
	case calibration.Right, calibration.Left:
		return "to the " + s.String()
	default:
		return s.String()
	}
}

func connectionText(s connection.State) string {
	switch s {
	case connection.Connected:
		return color.New(color.Bold, color.FgGreen).Sprint(s)
	case connection.Connecting:
		return color.New(color.Bold, color.FgYellow).Sprint(s)
	default:
		return color.New(color.Bold, color.FgRed).Sprint(s)
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
