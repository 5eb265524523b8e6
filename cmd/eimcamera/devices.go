package main

import (
	"fmt"
	"strings"

	camera "github.com/edgeimpulse/linux-camera-go"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the video input devices and quit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		md, err := newSource(sourceFlag, intervalFlag)
		if err != nil {
			return err
		}
		devs, err := camera.ListDevices(cmd.Context(), md)
		if err != nil {
			return fmt.Errorf("listing devices: %w", err)
		}
		for i, dev := range devs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s%s\n", dev.ID, dev.DisplayLabel(i), formatCaps(dev.Caps))
		}
		return nil
	},
}

func formatCaps(caps []camera.DeviceCap) string {
	if len(caps) == 0 {
		return ""
	}
	l := []string{}
	for _, c := range caps {
		l = append(l, fmt.Sprintf("%dx%d@%dfps", c.Width, c.Height, c.Framerate))
	}
	return fmt.Sprintf(" (caps: %s)", strings.Join(l, " "))
}
