package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/guidoenr/backdrop/internal/audio"
)

func newDevicesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices usable for beat detection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			release, err := audio.Initialize()
			if err != nil {
				return fmt.Errorf("initialize audio: %w", err)
			}
			defer release()

			devices, err := audio.ListDevices()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			return renderDevices(cmd, devices, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func renderDevices(cmd *cobra.Command, devices []audio.Device, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, "No audio input devices found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tHOST API\tINPUTS\tRATE\tNOTES")
	for _, d := range devices {
		notes := ""
		if d.Default {
			notes += "default "
		}
		if d.Recommended {
			notes += "recommended"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.0f Hz\t%s\n", d.Name, d.HostAPI, d.Inputs, d.SampleRate, notes)
	}
	return w.Flush()
}
