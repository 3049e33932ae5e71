package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"serial-device/internal/device"
)

func newPortsCommand(app *App) *cobra.Command {
	var tableFormat bool

	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List candidate serial ports in probe order",
		Long: `List the serial ports a scan would probe, most recently attached first.
Ports are not opened. Use --table for USB details.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := app.manager.Ports()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(app.out, "No serial ports found")
				return nil
			}
			if tableFormat {
				renderPortTable(app.out, ports)
				return nil
			}
			for _, p := range ports {
				fmt.Fprintln(app.out, p.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&tableFormat, "table", false, "display output in a styled table")
	return cmd
}

func newScanCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Probe every candidate port and list identified devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := app.manager.Scan()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(app.out, "No devices found")
				return nil
			}

			records := make([]*device.Record, 0, len(names))
			for _, name := range names {
				if rec, ok := app.manager.Lookup(device.ByName(name)); ok {
					records = append(records, rec)
				}
			}
			renderDevices(app.out, records)
			return nil
		},
	}
}

func newCmdCommand(app *App) *cobra.Command {
	var flush bool

	cmd := &cobra.Command{
		Use:   "cmd <name> <payload...>",
		Short: "Send one frame to a device and print its reply",
		Long: `Scan, open the named device, send the payload as one frame and print the
reply. Multiple payload arguments are joined with spaces.

Example usage:
  serialdev cmd DEV-1 status
  serialdev cmd --prefix DEV- DEV-1 set led on --flush`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			payload := strings.Join(args[1:], " ")
			ref := device.ByName(name)

			if _, err := app.manager.Scan(); err != nil {
				return err
			}
			if _, ok := app.manager.Lookup(ref); !ok {
				return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, name)
			}

			if !app.manager.Open(ref) {
				return fmt.Errorf("failed to open %s", name)
			}
			defer app.manager.Close(ref)

			if flush {
				app.manager.Flush(ref)
			}
			reply, err := app.manager.Cmd(ref, payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.out, reply)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&flush, "flush", "f", false, "discard pending input before sending")
	return cmd
}
