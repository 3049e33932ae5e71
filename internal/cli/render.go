package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"serial-device/internal/device"
	"serial-device/internal/discovery"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
	nameStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func renderPortTable(out io.Writer, ports []discovery.PortInfo) {
	fmt.Fprintf(out, "Found %d serial port(s):\n\n", len(ports))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("#", "Port", "USB", "VID:PID", "Serial", "Description")

	for i, p := range ports {
		ids := ""
		if p.VID != "" || p.PID != "" {
			ids = p.VID + ":" + p.PID
		}
		usb := "no"
		if p.IsUSB {
			usb = "yes"
		}
		t.Row(strconv.Itoa(i+1), p.Name, usb, ids, p.SerialNumber, p.Description)
	}

	fmt.Fprintln(out, t.Render())
}

func renderDevices(out io.Writer, records []*device.Record) {
	fmt.Fprintf(out, "Found %d device(s):\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(out, "  %s  %s\n", nameStyle.Render(rec.Name), dimStyle.Render(rec.Port.Name))
	}
}
