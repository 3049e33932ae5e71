package discovery

import "strings"

// usbBridge names a common USB-to-serial chip.
type usbBridge struct {
	vendor   string
	products map[string]string
}

// Known USB serial bridges keyed by lowercase hex VID, then PID.
var usbBridges = map[string]usbBridge{
	"0403": {
		vendor: "FTDI",
		products: map[string]string{
			"6001": "FT232R",
			"6010": "FT2232",
			"6011": "FT4232",
			"6014": "FT232H",
			"6015": "FT-X",
		},
	},
	"067b": {
		vendor:   "Prolific",
		products: map[string]string{"2303": "PL2303"},
	},
	"10c4": {
		vendor: "Silicon Labs",
		products: map[string]string{
			"ea60": "CP210x",
			"ea70": "CP2105",
		},
	},
	"1a86": {
		vendor: "WCH",
		products: map[string]string{
			"7523": "CH340",
			"55d4": "CH9102",
		},
	},
	"2341": {
		vendor: "Arduino",
		products: map[string]string{
			"0043": "Uno",
			"0042": "Mega 2560",
		},
	},
	"2e8a": {
		vendor:   "Raspberry Pi",
		products: map[string]string{"000a": "Pico"},
	},
	"303a": {
		vendor:   "Espressif",
		products: map[string]string{"1001": "USB JTAG/serial"},
	},
}

// describeUSBBridge returns a short label such as "FTDI FT232R", the vendor
// alone when the product is unknown, or "" when the vendor is unknown.
func describeUSBBridge(vid, pid string) string {
	bridge, ok := usbBridges[strings.ToLower(vid)]
	if !ok {
		return ""
	}
	if product, ok := bridge.products[strings.ToLower(pid)]; ok {
		return bridge.vendor + " " + product
	}
	return bridge.vendor
}
