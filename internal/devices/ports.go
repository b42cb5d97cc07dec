package devices

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const UnknownManufacturer = "Unknown"

// overridable in tests
var (
	detailedPortsList = enumerator.GetDetailedPortsList
	basicPortsList    = serial.GetPortsList
)

var usbVendors = map[string]string{
	"0403": "FTDI",
	"067B": "Prolific",
	"1A86": "WCH",
	"10C4": "Silicon Labs",
	"04D8": "Microchip",
	"2341": "Arduino",
	"0557": "ATEN",
}

// ListPorts enumerates serial ports. It never fails; enumeration errors
// yield an empty list.
func ListPorts() []PortInfo {
	ports, err := ListPortsChecked()
	if err != nil {
		return []PortInfo{}
	}
	return ports
}

// ListPortsChecked is ListPorts for callers that need to tell an empty
// machine from a broken enumerator.
func ListPortsChecked() ([]PortInfo, error) {
	details, err := detailedPortsList()
	if err == nil {
		out := make([]PortInfo, 0, len(details))
		for _, d := range details {
			out = append(out, describePort(d))
		}
		sortPorts(out)
		return out, nil
	}

	names, basicErr := basicPortsList()
	if basicErr != nil {
		return nil, fmt.Errorf("enumerator: %w", err)
	}

	out := make([]PortInfo, 0, len(names))
	for _, name := range names {
		out = append(out, PortInfo{Device: name, Description: "Puerto serie", Manufacturer: UnknownManufacturer})
	}
	sortPorts(out)
	return out, nil
}

func describePort(d *enumerator.PortDetails) PortInfo {
	info := PortInfo{
		Device:       d.Name,
		Description:  "Puerto serie",
		Manufacturer: UnknownManufacturer,
	}
	if !d.IsUSB {
		return info
	}

	vid := strings.ToUpper(d.VID)
	switch {
	case strings.TrimSpace(d.Product) != "":
		info.Description = strings.TrimSpace(d.Product)
	case vid != "":
		info.Description = fmt.Sprintf("USB %s:%s", vid, strings.ToUpper(d.PID))
	}
	if name, ok := usbVendors[vid]; ok {
		info.Manufacturer = name
	}
	return info
}

func sortPorts(ports []PortInfo) {
	sort.Slice(ports, func(i, j int) bool {
		return ports[i].Device < ports[j].Device
	})
}
