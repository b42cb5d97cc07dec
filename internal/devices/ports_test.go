package devices

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func stubEnumerators(t *testing.T, detailed func() ([]*enumerator.PortDetails, error), basic func() ([]string, error)) {
	t.Helper()
	prevDetailed, prevBasic := detailedPortsList, basicPortsList
	detailedPortsList, basicPortsList = detailed, basic
	t.Cleanup(func() {
		detailedPortsList, basicPortsList = prevDetailed, prevBasic
	})
}

func TestListPortsDescribesUSBAdapters(t *testing.T) {
	stubEnumerators(t, func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "COM4", IsUSB: true, VID: "0403", PID: "6001", Product: "FT232R USB UART"},
			{Name: "COM1"},
			{Name: "COM3", IsUSB: true, VID: "1a86", PID: "7523"},
			{Name: "COM5", IsUSB: true, VID: "dead", PID: "beef"},
		}, nil
	}, nil)

	ports := ListPorts()
	require.Len(t, ports, 4)

	assert.Equal(t, PortInfo{Device: "COM1", Description: "Puerto serie", Manufacturer: UnknownManufacturer}, ports[0])
	assert.Equal(t, PortInfo{Device: "COM3", Description: "USB 1A86:7523", Manufacturer: "WCH"}, ports[1])
	assert.Equal(t, PortInfo{Device: "COM4", Description: "FT232R USB UART", Manufacturer: "FTDI"}, ports[2])
	assert.Equal(t, UnknownManufacturer, ports[3].Manufacturer)
}

func TestListPortsFallsBackToNames(t *testing.T) {
	stubEnumerators(t,
		func() ([]*enumerator.PortDetails, error) { return nil, errors.New("wmi unavailable") },
		func() ([]string, error) { return []string{"/dev/ttyUSB1", "/dev/ttyS0"}, nil },
	)

	ports, err := ListPortsChecked()
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, "/dev/ttyS0", ports[0].Device)
	assert.Equal(t, UnknownManufacturer, ports[1].Manufacturer)
}

func TestListPortsNeverFails(t *testing.T) {
	stubEnumerators(t,
		func() ([]*enumerator.PortDetails, error) { return nil, errors.New("wmi unavailable") },
		func() ([]string, error) { return nil, errors.New("permission denied") },
	)

	_, err := ListPortsChecked()
	assert.Error(t, err)

	ports := ListPorts()
	assert.NotNil(t, ports)
	assert.Empty(t, ports)
}
