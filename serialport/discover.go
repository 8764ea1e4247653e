package serialport

import (
	"errors"
	"fmt"
	"strconv"

	"go.bug.st/serial/enumerator"
)

// ErrNoBridge is returned by Discover when no known converter is attached
var ErrNoBridge = errors.New("no supported USB serial bridge found")

// USBID identifies a USB serial converter a bridge may be built on
type USBID struct {
	VendorID  uint16
	ProductID uint16
	Name      string
}

var registeredBridges = []USBID{
	{0x2341, 0x0043, "Arduino Uno"},
	{0x2341, 0x0001, "Arduino Uno"},
	{0x2341, 0x0010, "Arduino Mega"},
	{0x2341, 0x0042, "Arduino Mega 2560"},
	{0x0403, 0x6001, "FTDI FT232"},
	{0x1A86, 0x7523, "CH340"},
	{0x10C4, 0xEA60, "CP210x"},
}

// RegisterBridge adds a converter to the list Discover looks for
func RegisterBridge(vendorID, productID uint16, name string) {
	registeredBridges = append(registeredBridges, USBID{
		VendorID:  vendorID,
		ProductID: productID,
		Name:      name,
	})
}

// Discover returns the device path of the first serial port whose USB
// IDs match a registered converter.
func Discover() (string, USBID, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", USBID{}, fmt.Errorf("failed to list serial ports: %w", err)
	}
	port, id, ok := findBridge(ports)
	if !ok {
		return "", USBID{}, ErrNoBridge
	}
	return port.Name, id, nil
}

func findBridge(ports []*enumerator.PortDetails) (*enumerator.PortDetails, USBID, bool) {
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		portVID, err := strconv.ParseUint(port.VID, 16, 16)
		if err != nil {
			continue
		}
		portPID, err := strconv.ParseUint(port.PID, 16, 16)
		if err != nil {
			continue
		}

		for _, id := range registeredBridges {
			if uint16(portVID) == id.VendorID && uint16(portPID) == id.ProductID {
				return port, id, true
			}
		}
	}
	return nil, USBID{}, false
}
