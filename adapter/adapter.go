package adapter

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/drawbridge/config"
	"github.com/sergev/drawbridge/drawbridge"
	"github.com/sergev/drawbridge/drive"
	"github.com/sergev/drawbridge/serialport"
)

// FloppyAdapter is a drive with a disk, as the image commands use it
type FloppyAdapter interface {
	Geometry() drive.Geometry
	ReadSector(track, head, sector int) ([]byte, error)
	ReadCylinder(track int) ([][][]byte, int, error)
	WriteTrack(track, head int, sectors [][]byte) error
	WriteProtected() bool
	Close() error
}

var _ FloppyAdapter = (*drive.Session)(nil)

// Open function used by the commands; tests replace it
var openDevice serialport.OpenFunc

// resolvePort returns the configured port, or finds the bridge by USB ID
func resolvePort() (string, error) {
	if config.Port != "" {
		return config.Port, nil
	}
	port, id, err := serialport.Discover()
	if err != nil {
		if errors.Is(err, serialport.ErrNoBridge) {
			return "", fmt.Errorf("%w; use --port to select one", err)
		}
		return "", err
	}
	log.Debugf("found %s on %s", id.Name, port)
	return port, nil
}

// openClient connects to the bridge without requiring a disk
func openClient() (*drawbridge.Client, error) {
	port, err := resolvePort()
	if err != nil {
		return nil, err
	}
	return drawbridge.Open(port, drawbridge.Options{
		CTSFlowControl: config.CTSFlowControl,
		ResetOnFailure: config.ResetOnFailure,
		Open:           openDevice,
	})
}

// openAdapter connects to the bridge and detects the disk in the drive
func openAdapter() (*drive.Session, error) {
	port, err := resolvePort()
	if err != nil {
		return nil, err
	}
	return drive.Open(port, drive.Options{
		CTSFlowControl:    config.CTSFlowControl,
		ResetOnFailure:    config.ResetOnFailure,
		CalibrationOffset: config.CalibrationOffset,
		ReadRetries:       config.ReadRetries,
		Open:              openDevice,
	})
}
