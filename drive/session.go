// Package drive manages a floppy drive behind a DrawBridge: it detects the
// disk geometry, caches raw tracks and serves decoded sectors.
package drive

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sergev/drawbridge/drawbridge"
	"github.com/sergev/drawbridge/mfm"
	"github.com/sergev/drawbridge/serialport"
)

// SectorSize is the only sector size the session handles
const SectorSize = 512

const (
	DefaultCalibrationOffset = 30
	DefaultReadRetries       = 3
)

var (
	// ErrDummySector is returned with the dummy pattern when a sector
	// could not be found on the track.
	ErrDummySector = errors.New("sector not found, dummy data returned")

	ErrOutOfRange = errors.New("sector address out of range")
)

// Options controls how the session talks to the drive
type Options struct {
	CTSFlowControl bool
	ResetOnFailure bool

	// Distance of the seek made between failed reads of a track
	CalibrationOffset int

	// Attempts to read a track before giving up
	ReadRetries int

	// Opens the serial device; nil means the real driver
	Open serialport.OpenFunc
}

type rawTrack struct {
	data  []byte
	valid bool
}

// Session is an open drive with a detected disk. It is not safe for
// concurrent use.
type Session struct {
	client   *drawbridge.Client
	opts     Options
	log      *log.Entry
	geometry Geometry

	diskInserted bool
	track        int // where the head is, -1 when unknown
	cachedTrack  int
	raw          [2]rawTrack

	// Sector served by ReadData
	current struct {
		track, head, sector int
		valid               bool
		data                []byte
	}
}

// Open connects to the bridge, spins up the drive and detects the disk
func Open(port string, opts Options) (*Session, error) {
	if opts.CalibrationOffset == 0 {
		opts.CalibrationOffset = DefaultCalibrationOffset
	}
	if opts.ReadRetries <= 0 {
		opts.ReadRetries = DefaultReadRetries
	}

	client, err := drawbridge.Open(port, drawbridge.Options{
		CTSFlowControl: opts.CTSFlowControl,
		ResetOnFailure: opts.ResetOnFailure,
		Open:           opts.Open,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		client:      client,
		opts:        opts,
		log:         log.WithField("port", port),
		track:       -1,
		cachedTrack: -1,
	}
	s.current.data = make([]byte, SectorSize)

	if err := client.EnableReading(true, true, false); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to enable reading: %w", err)
	}
	if err := s.detectGeometry(); err != nil {
		client.Close()
		return nil, err
	}
	s.log.Infof("detected %s", s.geometry)
	return s, nil
}

func (s *Session) detectGeometry() error {
	present, err := s.client.CheckForDisk(true)
	if err != nil {
		return fmt.Errorf("failed to detect geometry: %w", err)
	}
	s.diskInserted = present

	isHD, err := s.client.CheckDiskCapacity()
	if err != nil {
		s.log.Warnf("failed to detect capacity, assuming DD: %v", err)
		isHD = false
	}
	if err := s.client.SetDiskCapacity(isHD); err != nil {
		return fmt.Errorf("failed to set disk capacity: %w", err)
	}

	if isHD {
		s.geometry = NewGeometry(80, 2, mfm.IBM_HD_SECTORS, true)
	} else {
		s.geometry = NewGeometry(80, 2, mfm.IBM_DD_SECTORS, false)
	}
	return nil
}

// Client returns the underlying bridge connection
func (s *Session) Client() *drawbridge.Client {
	return s.client
}

// Geometry returns the detected disk layout
func (s *Session) Geometry() Geometry {
	return s.geometry
}

// DiskPresent asks the drive whether a disk is inserted
func (s *Session) DiskPresent() bool {
	present, err := s.client.CheckForDisk(true)
	if err != nil && !errors.Is(err, drawbridge.RESPONSE_NO_DISK_IN_DRIVE) {
		s.log.Debugf("disk check: %v", err)
		return s.diskInserted
	}
	if !present {
		s.invalidate()
	}
	s.diskInserted = present
	return present
}

// WriteProtected asks the drive whether the disk is write protected.
// A failed check counts as protected.
func (s *Session) WriteProtected() bool {
	protected, err := s.client.CheckWriteProtected(true)
	if err != nil && !errors.Is(err, drawbridge.RESPONSE_WRITE_PROTECTED) {
		s.log.Debugf("write protect check: %v", err)
		return true
	}
	return protected
}

func (s *Session) checkAddress(track, head, sector int) error {
	g := s.geometry
	if track < 0 || track >= g.Tracks || head < 0 || head >= g.Heads || sector < 1 || sector > g.SectorsPerTrack {
		return fmt.Errorf("track %d head %d sector %d: %w", track, head, sector, ErrOutOfRange)
	}
	return nil
}

// ReadSector returns the 512 bytes of a sector, numbered from 1.
// Sectors with CRC errors are returned as read. When the sector is
// missing, the data is 0xAA filled and starts with the track, head,
// sector and size code, and ErrDummySector is returned. On a hard
// failure the data is all zeros.
func (s *Session) ReadSector(track, head, sector int) ([]byte, error) {
	buf := make([]byte, SectorSize)
	if err := s.checkAddress(track, head, sector); err != nil {
		return buf, err
	}
	if !s.diskInserted {
		return buf, drawbridge.RESPONSE_NO_DISK_IN_DRIVE
	}
	logger := s.log.WithField("track", track)

	raw, err := s.readRawTrack(track, head)
	if err != nil {
		return buf, err
	}

	decoded := mfm.DecodeTrack(raw, track, head, s.geometry.HighDensity, s.geometry.SectorsPerTrack)
	found := decoded.Sector(sector - 1)
	if found != nil && found.Errors < 0xFF {
		copy(buf, found.Data)
		if found.Errors != 0 {
			logger.Warnf("head %d sector %d has %d errors", head, sector, found.Errors)
		}
		return buf, nil
	}

	logger.Warnf("head %d sector %d not found, using dummy data", head, sector)
	for i := range buf {
		buf[i] = 0xAA
	}
	buf[0] = byte(track)
	buf[1] = byte(head)
	buf[2] = byte(sector)
	buf[3] = 2
	return buf, ErrDummySector
}

// readRawTrack returns the raw bitstream of one side, from the cache or
// from the drive. Failed reads are retried after a calibration seek.
func (s *Session) readRawTrack(track, head int) ([]byte, error) {
	logger := s.log.WithField("track", track)
	if err := s.seek(track); err != nil {
		return nil, err
	}
	if err := s.client.SelectSurface(drawbridge.SurfaceForHead(head)); err != nil {
		return nil, fmt.Errorf("failed to select side %d: %w", head, err)
	}

	r := &s.raw[head]
	if r.valid && s.cachedTrack == track {
		logger.Debugf("using cached side %d", head)
		return r.data, nil
	}
	if err := s.spinUp(); err != nil {
		return nil, err
	}

	length := drawbridge.RawTrackLengthDD
	if s.geometry.HighDensity {
		length = drawbridge.RawTrackLengthHD
	}
	if len(r.data) != length {
		r.data = make([]byte, length)
	}

	var err error
	for attempt := 1; attempt <= s.opts.ReadRetries; attempt++ {
		if err = s.client.ReadCurrentTrack(r.data, true); err == nil {
			break
		}
		logger.Warnf("failed to read side %d (attempt %d/%d): %v", head, attempt, s.opts.ReadRetries, err)
		if attempt < s.opts.ReadRetries {
			s.calibrate(track)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read track %d side %d: %w", track, head, err)
	}

	r.valid = true
	s.cachedTrack = track
	return r.data, nil
}

// calibrate moves the head away and back so it settles on the track again
func (s *Session) calibrate(track int) {
	target := track + s.opts.CalibrationOffset
	if track >= s.geometry.Tracks/2 {
		target = track - s.opts.CalibrationOffset
	}
	target = min(max(target, 0), drawbridge.MaxTrack)
	s.log.WithField("track", track).Warnf("calibration seek to cylinder %d", target)

	if err := s.client.SelectTrack(target); err != nil {
		s.log.Debugf("calibration seek: %v", err)
	}
	if err := s.client.SelectTrack(track); err != nil {
		s.log.Debugf("seek back: %v", err)
	}
}

// seek moves the head, dropping the cached sides when the track changes
func (s *Session) seek(track int) error {
	if s.track == track {
		return nil
	}
	if err := s.client.SelectTrack(track); err != nil {
		s.track = -1
		return fmt.Errorf("failed to seek to cylinder %d: %w", track, err)
	}
	s.track = track
	s.raw[0].valid = false
	s.raw[1].valid = false
	return nil
}

// spinUp turns the motor on for reading unless it already is
func (s *Session) spinUp() error {
	if s.client.State() == drawbridge.STATE_READING {
		return nil
	}
	if err := s.client.EnableReading(true, false, false); err != nil {
		return fmt.Errorf("failed to enable reading: %w", err)
	}
	return nil
}

func (s *Session) invalidate() {
	s.raw[0].valid = false
	s.raw[1].valid = false
	s.cachedTrack = -1
	s.current.valid = false
}

// ReadCylinder reads every sector of both sides of a track and turns the
// motor off afterwards. The result is indexed by head, then by sector
// number minus one. It also returns the number of dummy sectors, and the
// first hard failure if any.
func (s *Session) ReadCylinder(track int) ([][][]byte, int, error) {
	g := s.geometry
	if track < 0 || track >= g.Tracks {
		return nil, 0, fmt.Errorf("track %d: %w", track, ErrOutOfRange)
	}

	sides := make([][][]byte, g.Heads)
	dummy := 0
	var firstErr error
	for head := range sides {
		sides[head] = make([][]byte, g.SectorsPerTrack)
		for sector := 1; sector <= g.SectorsPerTrack; sector++ {
			data, err := s.ReadSector(track, head, sector)
			sides[head][sector-1] = data
			switch {
			case errors.Is(err, ErrDummySector):
				dummy++
			case err != nil && firstErr == nil:
				firstErr = err
			}
		}
	}

	if err := s.client.EnableReading(false, false, false); err != nil {
		s.log.Debugf("motor off: %v", err)
	}
	return sides, dummy, firstErr
}

// SetSector selects the sector served by ReadData, reading it from the
// drive unless it is already the current one.
func (s *Session) SetSector(track, head, sector int) error {
	if err := s.checkAddress(track, head, sector); err != nil {
		return err
	}
	c := &s.current
	if c.valid && c.track == track && c.head == head && c.sector == sector {
		return nil
	}
	data, err := s.ReadSector(track, head, sector)
	copy(c.data, data)
	c.track, c.head, c.sector = track, head, sector
	c.valid = true
	return err
}

// ReadData returns one byte of the current sector, or zero when there
// is none.
func (s *Session) ReadData(pos int) byte {
	if !s.current.valid || pos < 0 || pos >= SectorSize {
		return 0
	}
	return s.current.data[pos]
}

// WriteTrack formats one side of a track with the given sectors, which
// must hold SectorsPerTrack buffers of 512 bytes.
func (s *Session) WriteTrack(track, head int, sectors [][]byte) error {
	g := s.geometry
	if track < 0 || track >= g.Tracks || head < 0 || head >= g.Heads {
		return fmt.Errorf("track %d head %d: %w", track, head, ErrOutOfRange)
	}
	if len(sectors) != g.SectorsPerTrack {
		return fmt.Errorf("got %d sectors, expected %d", len(sectors), g.SectorsPerTrack)
	}
	for i, data := range sectors {
		if len(data) != SectorSize {
			return fmt.Errorf("sector %d has %d bytes, expected %d", i+1, len(data), SectorSize)
		}
	}
	logger := s.log.WithField("track", track)

	bits := mfm.NewWriter(g.halfBits()).EncodeTrackIBMPC(sectors, track, head, g.SectorsPerTrack, g.BitRate())

	if err := s.client.EnableWriting(true, false); err != nil {
		return fmt.Errorf("failed to enable writing: %w", err)
	}
	if err := s.seek(track); err != nil {
		return err
	}
	if err := s.client.SelectSurface(drawbridge.SurfaceForHead(head)); err != nil {
		return fmt.Errorf("failed to select side %d: %w", head, err)
	}

	// The cached copy is stale whatever the outcome
	s.raw[head].valid = false
	if s.current.track == track && s.current.head == head {
		s.current.valid = false
	}

	if err := s.client.WriteCurrentTrack(bits, true, true); err != nil {
		return fmt.Errorf("failed to write track %d side %d: %w", track, head, err)
	}
	logger.Debugf("wrote side %d, %d bytes of MFM", head, len(bits))
	return nil
}

// Close turns the drive off and releases the port
func (s *Session) Close() error {
	s.invalidate()
	return s.client.Close()
}
