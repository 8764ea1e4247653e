package drive

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/sergev/drawbridge/drawbridge"
	"github.com/sergev/drawbridge/drawbridge/bridgetest"
	"github.com/sergev/drawbridge/mfm"
)

const testPort = "/dev/ttyTEST"

func fill(track, head, sector int) byte {
	return byte(track*40 + head*20 + sector)
}

func openSession(t *testing.T, b *bridgetest.Bridge, opts Options) *Session {
	t.Helper()
	opts.Open = b.Open
	s, err := Open(testPort, opts)
	if err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func expectSector(t *testing.T, data []byte, track, head, sector int) {
	t.Helper()
	want := bytes.Repeat([]byte{fill(track, head, sector)}, SectorSize)
	if !bytes.Equal(data, want) {
		t.Errorf("sector %d/%d/%d = %x..., expected %x...", track, head, sector, data[:4], want[:4])
	}
}

func countCommand(b *bridgetest.Bridge, cmd drawbridge.Command) int {
	return bytes.Count(b.Commands, []byte{byte(cmd)})
}

func TestOpenDetectsGeometry(t *testing.T) {
	testCases := []struct {
		name    string
		hd      bool
		sectors int
		density drawbridge.Command
	}{
		{"DD", false, 9, drawbridge.CMD_SWITCHTO_DD},
		{"HD", true, 18, drawbridge.CMD_SWITCHTO_HD},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := bridgetest.New()
			b.HighDensity = tc.hd
			s := openSession(t, b, Options{})

			g := s.Geometry()
			if g.Tracks != 80 || g.Heads != 2 || g.SectorsPerTrack != tc.sectors || g.HighDensity != tc.hd {
				t.Errorf("Geometry() = %+v, expected 80x2x%d", g, tc.sectors)
			}
			if !bytes.HasSuffix(b.Commands, []byte{'+', '.', '[', '^', 'T', byte(tc.density)}) {
				t.Errorf("commands = %q", b.Commands)
			}
			if s.Client().IsHDMode() != tc.hd {
				t.Errorf("IsHDMode() = %v, expected %v", s.Client().IsHDMode(), tc.hd)
			}
		})
	}
}

func TestOpenWithoutDensityDetection(t *testing.T) {
	b := bridgetest.New()
	b.Flags1 = 0
	b.HighDensity = true
	s := openSession(t, b, Options{})

	if s.Geometry().HighDensity {
		t.Errorf("Geometry() is high density without density detection")
	}
	if countCommand(b, drawbridge.CMD_CHECK_DENSITY) != 0 {
		t.Errorf("density checked on firmware without detection")
	}
}

func TestOpenNoDisk(t *testing.T) {
	b := bridgetest.New()
	b.DiskInDrive = false

	_, err := Open(testPort, Options{Open: b.Open})
	if !errors.Is(err, drawbridge.RESPONSE_NO_DISK_IN_DRIVE) {
		t.Errorf("Open() returned %v, expected %v", err, drawbridge.RESPONSE_NO_DISK_IN_DRIVE)
	}
	if b.Motor {
		t.Errorf("motor left on after a failed open")
	}
}

func TestReadSector(t *testing.T) {
	for _, hd := range []bool{false, true} {
		b := bridgetest.New()
		sectors := 9
		if hd {
			sectors = 18
		}
		b.Format(3, 2, sectors, hd, fill)
		s := openSession(t, b, Options{})

		for head := 0; head < 2; head++ {
			for sector := 1; sector <= sectors; sector++ {
				data, err := s.ReadSector(2, head, sector)
				if err != nil {
					t.Fatalf("hd %v: ReadSector(2, %d, %d) returned error: %v", hd, head, sector, err)
				}
				expectSector(t, data, 2, head, sector)
			}
		}

		// One raw read per side
		reads := countCommand(b, drawbridge.CMD_READTRACK) + countCommand(b, drawbridge.CMD_READTRACKSTREAM)
		if reads != 2 {
			t.Errorf("hd %v: %d track reads, expected 2", hd, reads)
		}
	}
}

func TestReadSectorCacheInvalidation(t *testing.T) {
	b := bridgetest.New()
	b.Format(2, 2, 9, false, fill)
	s := openSession(t, b, Options{})

	for _, track := range []int{0, 0, 1, 1, 0} {
		data, err := s.ReadSector(track, 0, 5)
		if err != nil {
			t.Fatalf("ReadSector(%d, 0, 5) returned error: %v", track, err)
		}
		expectSector(t, data, track, 0, 5)
	}
	if n := countCommand(b, drawbridge.CMD_READTRACK); n != 3 {
		t.Errorf("%d track reads, expected 3", n)
	}
	if !slices.Equal(b.Seeks, []int{0, 1, 0}) {
		t.Errorf("seeks = %v, expected [0 1 0]", b.Seeks)
	}
}

func TestReadSectorDummy(t *testing.T) {
	b := bridgetest.New()
	b.Format(1, 2, 9, false, fill)

	// Only seven sectors recorded on head 1
	b.Tracks[bridgetest.Key{Track: 0, Head: 1}] = bridgetest.EncodeTrack(0, 1, 7, false, func(sector int) byte {
		return fill(0, 1, sector)
	})
	s := openSession(t, b, Options{})

	data, err := s.ReadSector(0, 1, 7)
	if err != nil {
		t.Fatalf("ReadSector(0, 1, 7) returned error: %v", err)
	}
	expectSector(t, data, 0, 1, 7)

	data, err = s.ReadSector(0, 1, 8)
	if !errors.Is(err, ErrDummySector) {
		t.Errorf("ReadSector(0, 1, 8) returned %v, expected %v", err, ErrDummySector)
	}
	want := bytes.Repeat([]byte{0xAA}, SectorSize)
	copy(want, []byte{0, 1, 8, 2})
	if !bytes.Equal(data, want) {
		t.Errorf("dummy sector starts %x, expected %x", data[:8], want[:8])
	}
}

func TestReadSectorRetries(t *testing.T) {
	testCases := []struct {
		name     string
		failures int
		offset   int
		seeks    []int
		err      error
	}{
		{"FirstAttempt", 0, 0, []int{5}, nil},
		{"Recovered", 2, 0, []int{5, 35, 5}, nil},
		{"Offset", 2, 10, []int{5, 15, 5}, nil},
		{"Exhausted", 100, 0, []int{5, 35, 5, 35, 5}, drawbridge.RESPONSE_ERROR},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := bridgetest.New()
			b.Format(6, 2, 18, true, fill)
			s := openSession(t, b, Options{CalibrationOffset: tc.offset})
			b.StreamFailures = tc.failures

			data, err := s.ReadSector(5, 1, 3)
			if tc.err == nil {
				if err != nil {
					t.Fatalf("ReadSector() returned error: %v", err)
				}
				expectSector(t, data, 5, 1, 3)
			} else {
				if !errors.Is(err, tc.err) {
					t.Errorf("ReadSector() returned %v, expected %v", err, tc.err)
				}
				if !bytes.Equal(data, make([]byte, SectorSize)) {
					t.Errorf("data is not zeroed after a hard failure")
				}
			}
			if !slices.Equal(b.Seeks, tc.seeks) {
				t.Errorf("seeks = %v, expected %v", b.Seeks, tc.seeks)
			}
		})
	}
}

func TestCalibrationFromOuterTracks(t *testing.T) {
	b := bridgetest.New()
	s := openSession(t, b, Options{})

	s.calibrate(60)
	if !slices.Equal(b.Seeks, []int{30, 60}) {
		t.Errorf("seeks = %v, expected [30 60]", b.Seeks)
	}
}

func TestReadSectorOutOfRange(t *testing.T) {
	b := bridgetest.New()
	s := openSession(t, b, Options{})

	for _, addr := range [][3]int{{80, 0, 1}, {0, 2, 1}, {0, 0, 0}, {0, 0, 10}, {-1, 0, 1}} {
		_, err := s.ReadSector(addr[0], addr[1], addr[2])
		if !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ReadSector(%v) returned %v, expected %v", addr, err, ErrOutOfRange)
		}
	}
	if len(b.Seeks) != 0 {
		t.Errorf("seeks %v for invalid addresses", b.Seeks)
	}
}

func TestDiskRemoved(t *testing.T) {
	b := bridgetest.New()
	b.Format(1, 2, 9, false, fill)
	s := openSession(t, b, Options{})

	if !s.DiskPresent() {
		t.Fatalf("DiskPresent() = false with a disk")
	}
	b.DiskInDrive = false
	if s.DiskPresent() {
		t.Errorf("DiskPresent() = true after the disk was removed")
	}

	data, err := s.ReadSector(0, 0, 1)
	if !errors.Is(err, drawbridge.RESPONSE_NO_DISK_IN_DRIVE) {
		t.Errorf("ReadSector() returned %v, expected %v", err, drawbridge.RESPONSE_NO_DISK_IN_DRIVE)
	}
	if !bytes.Equal(data, make([]byte, SectorSize)) {
		t.Errorf("data is not zeroed without a disk")
	}
}

func TestWriteProtected(t *testing.T) {
	b := bridgetest.New()
	s := openSession(t, b, Options{})

	if s.WriteProtected() {
		t.Errorf("WriteProtected() = true for a writable disk")
	}
	b.WriteProtected = true
	if !s.WriteProtected() {
		t.Errorf("WriteProtected() = false for a protected disk")
	}
}

func TestReadCylinder(t *testing.T) {
	b := bridgetest.New()
	b.Format(2, 2, 9, false, fill)
	s := openSession(t, b, Options{})

	sides, dummy, err := s.ReadCylinder(1)
	if err != nil {
		t.Fatalf("ReadCylinder() returned error: %v", err)
	}
	if dummy != 0 {
		t.Errorf("ReadCylinder() found %d dummy sectors", dummy)
	}
	if len(sides) != 2 || len(sides[1]) != 9 {
		t.Fatalf("ReadCylinder() returned %d sides", len(sides))
	}
	for head := range sides {
		for i, data := range sides[head] {
			expectSector(t, data, 1, head, i+1)
		}
	}
	if b.Motor {
		t.Errorf("motor still on after ReadCylinder()")
	}

	// The next read spins the drive up again
	if _, _, err := s.ReadCylinder(0); err != nil {
		t.Fatalf("ReadCylinder() returned error: %v", err)
	}
	if n := countCommand(b, drawbridge.CMD_ENABLE); n != 2 {
		t.Errorf("motor enabled %d times, expected 2", n)
	}
}

func TestSetSector(t *testing.T) {
	b := bridgetest.New()
	b.Format(1, 2, 9, false, fill)
	s := openSession(t, b, Options{})

	if s.ReadData(0) != 0 {
		t.Errorf("ReadData() returned data before SetSector()")
	}
	if err := s.SetSector(0, 1, 4); err != nil {
		t.Fatalf("SetSector() returned error: %v", err)
	}
	if got := s.ReadData(511); got != fill(0, 1, 4) {
		t.Errorf("ReadData(511) = %#x, expected %#x", got, fill(0, 1, 4))
	}
	if s.ReadData(512) != 0 {
		t.Errorf("ReadData(512) returned data")
	}

	commands := len(b.Commands)
	if err := s.SetSector(0, 1, 4); err != nil {
		t.Fatalf("SetSector() returned error: %v", err)
	}
	if len(b.Commands) != commands {
		t.Errorf("SetSector() of the current sector sent %q", b.Commands[commands:])
	}
}

func writeData(track, head, sectors int) [][]byte {
	data := make([][]byte, sectors)
	for i := range data {
		data[i] = bytes.Repeat([]byte{byte(0x80 + track + head*0x10 + i)}, SectorSize)
	}
	return data
}

func TestWriteTrack(t *testing.T) {
	b := bridgetest.New()
	b.Format(4, 2, 9, false, fill)
	s := openSession(t, b, Options{})

	// Fill the cache first
	if _, err := s.ReadSector(3, 1, 2); err != nil {
		t.Fatalf("ReadSector() returned error: %v", err)
	}

	sectors := writeData(3, 1, 9)
	if err := s.WriteTrack(3, 1, sectors); err != nil {
		t.Fatalf("WriteTrack() returned error: %v", err)
	}

	key := bridgetest.Key{Track: 3, Head: 1}
	bits := mfm.NewWriter(100000).EncodeTrackIBMPC(sectors, 3, 1, 9, 250)
	if got, want := b.WrittenTracks[key], mfm.Pack(bits, true); !bytes.Equal(got, want) {
		t.Errorf("bridge received %d bytes, expected %d", len(got), len(want))
	}
	if last := b.Commands[len(b.Commands)-1]; last != byte(drawbridge.CMD_WRITETRACKPRECOMP) {
		t.Errorf("write command %c, expected %c", last, drawbridge.CMD_WRITETRACKPRECOMP)
	}

	// The drive now holds the new track
	b.Tracks[key] = bits
	data, err := s.ReadSector(3, 1, 2)
	if err != nil {
		t.Fatalf("ReadSector() returned error: %v", err)
	}
	if !bytes.Equal(data, sectors[1]) {
		t.Errorf("read back %x..., expected %x...", data[:4], sectors[1][:4])
	}
}

func TestWriteTrackHD(t *testing.T) {
	b := bridgetest.New()
	b.HighDensity = true
	s := openSession(t, b, Options{})

	sectors := writeData(0, 0, 18)
	if err := s.WriteTrack(0, 0, sectors); err != nil {
		t.Fatalf("WriteTrack() returned error: %v", err)
	}
	bits := mfm.NewWriter(200000).EncodeTrackIBMPC(sectors, 0, 0, 18, 500)
	if got, want := b.WrittenTracks[bridgetest.Key{}], mfm.PackHD(bits); !bytes.Equal(got, want) {
		t.Errorf("bridge received %d bytes, expected %d", len(got), len(want))
	}
}

func TestWriteTrackErrors(t *testing.T) {
	b := bridgetest.New()
	s := openSession(t, b, Options{})

	if err := s.WriteTrack(0, 0, writeData(0, 0, 8)); err == nil {
		t.Errorf("WriteTrack() accepted 8 sectors")
	}
	short := writeData(0, 0, 9)
	short[3] = short[3][:100]
	if err := s.WriteTrack(0, 0, short); err == nil {
		t.Errorf("WriteTrack() accepted a short sector")
	}
	if err := s.WriteTrack(80, 0, writeData(0, 0, 9)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("WriteTrack() returned %v, expected %v", err, ErrOutOfRange)
	}

	b.WriteProtected = true
	err := s.WriteTrack(0, 0, writeData(0, 0, 9))
	if !errors.Is(err, drawbridge.RESPONSE_WRITE_PROTECTED) {
		t.Errorf("WriteTrack() returned %v, expected %v", err, drawbridge.RESPONSE_WRITE_PROTECTED)
	}
	if len(b.WrittenTracks) != 0 {
		t.Errorf("data written: %v", len(b.WrittenTracks))
	}
}
