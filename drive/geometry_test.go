package drive

import "testing"

func TestNewGeometry(t *testing.T) {
	testCases := []struct {
		name       string
		sectors    int
		hd         bool
		dataRate   int
		bitRate    uint16
		gap2       int
		gap3       int
		diskFlags  uint16
		trackFlags uint16
		sideFlags  uint16
	}{
		{"720K", 9, false, 2, 250, 22, 80, 0x88, 0x0A, 0x0A},
		{"800K", 10, false, 2, 250, 22, 34, 0x88, 0x0A, 0x0A},
		{"1.2M", 15, true, 4, 500, 22, 84, 0x8A, 0x28, 0x0A},
		{"1.44M", 18, true, 0, 500, 22, 108, 0x8A, 0x08, 0x08},
		{"2.88M", 36, true, 3, 1000, 41, 84, 0x8C, 0x0B, 0x0B},
		{"Unknown", 50, true, 0, 500, 22, 108, 0x08, 0x00, 0x08},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGeometry(80, 2, tc.sectors, tc.hd)
			if g.DataRate != tc.dataRate {
				t.Errorf("DataRate = %d, expected %d", g.DataRate, tc.dataRate)
			}
			if g.BitRate() != tc.bitRate {
				t.Errorf("BitRate() = %d, expected %d", g.BitRate(), tc.bitRate)
			}
			if g.Gap2 != tc.gap2 || g.Gap3 != tc.gap3 {
				t.Errorf("gaps = %d/%d, expected %d/%d", g.Gap2, g.Gap3, tc.gap2, tc.gap3)
			}
			if g.DiskFlags != tc.diskFlags {
				t.Errorf("DiskFlags = %#x, expected %#x", g.DiskFlags, tc.diskFlags)
			}
			if g.TrackFlags != tc.trackFlags {
				t.Errorf("TrackFlags = %#x, expected %#x", g.TrackFlags, tc.trackFlags)
			}
			if g.SideFlags() != tc.sideFlags {
				t.Errorf("SideFlags() = %#x, expected %#x", g.SideFlags(), tc.sideFlags)
			}
		})
	}
}

func TestGeometrySingleSided(t *testing.T) {
	g := NewGeometry(40, 1, 9, false)
	if g.DiskFlags&0x08 != 0 {
		t.Errorf("DiskFlags = %#x, single sided disk marked double sided", g.DiskFlags)
	}
	if g.Sectors() != 360 {
		t.Errorf("Sectors() = %d, expected 360", g.Sectors())
	}
}
