package drive

import (
	"fmt"

	"github.com/sergev/drawbridge/mfm"
)

// Geometry describes the layout of the disk in the drive and the
// encoding parameters derived from it.
type Geometry struct {
	Tracks          int
	Heads           int
	SectorsPerTrack int
	HighDensity     bool

	// Data rate code: 0 for 500 kbps, 1 for 300 kbps, 2 for 250 kbps,
	// 3 for 1000 kbps, 4 for 500 kbps at 360 RPM
	DataRate int

	Gap2       int
	Gap3       int
	DiskFlags  uint16
	TrackFlags uint16
}

const (
	defaultGap2 = 22
	defaultGap3 = 108
)

// Highest sector count per data rate for 512-byte sectors
var (
	maximumSectors = [6]int{7, 10, 12, 17, 22, 41}
	dataRates      = [6]int{2, 2, 1, 4, 0, 3}
	holes          = [6]uint16{0, 0, 0, 1, 1, 2}
)

// NewGeometry returns the geometry of an IBM PC format with 512-byte
// sectors, with gap sizes and flags looked up from the sector count.
func NewGeometry(tracks, heads, sectors int, highDensity bool) Geometry {
	g := Geometry{
		Tracks:          tracks,
		Heads:           heads,
		SectorsPerTrack: sectors,
		HighDensity:     highDensity,
		Gap2:            defaultGap2,
		Gap3:            defaultGap3,
	}
	if heads > 1 {
		g.DiskFlags = 0x08
	}
	g.calculateGapSizes()
	return g
}

func (g *Geometry) calculateGapSizes() {
	i := 0
	for i < len(maximumSectors) && g.SectorsPerTrack > maximumSectors[i] {
		i++
	}
	if i == len(maximumSectors) {
		// Unknown format: default gaps
		return
	}

	g.DataRate = dataRates[i]
	g.DiskFlags |= holes[i] << 1
	if g.DataRate == 3 {
		g.Gap2 = 41
	}

	_, gap3 := mfm.GapsIBMPC(g.BitRate(), g.SectorsPerTrack)
	if gap3 > 0 && gap3 <= 0xFF {
		g.Gap3 = gap3
	}

	g.TrackFlags = 0x08 | uint16(g.DataRate&3)
	if g.DataRate&4 != 0 {
		g.TrackFlags |= 0x20
	}

	// Extra bit cells
	g.DiskFlags |= 0x80
}

// BitRate returns the data rate in kbps
func (g Geometry) BitRate() uint16 {
	switch g.DataRate {
	case 1:
		return 300
	case 2:
		return 250
	case 3:
		return 1000
	}
	return 500
}

// SideFlags returns the data rate bits with the MFM flag set
func (g Geometry) SideFlags() uint16 {
	var flags uint16
	switch g.DataRate {
	case 0:
		flags = 0
	case 1:
		flags = 1
	case 3:
		flags = 3
	default:
		flags = 2
	}
	return flags | 0x08
}

// Sectors returns the total number of sectors on the disk
func (g Geometry) Sectors() int {
	return g.Tracks * g.Heads * g.SectorsPerTrack
}

// halfBits returns the number of MFM cells in one revolution at 300 RPM
func (g Geometry) halfBits() int {
	return int(g.BitRate()) * 400
}

func (g Geometry) String() string {
	density := "DD"
	if g.HighDensity {
		density = "HD"
	}
	return fmt.Sprintf("%s %d tracks, %d side(s), %d sectors per track, %d kbps",
		density, g.Tracks, g.Heads, g.SectorsPerTrack, g.BitRate())
}
