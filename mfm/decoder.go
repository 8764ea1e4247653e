package mfm

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
)

// 64-bit sync patterns as they appear in the raw bitstream:
// three special marks (C2 or A1 with a missing clock) followed by the tag byte.
const (
	MFM_SYNC_TRACK_HEADER  = 0x5224522452245552 // C2 C2 C2 FC
	MFM_SYNC_SECTOR_HEADER = 0x4489448944895554 // A1 A1 A1 FE
	MFM_SYNC_SECTOR_DATA   = 0x4489448944895545 // A1 A1 A1 FB
)

// Default sector counts when the caller does not know the format
const (
	IBM_DD_SECTORS = 9
	IBM_HD_SECTORS = 18
)

// Upper bound of the sector map
const MaxSectors = 36

// Error counts with a special meaning
const (
	ERRORS_NO_HEADER   = 0xF0   // data found without a preceding header
	ERRORS_PLACEHOLDER = 0xFFFF // sector was not found at all
)

// Average gap between sectors below which the track is considered
// to use nonstandard timings (Atari ST and similar).
const nonstandardGap = 70

// Header is the ID field of a sector, including its address mark.
type Header struct {
	AddressMark [4]byte
	Cylinder    uint8
	Head        uint8
	Sector      uint8
	Length      uint8 // size code: 128 << Length bytes
	CRC         uint16
}

const headerSize = 10

// Sector is one decoded sector.
// Errors is 0 for a perfect copy and grows with every problem found.
type Sector struct {
	Data   []byte
	Errors int
}

// Track is the result of one decoding pass.
type Track struct {
	Sectors            [MaxSectors]*Sector // indexed by 0-based sector number
	SectorsWithErrors  int
	NonstandardTimings bool
	HeadersFound       int
	DataFound          int
}

// Sector returns the sector with the given 0-based number, or nil.
func (t *Track) Sector(n int) *Sector {
	if n < 0 || n >= MaxSectors {
		return nil
	}
	return t.Sectors[n]
}

// Count returns the number of sectors in the map.
func (t *Track) Count() int {
	count := 0
	for _, s := range t.Sectors {
		if s != nil {
			count++
		}
	}
	return count
}

// Store a sector, keeping the copy with fewer errors
func (t *Track) put(n int, s *Sector) {
	existing := t.Sectors[n]
	if existing == nil || existing.Errors > s.Errors {
		t.Sectors[n] = s
	}
}

// Decode n bytes starting at the given bit, skipping clock bits.
// Positions wrap around the end of the track.
func extractMFMDecodeRaw(track []byte, bits, bitPos, n int) []byte {
	out := make([]byte, n)
	pos := (bitPos + 1) % bits
	for i := range out {
		var b byte
		for j := 0; j < 8; j++ {
			b <<= 1
			if track[pos>>3]&(1<<(7-pos&7)) != 0 {
				b |= 1
			}
			pos = (pos + 2) % bits
		}
		out[i] = b
	}
	return out
}

// Parse the ID field of a sector
func parseHeader(raw []byte) (Header, error) {
	var hdr Header
	err := restruct.Unpack(raw, binary.BigEndian, &hdr)
	return hdr, err
}

// Size in bytes for a size code. Codes above 7 do not exist on real media.
func sectorBytes(sizeCode int) int {
	if sizeCode > 7 {
		return 0
	}
	return 1 << (7 + sizeCode)
}

// State carried between sync marks
type decoder struct {
	track    []byte
	bits     int
	cylinder int
	head     int

	header       Header
	headerFound  bool
	headerErrors int
	lastSector   int
	sectorSize   int

	sectorEnd int
	gapTotal  int
	numGaps   int

	result *Track
}

// DecodeTrack scans a raw MFM track buffer and extracts IBM PC sectors.
// The buffer is treated as circular. When expected is nonzero, sectors
// 1..expected that were not found are filled in with zeroed placeholders.
func DecodeTrack(track []byte, cylinder, head int, isHD bool, expected int) *Track {
	d := &decoder{
		track:        track,
		bits:         len(track) * 8,
		cylinder:     cylinder,
		head:         head,
		headerErrors: ERRORS_PLACEHOLDER,
		lastSector:   -1,
		sectorSize:   2,
		result:       &Track{},
	}
	if d.bits == 0 {
		return d.result
	}

	var history uint64
	for bit := 0; bit < d.bits; bit++ {
		history <<= 1
		if track[bit>>3]&(1<<(7-bit&7)) != 0 {
			history |= 1
		}

		switch history {
		case MFM_SYNC_SECTOR_HEADER:
			d.sectorHeader(bit + 1 - 64)
		case MFM_SYNC_SECTOR_DATA:
			d.sectorData(bit + 1 - 64)
		case MFM_SYNC_TRACK_HEADER:
			d.headerFound = false
			d.headerErrors = ERRORS_PLACEHOLDER
			d.lastSector = -1
		}
	}

	d.finish(isHD, expected)
	return d.result
}

// Handle an ID address mark starting at the given bit
func (d *decoder) sectorHeader(markerStart int) {
	d.result.HeadersFound++

	if d.sectorEnd != 0 {
		gap := (markerStart-d.sectorEnd)/16 - 12*2 // minus the sync bytes
		gap = min(max(gap, 0), 200)
		d.gapTotal += gap
		d.numGaps++
	}

	raw := extractMFMDecodeRaw(d.track, d.bits, markerStart, headerSize)
	hdr, err := parseHeader(raw)
	if err != nil {
		return
	}
	sum := CRC16(raw[:headerSize-2], 0xFFFF)

	d.header = hdr
	d.headerFound = true
	d.headerErrors = 0

	if d.header.Sector < 1 {
		d.header.Sector = 1
		d.headerErrors++
	}
	if sum != hdr.CRC {
		d.headerErrors++
	}
	if d.headerErrors == 0 {
		d.sectorSize = int(hdr.Length)
	}
	if int(hdr.Cylinder) != d.cylinder {
		d.headerErrors++
	}
	if int(hdr.Head) != d.head {
		d.headerErrors++
	}
	d.lastSector = int(d.header.Sector)
}

// Handle a data address mark starting at the given bit
func (d *decoder) sectorData(bitStart int) {
	d.result.DataFound++

	if !d.headerFound {
		// Data without an ID field: guess the next sector number
		d.lastSector++
		d.header = Header{
			Cylinder: uint8(d.cylinder),
			Head:     uint8(d.head),
			Sector:   uint8(d.lastSector),
			Length:   uint8(d.sectorSize),
		}
		d.headerErrors = ERRORS_NO_HEADER
	}

	size := sectorBytes(int(d.header.Length))
	if size == 0 {
		d.reset()
		return
	}

	mark := extractMFMDecodeRaw(d.track, d.bits, bitStart, 4)
	bitStart += 4 * 8 * 2
	data := extractMFMDecodeRaw(d.track, d.bits, bitStart, size)
	bitStart += size * 8 * 2
	stored := binary.BigEndian.Uint16(extractMFMDecodeRaw(d.track, d.bits, bitStart, 2))

	sum := CRC16(mark, 0xFFFF)
	sum = CRC16(data, sum)

	errors := d.headerErrors
	if sum != stored {
		errors++
	}

	n := int(d.header.Sector)
	if n >= 1 && n <= MaxSectors {
		d.result.put(n-1, &Sector{Data: data, Errors: errors})
	}

	d.reset()
	d.sectorEnd = bitStart + 4*8
}

// Forget the current header
func (d *decoder) reset() {
	d.headerErrors = ERRORS_PLACEHOLDER
	d.headerFound = false
}

// Compute gap statistics and fill in missing sectors
func (d *decoder) finish(isHD bool, expected int) {
	if d.numGaps > 0 {
		d.result.NonstandardTimings = d.gapTotal/d.numGaps < nonstandardGap
	}

	want := expected
	if want == 0 {
		want = IBM_DD_SECTORS
		if isHD {
			want = IBM_HD_SECTORS
		}
	}
	want = min(want, MaxSectors)

	size := sectorBytes(d.sectorSize)
	if size == 0 {
		size = sectorSize
	}

	d.result.SectorsWithErrors = 0
	for n := 0; n < want; n++ {
		s := d.result.Sectors[n]
		if s == nil {
			if expected != 0 {
				d.result.Sectors[n] = &Sector{
					Data:   make([]byte, size),
					Errors: ERRORS_PLACEHOLDER,
				}
				d.result.SectorsWithErrors++
			}
		} else if s.Errors != 0 {
			d.result.SectorsWithErrors++
		}
	}
}
