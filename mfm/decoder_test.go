package mfm

import (
	"bytes"
	"testing"
)

// Write one IBM PC sector the same way EncodeTrackIBMPC does,
// optionally with a broken data CRC or without the ID field.
func writeTestSector(w *Writer, cylinder, head, sector int, data []byte, badCRC, noHeader bool) {
	if !noHeader {
		w.writeMarker(0xFE)
		id := []byte{byte(cylinder), byte(head), byte(sector), 2}
		for _, b := range id {
			w.writeByte(b)
		}
		sum := crc16CCITT(0xb230, id)
		w.writeByte(byte(sum >> 8))
		w.writeByte(byte(sum))
		w.writeGap(22)
	}

	w.writeMarker(0xFB)
	for _, b := range data {
		w.writeByte(b)
	}
	sum := crc16CCITT(crc16CCITTByte(0xcdb4, 0xFB), data)
	if badCRC {
		sum ^= 0x0101
	}
	w.writeByte(byte(sum >> 8))
	w.writeByte(byte(sum))
	w.writeGap(80)
}

func sectorData(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, 512)
}

type testSector struct {
	number   int
	fill     byte
	badCRC   bool
	noHeader bool
}

// Build a double density track with the given sectors
func buildTrack(cylinder, head int, sectors []testSector) []byte {
	w := NewWriter(100000)
	w.writeGap(80)
	w.writeIndexMarker()
	w.writeGap(50)
	for _, s := range sectors {
		writeTestSector(w, cylinder, head, s.number, sectorData(s.fill), s.badCRC, s.noHeader)
	}
	fill := w.maxHalfBits/8 - len(w.getData())
	if fill > 0 {
		w.writeGap(fill)
	}
	return w.getData()
}

func encodeTrack(t *testing.T, cylinder, head, sectorsPerTrack int, bitRate uint16, maxHalfBits int) []byte {
	t.Helper()
	sectors := make([][]byte, sectorsPerTrack)
	for i := range sectors {
		sectors[i] = sectorData(byte(i + 1))
	}
	return NewWriter(maxHalfBits).EncodeTrackIBMPC(sectors, cylinder, head, sectorsPerTrack, bitRate)
}

func TestDecodeTrackRecoversAllSectors(t *testing.T) {
	testCases := []struct {
		name        string
		sectors     int
		bitRate     uint16
		maxHalfBits int
		isHD        bool
	}{
		{"DD 9 sectors", 9, 250, 100000, false},
		{"HD 18 sectors", 18, 500, 200000, true},
		{"DD 10 sectors", 10, 250, 100000, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := encodeTrack(t, 5, 1, tc.sectors, tc.bitRate, tc.maxHalfBits)

			// Pad to the size of a raw buffer from the bridge
			raw := make([]byte, len(encoded)+len(encoded)/8)
			copy(raw, encoded)

			track := DecodeTrack(raw, 5, 1, tc.isHD, tc.sectors)
			if track.Count() != tc.sectors {
				t.Fatalf("DecodeTrack() found %d sectors, expected %d", track.Count(), tc.sectors)
			}
			if track.SectorsWithErrors != 0 {
				t.Errorf("SectorsWithErrors = %d, expected 0", track.SectorsWithErrors)
			}
			if track.HeadersFound != tc.sectors || track.DataFound != tc.sectors {
				t.Errorf("found %d headers and %d data marks, expected %d",
					track.HeadersFound, track.DataFound, tc.sectors)
			}
			for n := 0; n < tc.sectors; n++ {
				s := track.Sector(n)
				if s.Errors != 0 {
					t.Errorf("sector %d has %d errors, expected 0", n+1, s.Errors)
				}
				if !bytes.Equal(s.Data, sectorData(byte(n+1))) {
					t.Errorf("sector %d data mismatch", n+1)
				}
			}
		})
	}
}

func TestDecodeTrackCorruptedCRC(t *testing.T) {
	raw := buildTrack(0, 0, []testSector{
		{number: 1, fill: 1},
		{number: 2, fill: 2},
		{number: 3, fill: 3, badCRC: true},
		{number: 4, fill: 4},
	})

	track := DecodeTrack(raw, 0, 0, false, 0)
	if track.Count() != 4 {
		t.Fatalf("DecodeTrack() found %d sectors, expected 4", track.Count())
	}
	for n := 0; n < 4; n++ {
		errors := track.Sector(n).Errors
		if n == 2 {
			if errors < 1 {
				t.Errorf("sector 3 has %d errors, expected at least 1", errors)
			}
		} else if errors != 0 {
			t.Errorf("sector %d has %d errors, expected 0", n+1, errors)
		}
	}
	if track.SectorsWithErrors != 1 {
		t.Errorf("SectorsWithErrors = %d, expected 1", track.SectorsWithErrors)
	}
}

func TestDecodeTrackBestOfDuplicates(t *testing.T) {
	testCases := []struct {
		name     string
		sectors  []testSector
		wantFill byte
		wantErrs int
	}{
		{
			name:     "bad then good",
			sectors:  []testSector{{number: 1, fill: 0x11, badCRC: true}, {number: 1, fill: 0x22}},
			wantFill: 0x22,
		},
		{
			name:     "good then bad",
			sectors:  []testSector{{number: 1, fill: 0x11}, {number: 1, fill: 0x22, badCRC: true}},
			wantFill: 0x11,
		},
		{
			name:     "tie keeps first",
			sectors:  []testSector{{number: 1, fill: 0x11}, {number: 1, fill: 0x22}},
			wantFill: 0x11,
		},
		{
			name:     "both bad keeps first",
			sectors:  []testSector{{number: 1, fill: 0x11, badCRC: true}, {number: 1, fill: 0x22, badCRC: true}},
			wantFill: 0x11,
			wantErrs: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			track := DecodeTrack(buildTrack(0, 0, tc.sectors), 0, 0, false, 0)
			s := track.Sector(0)
			if s == nil {
				t.Fatalf("sector 1 not found")
			}
			if s.Errors != tc.wantErrs {
				t.Errorf("sector 1 has %d errors, expected %d", s.Errors, tc.wantErrs)
			}
			if s.Data[0] != tc.wantFill {
				t.Errorf("sector 1 data = %02x, expected %02x", s.Data[0], tc.wantFill)
			}
		})
	}
}

func TestDecodeTrackPlaceholders(t *testing.T) {
	var sectors []testSector
	for n := 1; n <= 9; n++ {
		if n == 4 || n == 8 {
			continue
		}
		sectors = append(sectors, testSector{number: n, fill: byte(n)})
	}
	raw := buildTrack(2, 0, sectors)

	track := DecodeTrack(raw, 2, 0, false, 9)
	if track.Count() != 9 {
		t.Fatalf("DecodeTrack() returned %d sectors, expected 9", track.Count())
	}
	for n := 1; n <= 9; n++ {
		s := track.Sector(n - 1)
		if n == 4 || n == 8 {
			if s.Errors != ERRORS_PLACEHOLDER {
				t.Errorf("sector %d has %d errors, expected %#x", n, s.Errors, ERRORS_PLACEHOLDER)
			}
			if !bytes.Equal(s.Data, make([]byte, 512)) {
				t.Errorf("sector %d placeholder is not zero-filled", n)
			}
		} else if s.Errors != 0 {
			t.Errorf("sector %d has %d errors, expected 0", n, s.Errors)
		}
	}
	if track.SectorsWithErrors != 2 {
		t.Errorf("SectorsWithErrors = %d, expected 2", track.SectorsWithErrors)
	}

	// Without an expected count nothing is made up
	track = DecodeTrack(raw, 2, 0, false, 0)
	if track.Count() != 7 {
		t.Errorf("DecodeTrack() returned %d sectors, expected 7", track.Count())
	}
}

func TestDecodeTrackHeaderMismatch(t *testing.T) {
	raw := buildTrack(3, 1, []testSector{{number: 1, fill: 1}})

	testCases := []struct {
		name           string
		cylinder, head int
		errors         int
	}{
		{"match", 3, 1, 0},
		{"wrong cylinder", 4, 1, 1},
		{"wrong head", 3, 0, 1},
		{"both wrong", 7, 0, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := DecodeTrack(raw, tc.cylinder, tc.head, false, 0).Sector(0)
			if s == nil {
				t.Fatalf("sector 1 not found")
			}
			if s.Errors != tc.errors {
				t.Errorf("sector 1 has %d errors, expected %d", s.Errors, tc.errors)
			}
		})
	}
}

func TestDecodeTrackMissingHeader(t *testing.T) {
	raw := buildTrack(0, 0, []testSector{
		{number: 1, fill: 1},
		{number: 2, fill: 2},
		{number: 3, fill: 3, noHeader: true},
	})

	track := DecodeTrack(raw, 0, 0, false, 0)
	s := track.Sector(2)
	if s == nil {
		t.Fatalf("sector without header was not recovered")
	}
	if s.Errors != ERRORS_NO_HEADER {
		t.Errorf("sector 3 has %d errors, expected %#x", s.Errors, ERRORS_NO_HEADER)
	}
	if s.Data[0] != 3 {
		t.Errorf("sector 3 data = %02x, expected 03", s.Data[0])
	}
}

func TestDecodeTrackWrapAround(t *testing.T) {
	encoded := encodeTrack(t, 0, 0, 9, 250, 100000)

	// Rotate so the data field of sector 1 straddles the end of the buffer
	const shift = 500
	raw := append(append([]byte{}, encoded[shift:]...), encoded[:shift]...)

	track := DecodeTrack(raw, 0, 0, false, 9)
	s := track.Sector(0)
	if s.Errors != 0 {
		t.Errorf("sector 1 has %d errors, expected 0", s.Errors)
	}
	if !bytes.Equal(s.Data, sectorData(1)) {
		t.Errorf("sector 1 data mismatch")
	}
	if track.SectorsWithErrors != 0 {
		t.Errorf("SectorsWithErrors = %d, expected 0", track.SectorsWithErrors)
	}
}

func TestDecodeTrackTimings(t *testing.T) {
	// 800K format packs sectors with a short gap3
	short := DecodeTrack(encodeTrack(t, 0, 0, 10, 250, 100000), 0, 0, false, 10)
	if !short.NonstandardTimings {
		t.Errorf("NonstandardTimings = false for gap3 34, expected true")
	}

	normal := DecodeTrack(encodeTrack(t, 0, 0, 18, 500, 200000), 0, 0, true, 18)
	if normal.NonstandardTimings {
		t.Errorf("NonstandardTimings = true for gap3 108, expected false")
	}
}

func TestCRC16ReferenceVector(t *testing.T) {
	// CRC of the address mark alone is the well-known seed of the writer
	if got := CRC16([]byte{0xA1, 0xA1, 0xA1, 0xFE}, 0xFFFF); got != 0xb230 {
		t.Errorf("CRC16(A1 A1 A1 FE) = %04x, expected b230", got)
	}

	header := []byte{0xA1, 0xA1, 0xA1, 0xFE, 0x00, 0x01}
	expected := CRC16(header, 0xFFFF)
	if got := crc16CCITTByte(crc16CCITTByte(0xb230, 0x00), 0x01); got != expected {
		t.Errorf("incremental CRC = %04x, expected %04x", got, expected)
	}

	// Hand-crafted ID field with the same leading bytes: cylinder 0, head 1, sector 1, 512 bytes
	id := append(append([]byte{}, header...), 0x01, 0x02)
	sum := CRC16(id, 0xFFFF)

	w := NewWriter(100000)
	w.writeGap(20)
	w.writeMarker(0xFE)
	for _, b := range id[4:] {
		w.writeByte(b)
	}
	w.writeByte(byte(sum >> 8))
	w.writeByte(byte(sum))
	w.writeGap(22)
	w.writeMarker(0xFB)
	data := sectorData(0xE5)
	for _, b := range data {
		w.writeByte(b)
	}
	dataSum := CRC16(data, CRC16([]byte{0xA1, 0xA1, 0xA1, 0xFB}, 0xFFFF))
	w.writeByte(byte(dataSum >> 8))
	w.writeByte(byte(dataSum))
	w.writeGap(40)

	raw := w.getData()
	// The sync starts after 20 gap bytes and 12 zero bytes
	hdr, err := parseHeader(extractMFMDecodeRaw(raw, len(raw)*8, (20+12)*16, headerSize))
	if err != nil {
		t.Fatalf("parseHeader() returned error: %v", err)
	}
	if hdr.AddressMark != [4]byte{0xA1, 0xA1, 0xA1, 0xFE} {
		t.Errorf("address mark = %x, expected a1a1a1fe", hdr.AddressMark)
	}
	if hdr.CRC != sum {
		t.Errorf("stored CRC = %04x, expected %04x", hdr.CRC, sum)
	}

	s := DecodeTrack(raw, 0, 1, false, 0).Sector(0)
	if s == nil || s.Errors != 0 {
		t.Errorf("hand-crafted sector did not validate: %+v", s)
	}
}
