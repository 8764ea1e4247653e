package mfm

// Writer accumulates an MFM bitstream, one cell per bit, most significant
// bit first. Cells past maxHalfBits are dropped.
type Writer struct {
	buffer      []byte
	bitPos      int // cells written
	lastDataBit int // decides the clock of a following zero
	maxHalfBits int
}

// NewWriter returns a writer for a track of maxHalfBits cells
func NewWriter(maxHalfBits int) *Writer {
	return &Writer{
		buffer:      make([]byte, 0, 1024),
		maxHalfBits: maxHalfBits,
	}
}

func (w *Writer) writeHalfBit(bitValue int) {
	if w.bitPos >= w.maxHalfBits {
		return
	}
	if w.bitPos/8 >= len(w.buffer) {
		w.buffer = append(w.buffer, 0)
	}
	if bitValue != 0 {
		w.buffer[w.bitPos/8] |= 1 << (7 - w.bitPos%8)
	}
	w.bitPos++
}

// writeBit emits the clock and data cells of one bit. A zero gets a clock
// pulse only when it follows another zero.
func (w *Writer) writeBit(dataBit int) {
	if dataBit != 0 {
		w.writeHalfBit(0)
		w.writeHalfBit(1)
	} else {
		w.writeHalfBit(w.lastDataBit ^ 1)
		w.writeHalfBit(0)
	}
	w.lastDataBit = dataBit
}

func (w *Writer) writeByte(data byte) {
	for i := 7; i >= 0; i-- {
		w.writeBit(int(data>>i) & 1)
	}
}

// writeGap writes n filler bytes
func (w *Writer) writeGap(n int) {
	for i := 0; i < n; i++ {
		w.writeByte(0x4E)
	}
}

// writeSync writes a sync field: twelve zero bytes, three copies of mark
// with the clock of bit missingClock suppressed, then the tag byte.
// The suppressed bit must be a zero following a zero.
func (w *Writer) writeSync(mark byte, missingClock int, tag byte) {
	for i := 0; i < 12; i++ {
		w.writeByte(0)
	}
	for n := 0; n < 3; n++ {
		for i := 7; i >= 0; i-- {
			if i == missingClock {
				w.writeHalfBit(0)
				w.writeHalfBit(0)
				w.lastDataBit = 0
				continue
			}
			w.writeBit(int(mark>>i) & 1)
		}
	}
	w.writeByte(tag)
}

// writeMarker writes an A1 sync (raw 0x4489) followed by an address mark
func (w *Writer) writeMarker(tag uint8) {
	w.writeSync(0xA1, 2, tag)
}

// writeIndexMarker writes the C2 index sync (raw 0x5224) and 0xFC
func (w *Writer) writeIndexMarker() {
	w.writeSync(0xC2, 3, 0xFC)
}

// getData returns the bytes holding the cells written so far
func (w *Writer) getData() []byte {
	if n := (w.bitPos + 7) / 8; n < len(w.buffer) {
		return w.buffer[:n]
	}
	return w.buffer
}

// EncodeTrackIBMPC builds the MFM bitstream of one IBM PC track.
// Sectors hold the 512-byte data of sectors 1..sectorsPerTrack in order.
// The layout is
//
//	gap4a(80) IAM gap1(50) { IDAM header CRC gap2 DAM data CRC gap3 } fill
//
// with gap2 and gap3 taken from GapsIBMPC.
func (w *Writer) EncodeTrackIBMPC(sectors [][]byte, cylinder, head, sectorsPerTrack int, bitRate uint16) []byte {
	const (
		gap4a = 80
		gap1  = 50

		// CRC of A1 A1 A1 from the 0xFFFF seed
		syncCRC = 0xCDB4
	)
	gap2, gap3 := GapsIBMPC(bitRate, sectorsPerTrack)

	w.writeGap(gap4a)
	w.writeIndexMarker()
	w.writeGap(gap1)

	for s := 0; s < sectorsPerTrack; s++ {
		id := []byte{0xFE, byte(cylinder), byte(head), byte(s + 1), 2}
		w.writeMarker(id[0])
		for _, b := range id[1:] {
			w.writeByte(b)
		}
		sum := crc16CCITT(syncCRC, id)
		w.writeByte(byte(sum >> 8))
		w.writeByte(byte(sum))
		w.writeGap(gap2)

		data := sectors[s]
		w.writeMarker(0xFB)
		for _, b := range data {
			w.writeByte(b)
		}
		sum = crc16CCITT(crc16CCITTByte(syncCRC, 0xFB), data)
		w.writeByte(byte(sum >> 8))
		w.writeByte(byte(sum))
		w.writeGap(gap3)
	}

	// Pad to the end of the revolution
	if fill := w.maxHalfBits/8 - len(w.getData()); fill > 0 {
		w.writeGap(fill)
	}
	return w.getData()
}

// GapsIBMPC returns gap2 and gap3 for the given bit rate (kbps) and
// number of sectors per track:
//
//	kbps  sectors        format              gap2  gap3
//	500   15             1.2M                22    84
//	500   18             1.44M               22    108
//	500   20             1.6M                22    44
//	250   8, 9           160K to 720K        22    80
//	250   10             800K                22    34
//	300   9              360K in AT drive    22    80
//	1000  36             2.88M               41    84
//	1000  39             3.12M               41    40
func GapsIBMPC(bitRate uint16, sectorsPerTrack int) (int, int) {
	gap2 := 22
	if bitRate > 500 {
		// Extra settling time at 1 Mbps
		gap2 = 41
	}

	gap3 := 80
	switch bitRate {
	case 500:
		switch {
		case sectorsPerTrack < 18:
			gap3 = 84
		case sectorsPerTrack > 18:
			gap3 = 44
		default:
			gap3 = 108
		}
	case 1000:
		gap3 = 84
		if sectorsPerTrack > 36 {
			gap3 = 40
		}
	case 250, 300:
		if sectorsPerTrack > 9 {
			// 46 is the nominal value, but the last sector then
			// overlaps the index on some drives
			gap3 = 34
		}
	}
	return gap2, gap3
}
