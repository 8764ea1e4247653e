package mfm

// Conversion between raw MFM bitstreams and the packed run-length
// formats spoken by the bridge firmware.
//
// Read direction: each byte holds four 2-bit codes, MSB first.
//
//	00  invalid, taken as four zero cells
//	01  "01"
//	10  "001"
//	11  "0001"
//
// Write direction, double density: each byte holds two nibbles xxyy,
// low nibble first. yy is the run length minus two (01 to 00001), xx
// is the precompensation tag.
//
// Write direction, high density: each byte holds four 2-bit groups
// with the run length minus one, terminated by a zero byte.

// Precompensation tags for the double density write format
const (
	PRECOMP_NONE  = 0x00
	PRECOMP_EARLY = 0x04
	PRECOMP_LATE  = 0x08
)

// Sequence patterns (bits 5..1 of the history) that need precompensation
const (
	precompEarlyPattern = 0x28 // xx10100x
	precompLatePattern  = 0x0A // xx00101x
)

// Accumulate bits MSB-first into a fixed output buffer
type bitWriter struct {
	out []byte
	pos int // byte index
	bit int // bits already shifted into out[pos]
}

func (w *bitWriter) full() bool {
	return w.pos >= len(w.out)
}

func (w *bitWriter) put(value byte) {
	if w.pos >= len(w.out) {
		return
	}
	w.out[w.pos] = w.out[w.pos]<<1 | value
	w.bit++
	if w.bit >= 8 {
		w.pos++
		w.bit = 0
	}
}

// Unpack expands packed 2-bit run codes into an MFM bitstream filling out.
// Output beyond the available input stays zero.
func Unpack(packed, out []byte) {
	clear(out)
	w := bitWriter{out: out}
	for _, b := range packed {
		if w.full() {
			return
		}
		for shift := 6; shift >= 0; shift -= 2 {
			switch (b >> shift) & 3 {
			case 0:
				w.put(0)
				w.put(0)
				w.put(0)
				w.put(0)
			case 1:
				w.put(0)
				w.put(1)
			case 2:
				w.put(0)
				w.put(0)
				w.put(1)
			case 3:
				w.put(0)
				w.put(0)
				w.put(0)
				w.put(1)
			}
		}
	}
}

// FromStream converts one byte of the high density streaming wire format
// into the packed format accepted by Unpack.
func FromStream(b byte) byte {
	var out byte
	for shift := 6; shift >= 0; shift -= 2 {
		t := (b >> shift) & 3
		if t == 3 {
			t = 0
		}
		out = out<<2 | (t + 1)
	}
	return out
}

// Read bits MSB-first. Past the end of data it produces an alternating
// 1010 padding, so the last run is always terminated.
type bitReader struct {
	data []byte
	pos  int
	bit  int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data, bit: 7}
}

func (r *bitReader) next() byte {
	if r.pos >= len(r.data) {
		r.advance()
		if r.bit&1 != 0 {
			return 0
		}
		return 1
	}
	value := (r.data[r.pos] >> r.bit) & 1
	r.advance()
	return value
}

func (r *bitReader) advance() {
	r.bit--
	if r.bit < 0 {
		r.bit = 7
		r.pos++
	}
}

// Count cells up to and including the next one bit. The history register
// delays decisions by three cells, so bit 3 is the cell being examined.
func (r *bitReader) nextRun(sequence *byte) int {
	limit := len(r.data) + 8
	count := 0
	for {
		b := r.next()
		*sequence = (*sequence<<1)&0x7F | b
		count++
		if *sequence&0x08 != 0 || r.pos >= limit {
			return count
		}
	}
}

// Pack re-encodes an MFM bitstream into the double density write format,
// optionally tagging each transition with write precompensation.
func Pack(bits []byte, precomp bool) []byte {
	r := newBitReader(bits)
	out := make([]byte, 0, len(bits)*4+16)
	sequence := byte(0xAA)
	lastCount := 2

	for r.pos < len(bits) {
		var packed byte
		for i := 0; i < 2; i++ {
			count := r.nextRun(&sequence)

			// 11 is not a legal MFM sequence, and the firmware
			// handles at most 00001.
			count = min(max(count, 2), 5)

			tag := PRECOMP_NONE
			if precomp {
				switch sequence & 0x3E {
				case precompEarlyPattern:
					tag = PRECOMP_EARLY
				case precompLatePattern:
					tag = PRECOMP_LATE
				}
			}
			packed |= byte((lastCount-2)|tag) << (i * 4)
			lastCount = count
		}
		out = append(out, packed)
	}
	return out
}

// Bit position of each run in a high density write byte
var hdGroupShift = [4]int{4, 2, 0, 6}

// PackHD re-encodes an MFM bitstream into the high density write format,
// including the terminating zero byte.
func PackHD(bits []byte) []byte {
	r := newBitReader(bits)
	out := make([]byte, 0, len(bits)*4+16)
	sequence := byte(0xAA)

	for r.pos < len(bits) {
		var packed byte
		for i := 0; i < 4; i++ {
			count := r.nextRun(&sequence)
			count = min(max(count, 2), 4)
			packed |= byte(count-1) << hdGroupShift[i]
		}
		out = append(out, packed)
	}
	return append(out, 0)
}
