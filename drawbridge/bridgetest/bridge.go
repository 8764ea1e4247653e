// Package bridgetest emulates the DrawBridge firmware behind a serial port,
// for testing code that talks to the bridge without hardware.
package bridgetest

import (
	"errors"
	"fmt"
	"time"

	"github.com/sergev/drawbridge/mfm"
	"go.bug.st/serial"
)

// Raw track lengths the firmware transfers, in packed bytes
const (
	rawTrackLengthDD = 0x1900*2 + 0x440
	rawTrackLengthHD = 2 * rawTrackLengthDD
)

var errClosed = errors.New("port closed")

// Bytes generated per read while streaming
const streamChunk = 64

// Key identifies one side of a cylinder
type Key struct {
	Track int
	Head  int
}

// Parser states for multi-byte commands
type parseState int

const (
	stateCommand parseState = iota
	stateTrackDigits
	stateDiagParam
	stateReadIndex
	stateWriteLength
	stateWriteIndex
	stateWriteData
)

// Bridge is an emulated bridge with a drive and optional disk.
// Configure the exported fields before opening a port.
type Bridge struct {
	Version     string // reply to a version request, for example "V1,9"
	Flags1      byte
	Flags2      byte
	BuildNumber byte

	DiskInDrive    bool
	WriteProtected bool
	HighDensity    bool   // density reported by the drive
	RPM            string // reply to an RPM request, without the newline

	// MFM bitstream of each recorded side
	Tracks map[Key][]byte

	// Remaining reads of a side that return an unformatted track
	BadReads map[Key]int

	Silent          bool          // never answer anything
	SilentDelay     time.Duration // how long a silent read blocks, at most
	OpenErr         error         // returned by Open
	StreamFailures  int           // stream requests refused before one is accepted
	StreamLeftover  []byte        // sent after each refused stream request
	StallStream     bool          // an accepted stream never delivers data
	RewindFails     bool
	SeekFails       bool
	CTSStuck        bool   // the CTS line ignores the diagnostic commands
	WriteResult     byte   // final reply to a track write, '1' when zero
	DensityResponse byte   // overrides the density reply when nonzero
	Garbage         []byte // sent instead of the version reply

	// Observed by tests
	Written       []byte // every byte the host sent
	Commands      []byte // command bytes in order
	Seeks         []int
	WrittenTracks map[Key][]byte // packed data received per side
	Opens         int
	ResetPulses   int
	Motor         bool
	HDMode        bool
	Track         int
	Head          int

	port *Port
}

// New returns a bridge with a double density disk and current firmware
func New() *Bridge {
	return &Bridge{
		Version:       "V1,9",
		Flags1:        0x08, // density detect
		BuildNumber:   4,
		DiskInDrive:   true,
		RPM:           "300.12",
		Tracks:        make(map[Key][]byte),
		BadReads:      make(map[Key]int),
		WrittenTracks: make(map[Key][]byte),
	}
}

// Open satisfies serialport.OpenFunc
func (b *Bridge) Open(name string, mode *serial.Mode) (serial.Port, error) {
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	b.Opens++
	b.port = &Port{bridge: b, cts: true, dtr: true, rts: true}
	return b.port, nil
}

// Format records an IBM PC format on every side, with each sector filled
// by fill(track, head, sector).
func (b *Bridge) Format(tracks, heads, sectors int, hd bool, fill func(track, head, sector int) byte) {
	b.HighDensity = hd
	for track := 0; track < tracks; track++ {
		for head := 0; head < heads; head++ {
			b.Tracks[Key{track, head}] = EncodeTrack(track, head, sectors, hd, func(sector int) byte {
				return fill(track, head, sector)
			})
		}
	}
}

// EncodeTrack builds the MFM bitstream of one IBM PC track
func EncodeTrack(track, head, sectors int, hd bool, fill func(sector int) byte) []byte {
	data := make([][]byte, sectors)
	for s := range data {
		data[s] = make([]byte, 512)
		for i := range data[s] {
			data[s][i] = fill(s + 1)
		}
	}
	bitRate, halfBits := uint16(250), 100000
	if hd {
		bitRate, halfBits = 500, 200000
	}
	return mfm.NewWriter(halfBits).EncodeTrackIBMPC(data, track, head, sectors, bitRate)
}

// Port is the host side of the emulated serial link
type Port struct {
	bridge      *Bridge
	out         []byte // bytes waiting for the host
	closed      bool
	readTimeout time.Duration
	cts         bool
	dtr, rts    bool

	state     parseState
	digits    []byte
	command   byte
	remaining int
	data      []byte

	streaming bool
	stream    *codeStream
}

func (p *Port) reply(data ...byte) {
	p.out = append(p.out, data...)
}

// SetMode implements serial.Port
func (p *Port) SetMode(mode *serial.Mode) error {
	if p.closed {
		return errClosed
	}
	return nil
}

// Read implements serial.Port
func (p *Port) Read(buf []byte) (int, error) {
	if p.closed {
		return 0, errClosed
	}
	b := p.bridge
	if b.Silent {
		time.Sleep(min(p.readTimeout, b.SilentDelay))
		return 0, nil
	}
	if len(p.out) == 0 {
		switch {
		case p.state == stateDiagParam:
			// No parameter followed: the firmware times out and resets CTS
			p.state = stateCommand
			p.diagnostic(0)
		case p.streaming && !b.StallStream:
			p.fillStream()
		}
	}
	n := copy(buf, p.out)
	p.out = p.out[n:]
	return n, nil
}

// Write implements serial.Port
func (p *Port) Write(data []byte) (int, error) {
	if p.closed {
		return 0, errClosed
	}
	b := p.bridge
	b.Written = append(b.Written, data...)
	if b.Silent {
		return len(data), nil
	}
	for _, c := range data {
		p.receive(c)
	}
	return len(data), nil
}

// Drain implements serial.Port
func (p *Port) Drain() error {
	return nil
}

// Break implements serial.Port
func (p *Port) Break(time.Duration) error {
	return nil
}

// ResetInputBuffer implements serial.Port
func (p *Port) ResetInputBuffer() error {
	p.out = nil
	return nil
}

// ResetOutputBuffer implements serial.Port
func (p *Port) ResetOutputBuffer() error {
	return nil
}

// SetDTR implements serial.Port
func (p *Port) SetDTR(dtr bool) error {
	if p.dtr && !dtr {
		p.bridge.ResetPulses++
	}
	p.dtr = dtr
	return nil
}

// SetRTS implements serial.Port
func (p *Port) SetRTS(rts bool) error {
	p.rts = rts
	return nil
}

// GetModemStatusBits implements serial.Port
func (p *Port) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{CTS: p.cts}, nil
}

// SetReadTimeout implements serial.Port
func (p *Port) SetReadTimeout(t time.Duration) error {
	p.readTimeout = t
	return nil
}

// Close implements serial.Port
func (p *Port) Close() error {
	p.closed = true
	return nil
}

// receive feeds one byte from the host into the command parser
func (p *Port) receive(c byte) {
	b := p.bridge
	switch p.state {
	case stateTrackDigits:
		p.digits = append(p.digits, c)
		if len(p.digits) == 2 {
			p.state = stateCommand
			p.seek(int(p.digits[0]-'0')*10 + int(p.digits[1]-'0'))
		}
		return

	case stateDiagParam:
		p.state = stateCommand
		if c >= '1' && c <= '4' {
			p.diagnostic(c)
			return
		}
		p.diagnostic(0)

	case stateReadIndex:
		p.state = stateCommand
		p.sendTrack()
		return

	case stateWriteLength:
		p.digits = append(p.digits, c)
		if len(p.digits) == 2 {
			p.remaining = int(p.digits[0])<<8 | int(p.digits[1])
			p.state = stateWriteIndex
		}
		return

	case stateWriteIndex:
		p.state = stateWriteData
		p.data = nil
		p.reply('!')
		return

	case stateWriteData:
		p.data = append(p.data, c)
		done := false
		if b.HDMode {
			done = c == 0
		} else {
			p.remaining--
			done = p.remaining <= 0
		}
		if done {
			p.state = stateCommand
			b.WrittenTracks[Key{b.Track, b.Head}] = p.data
			result := b.WriteResult
			if result == 0 {
				result = '1'
			}
			p.reply(result)
		}
		return
	}

	p.command = c
	switch c {
	case 'x':
		if p.streaming {
			p.streaming = false
			p.reply('X', 'Y', 'Z', 'x', '1')
		}
		return
	case 'R':
		return
	}
	b.Commands = append(b.Commands, c)

	switch c {
	case '?':
		if b.Garbage != nil {
			p.reply(b.Garbage...)
			return
		}
		p.reply('1')
		p.reply([]byte(b.Version)...)
	case '@':
		p.reply('1', b.Flags1, b.Flags2, b.BuildNumber)
	case '+', '*':
		b.Motor = true
		p.reply('1')
	case '-':
		b.Motor = false
		p.reply('1')
	case '.':
		if b.RewindFails {
			p.reply('#')
			return
		}
		b.Track = 0
		p.reply('1')
	case '[':
		b.Head = 1
		p.reply('1')
	case ']':
		b.Head = 0
		p.reply('1')
	case '#':
		p.digits = nil
		p.state = stateTrackDigits
	case '&':
		p.state = stateDiagParam
	case '^':
		if !b.DiskInDrive {
			p.reply('#', '#')
			return
		}
		wp := byte('#')
		if b.WriteProtected {
			wp = '1'
		}
		p.reply('1', wp)
	case 'T':
		p.reply('1')
		switch {
		case b.DensityResponse != 0:
			p.reply(b.DensityResponse)
		case !b.DiskInDrive:
			p.reply('x')
		case b.HighDensity:
			p.reply('H')
		default:
			p.reply('D')
		}
	case 'H':
		b.HDMode = true
		p.reply('1')
	case 'D':
		b.HDMode = false
		p.reply('1')
	case 'P':
		p.reply('1')
		if b.DiskInDrive {
			p.reply([]byte(b.RPM + "\n")...)
		} else {
			p.reply([]byte("0.00\n")...)
		}
	case '~':
		if b.WriteProtected {
			p.reply('0')
			return
		}
		p.reply('1')
	case '<':
		p.reply('1')
		p.state = stateReadIndex
	case '{':
		if b.StreamFailures > 0 {
			b.StreamFailures--
			p.reply('0')
			p.reply(b.StreamLeftover...)
			return
		}
		p.reply('1')
		p.streaming = true
		p.stream = newCodeStream(p.trackBits())
	case '>', '}':
		// Packed double density data only arrives with '}'
		if (c == '}') == b.HDMode {
			p.reply('0')
			return
		}
		p.reply('1')
		if b.WriteProtected {
			p.reply('N')
			return
		}
		p.reply('Y')
		p.digits = nil
		if b.HDMode {
			p.state = stateWriteIndex
		} else {
			p.state = stateWriteLength
		}
	default:
		p.reply('?')
	}
}

func (p *Port) seek(track int) {
	b := p.bridge
	b.Seeks = append(b.Seeks, track)
	switch {
	case b.SeekFails:
		p.reply('0')
	case track == b.Track:
		p.reply('2')
	default:
		b.Track = track
		p.reply('1')
	}
}

// diagnostic handles '&' with the given parameter, 0 for none
func (p *Port) diagnostic(param byte) {
	b := p.bridge
	switch param {
	case '1':
		p.cts = true
	case '2':
		p.cts = b.CTSStuck
	case '3', '4':
		if !b.DiskInDrive {
			p.reply('0')
			return
		}
	default:
		p.cts = true
	}
	p.reply('1')
}

// trackBits returns the bitstream under the head, or nil for a blank side
func (p *Port) trackBits() []byte {
	b := p.bridge
	if !b.DiskInDrive {
		return nil
	}
	key := Key{b.Track, b.Head}
	if b.BadReads[key] > 0 {
		b.BadReads[key]--
		return nil
	}
	return b.Tracks[key]
}

// sendTrack replies to a double density read: packed codes, four per
// byte, terminated by a zero byte
func (p *Port) sendTrack() {
	s := newCodeStream(p.trackBits())
	packed := make([]byte, 0, rawTrackLengthDD+1)
	for len(packed) < rawTrackLengthDD {
		var v byte
		for i := 0; i < 4; i++ {
			v = v<<2 | s.next()
		}
		if v == 0 {
			// A zero byte would end the transfer early
			break
		}
		packed = append(packed, v)
	}
	p.reply(packed...)
	p.reply(0)
}

// fillStream produces the next chunk of a high density stream.
// Each 2-bit group is the run code minus one.
func (p *Port) fillStream() {
	for i := 0; i < streamChunk; i++ {
		var v byte
		for j := 0; j < 4; j++ {
			code := p.stream.next()
			t := byte(3)
			if code != 0 {
				t = code - 1
			}
			v = v<<2 | t
		}
		p.reply(v)
	}
}

// codeStream walks a circular MFM bitstream and produces run codes:
// 1 for "01", 2 for "001", 3 for "0001" and 0 for four zero cells.
type codeStream struct {
	bits  []byte
	n     int
	pos   int
	zeros int
	ready bool
}

func newCodeStream(bits []byte) *codeStream {
	return &codeStream{bits: bits, n: len(bits) * 8}
}

func (s *codeStream) bit() byte {
	v := (s.bits[s.pos>>3] >> (7 - s.pos&7)) & 1
	s.pos = (s.pos + 1) % s.n
	return v
}

func (s *codeStream) next() byte {
	if s.n == 0 {
		return 0
	}
	if !s.ready {
		s.zeros = 0
		for i := 0; i < s.n; i++ {
			if s.bit() == 1 {
				s.ready = true
				break
			}
			s.zeros++
		}
		if !s.ready {
			return 0
		}
	}
	if s.zeros > 3 {
		s.zeros -= 4
		return 0
	}
	s.ready = false
	return byte(max(s.zeros, 1))
}

// String describes the emulated drive, for test failure messages
func (b *Bridge) String() string {
	return fmt.Sprintf("bridge track %d head %d motor %v hd %v", b.Track, b.Head, b.Motor, b.HDMode)
}
