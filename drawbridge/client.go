package drawbridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/sergev/drawbridge/serialport"
	log "github.com/sirupsen/logrus"
)

// Read and write deadlines, base + perByte*n
var (
	openReadTimeout   = serialport.Timeout{Base: 10 * time.Millisecond, PerByte: 250 * time.Millisecond}
	normalReadTimeout = serialport.Timeout{Base: 2000 * time.Millisecond, PerByte: 200 * time.Millisecond}
	shortReadTimeout  = serialport.Timeout{Base: 5 * time.Millisecond, PerByte: 12 * time.Millisecond}
	writeTimeout      = serialport.Timeout{Base: 2000 * time.Millisecond, PerByte: 200 * time.Millisecond}
)

// Handshake limits
const (
	syncTimeout      = 8 * time.Second
	syncMaxIdle      = 120  // empty reads before giving up
	syncMaxGarbage   = 2048 // bytes received without a version string
	syncKickInterval = 7    // resend the version request every n idle reads
	drainMaxFailures = 5
)

// State of the connection to the bridge
type State int

const (
	STATE_CLOSED State = iota
	STATE_HANDSHAKE
	STATE_IDLE
	STATE_READING
	STATE_WRITING
)

func (s State) String() string {
	switch s {
	case STATE_CLOSED:
		return "closed"
	case STATE_HANDSHAKE:
		return "handshake"
	case STATE_IDLE:
		return "idle"
	case STATE_READING:
		return "reading"
	case STATE_WRITING:
		return "writing"
	}
	return "unknown"
}

// FirmwareVersion describes the sketch running on the bridge
type FirmwareVersion struct {
	Major          int
	Minor          int
	FullControlMod bool // hardware modified for full drive control

	// Reported by firmware 1.9 and later
	Flags1      byte
	Flags2      byte
	BuildNumber byte
}

// AtLeast reports whether the firmware is major.minor or newer
func (v FirmwareVersion) AtLeast(major, minor int) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// Has reports whether a feature flag from the first flags byte is set
func (v FirmwareVersion) Has(flag byte) bool {
	return v.Flags1&flag != 0
}

// Features lists the names of all flags set in the first flags byte
func (v FirmwareVersion) Features() []string {
	var names []string
	for _, f := range featureNames {
		if v.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	return names
}

func (v FirmwareVersion) String() string {
	s := fmt.Sprintf("%d.%d", v.Major, v.Minor)
	if v.FullControlMod {
		s += " (full control)"
	}
	if v.BuildNumber != 0 {
		s += fmt.Sprintf(" build %d", v.BuildNumber)
	}
	return s
}

// parseVersion decodes the four characters following the '1' response,
// for example "V1,9".
func parseVersion(s string) FirmwareVersion {
	return FirmwareVersion{
		Major:          int(s[1] - '0'),
		Minor:          int(s[3] - '0'),
		FullControlMod: s[2] == ',',
	}
}

// Options controls how the connection is established
type Options struct {
	// Gate transmission on the CTS line
	CTSFlowControl bool

	// Pulse DTR/RTS and reopen the port when the handshake fails
	ResetOnFailure bool

	// Opens the device; nil means the real serial driver
	Open serialport.OpenFunc
}

// Client represents a connection to a DrawBridge floppy bridge
type Client struct {
	name    string
	opts    Options
	conn    *serialport.Conn
	log     *log.Entry
	state   State
	version FirmwareVersion

	lastError   Response
	lastOp      Operation
	lastCommand Command

	inWriteMode    bool
	diskInDrive    bool
	writeProtected bool
	isHDMode       bool

	// Streaming read
	isStreaming    bool
	abortStreaming bool
	abortSignalled bool
}

// Open connects to the bridge on the named port, performs the version
// handshake and queries the firmware features.
func Open(name string, opts Options) (*Client, error) {
	c := &Client{
		name: name,
		opts: opts,
		log:  log.WithField("port", name),
	}
	if err := c.open(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open bridge on %s: %w", name, err)
	}
	return c, nil
}

func (c *Client) open() error {
	c.lastOp = OP_OPEN_PORT
	c.abortStreaming = true
	c.state = STATE_HANDSHAKE

	versionString, err := c.internalOpenPort(c.opts.ResetOnFailure)
	if err != nil {
		return c.fail(err)
	}

	// Clear any redundant data in buffer
	var b [1]byte
	failures := 0
	for c.conn.BytesWaiting() > 0 {
		n, err := c.conn.Read(b[:])
		if err != nil || n < 1 {
			failures++
			if failures > drainMaxFailures {
				break
			}
		}
	}

	c.version = parseVersion(versionString)
	c.log.Debugf("firmware version %s", c.version)

	if c.version.AtLeast(1, 9) {
		if _, err := c.run(Request{Command: CMD_CHECK_FEATURES}); err != nil {
			return err
		}
		var features [3]byte
		for i := range features {
			if !c.readByte(&features[i]) {
				return c.fail(RESPONSE_ERROR_READING_VERSION)
			}
		}
		c.version.Flags1 = features[0]
		c.version.Flags2 = features[1]
		c.version.BuildNumber = features[2]
		c.log.Debugf("flags1 %#02x flags2 %#02x build %d", features[0], features[1], features[2])
	}

	c.applyTimeouts(false)
	c.state = STATE_IDLE
	c.lastError = RESPONSE_OK
	return nil
}

// openResponse maps a transport open failure onto a protocol outcome
func openResponse(err error) Response {
	switch {
	case errors.Is(err, serialport.ErrPortNotFound):
		return RESPONSE_PORT_NOT_FOUND
	case errors.Is(err, serialport.ErrPortInUse):
		return RESPONSE_PORT_IN_USE
	case errors.Is(err, serialport.ErrAccessDenied):
		return RESPONSE_ACCESS_DENIED
	}
	return RESPONSE_PORT_ERROR
}

// internalOpenPort opens and configures the port and synchronises with
// the firmware. On failure the port is left closed.
func (c *Client) internalOpenPort(triggerReset bool) (string, error) {
	conn, err := serialport.OpenWith(c.name, c.opts.Open)
	if err != nil {
		return "", &PortError{Response: openResponse(err), Err: err}
	}
	c.conn = conn

	if err := c.conn.Configure(serialport.DefaultBaudRate, c.opts.CTSFlowControl); err != nil {
		c.closePort()
		return "", &PortError{Response: RESPONSE_PORT_ERROR, Err: err}
	}
	c.conn.SetReadTimeout(openReadTimeout.Base, openReadTimeout.PerByte)
	c.conn.SetWriteTimeout(writeTimeout.Base, writeTimeout.PerByte)

	versionString, syncErr := c.attemptToSync()
	if syncErr == nil {
		return versionString, nil
	}
	c.log.Debugf("sync failed: %v", syncErr)

	if errors.Is(syncErr, RESPONSE_PORT_ERROR) {
		c.closePort()
		return "", syncErr
	}
	if !triggerReset {
		c.closePort()
		return "", syncErr
	}

	// Pulse the reset line of the microcontroller, then let it boot
	c.log.Warn("no answer from bridge, resetting")
	if err := c.conn.Configure(serialport.DefaultBaudRate, c.opts.CTSFlowControl); err != nil {
		c.log.Debugf("reconfigure before reset: %v", err)
	}
	c.setLines(false)
	time.Sleep(10 * time.Millisecond)
	c.setLines(true)
	time.Sleep(10 * time.Millisecond)
	c.conn.Close()
	time.Sleep(150 * time.Millisecond)

	if err := c.conn.Reopen(); err != nil {
		c.conn = nil
		return "", &PortError{Response: RESPONSE_PORT_ERROR, Err: err}
	}
	c.closePort()
	return "", fmt.Errorf("%w: %w", RESPONSE_ERROR_READING_VERSION, ErrNeedsRetry)
}

func (c *Client) setLines(state bool) {
	if err := c.conn.SetDTR(state); err != nil {
		c.log.Debugf("set DTR: %v", err)
	}
	if err := c.conn.SetRTS(state); err != nil {
		c.log.Debugf("set RTS: %v", err)
	}
}

// attemptToSync aborts whatever the firmware is doing and waits for the
// reply to a version request. It returns the version part of the reply.
func (c *Client) attemptToSync() (string, error) {
	request := []byte{SPECIAL_ABORT_CHAR, byte(CMD_RESET), byte(CMD_VERSION)}
	if n, err := c.conn.Write(request); err != nil || n != len(request) {
		return "", &PortError{Response: RESPONSE_PORT_ERROR, Err: fmt.Errorf("failed to send version request: %w", writeError(err))}
	}

	var w window
	var b [1]byte
	idle := 0
	received := 0
	start := time.Now()
	for time.Since(start) < syncTimeout {
		n, err := c.conn.Read(b[:])
		if err != nil {
			return "", &PortError{Response: RESPONSE_PORT_ERROR, Err: err}
		}
		if n == 1 {
			w.push(b[0])
			if w.isVersion() {
				// Got it. Clear the buffer in case the firmware sent more.
				c.conn.Purge()
				time.Sleep(time.Millisecond)
				c.conn.Purge()
				return string(w[1:]), nil
			}
			received++
			if received > syncMaxGarbage {
				return "", RESPONSE_ERROR_MALFORMED_VERSION
			}
			continue
		}

		time.Sleep(time.Millisecond)
		idle++
		if idle > syncMaxIdle {
			return "", RESPONSE_ERROR_READING_VERSION
		}
		if idle%syncKickInterval == syncKickInterval-1 {
			// Nudge the firmware in case the first request was lost
			c.log.Debug("resending version request")
			kick := []byte{byte(CMD_VERSION)}
			if n, err := c.conn.Write(kick); err != nil || n != 1 {
				return "", &PortError{Response: RESPONSE_PORT_ERROR, Err: fmt.Errorf("failed to resend version request: %w", writeError(err))}
			}
		}
	}
	return "", RESPONSE_ERROR_READING_VERSION
}

// writeError gives a cause for a short write that returned no error
func writeError(err error) error {
	if err != nil {
		return err
	}
	return errors.New("short write")
}

// applyTimeouts switches between the normal and streaming read deadlines
func (c *Client) applyTimeouts(short bool) {
	if c.conn == nil {
		return
	}
	if short {
		c.conn.SetReadTimeout(shortReadTimeout.Base, shortReadTimeout.PerByte)
	} else {
		c.conn.SetReadTimeout(normalReadTimeout.Base, normalReadTimeout.PerByte)
	}
	c.conn.SetWriteTimeout(writeTimeout.Base, writeTimeout.PerByte)
}

// fail records the outcome of err as the last error and returns err
func (c *Client) fail(err error) error {
	c.lastError = ResponseOf(err)
	return err
}

// write sends raw bytes and reports whether all of them went out
func (c *Client) write(data []byte) bool {
	if c.conn == nil {
		return false
	}
	n, err := c.conn.Write(data)
	if err != nil {
		c.log.Debugf("write: %v", err)
		return false
	}
	return n == len(data)
}

// readByte reads one byte within the read deadline
func (c *Client) readByte(b *byte) bool {
	if c.conn == nil {
		return false
	}
	var buf [1]byte
	n, err := c.conn.Read(buf[:])
	if err != nil {
		c.log.Debugf("read: %v", err)
		return false
	}
	if n != 1 {
		return false
	}
	*b = buf[0]
	return true
}

// run sends a request and classifies the one-byte reply.
// It returns the reply byte along with the outcome.
func (c *Client) run(req Request) (byte, error) {
	c.lastCommand = req.Command
	time.Sleep(time.Millisecond)

	if !c.write([]byte{byte(req.Command)}) {
		return 0, c.fail(RESPONSE_SEND_FAILED)
	}
	if req.Parameter != 0 {
		if !c.write([]byte{req.Parameter}) {
			return 0, c.fail(RESPONSE_SEND_PARAMETER_FAILED)
		}
	}

	var reply byte
	if !c.readByte(&reply) {
		return 0, c.fail(RESPONSE_READ_RESPONSE_FAILED)
	}
	c.log.Debugf("command %c -> %c", req.Command, reply)

	switch reply {
	case '1':
		c.lastError = RESPONSE_OK
		return reply, nil
	case '0':
		return reply, c.fail(RESPONSE_ERROR)
	}
	return reply, c.fail(RESPONSE_STATUS_ERROR)
}

// Close turns the drive off and releases the port
func (c *Client) Close() error {
	if c.conn == nil {
		c.state = STATE_CLOSED
		return nil
	}
	if c.state != STATE_HANDSHAKE && c.conn.IsOpen() {
		if err := c.EnableReading(false, false, false); err != nil {
			c.log.Debugf("disable motor on close: %v", err)
		}
	}
	return c.closePort()
}

func (c *Client) closePort() error {
	c.state = STATE_CLOSED
	c.isStreaming = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Port returns the device path
func (c *Client) Port() string {
	return c.name
}

// IsOpen reports whether the handshake succeeded and the port is still open
func (c *Client) IsOpen() bool {
	return c.conn != nil && c.conn.IsOpen() && c.state != STATE_CLOSED
}

// State returns the current connection state
func (c *Client) State() State {
	return c.state
}

// FirmwareVersion returns the version negotiated during Open
func (c *Client) FirmwareVersion() FirmwareVersion {
	return c.version
}

// LastError returns the outcome of the most recent operation
func (c *Client) LastError() Response {
	return c.lastError
}

// LastOperation returns the most recent high-level operation attempted
func (c *Client) LastOperation() Operation {
	return c.lastOp
}

// LastCommand returns the most recent command byte sent
func (c *Client) LastCommand() Command {
	return c.lastCommand
}

// IsInWriteMode reports whether the drive was last enabled for writing
func (c *Client) IsInWriteMode() bool {
	return c.inWriteMode
}

// IsDiskInDrive returns the cached result of the last disk check
func (c *Client) IsDiskInDrive() bool {
	return c.diskInDrive
}

// IsHDMode reports whether the bridge is switched to high density
func (c *Client) IsHDMode() bool {
	return c.isHDMode
}

// IsStreaming reports whether a streaming read is in progress
func (c *Client) IsStreaming() bool {
	return c.isStreaming
}
