package serialport

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"go.bug.st/serial"
)

// Default line speed of the bridge firmware
const DefaultBaudRate = 2000000

// Chunk sizes for transmit. With CTS flow control the chunks are small
// so the bridge can hold us off between them.
const (
	writeChunk    = 256
	writeChunkCTS = 16
)

// Typed failures of Open
var (
	ErrPortNotFound = errors.New("port not found")
	ErrPortInUse    = errors.New("port in use")
	ErrAccessDenied = errors.New("access denied")
	ErrPortGeneric  = errors.New("port error")
	ErrPortClosed   = errors.New("port not open")
)

// Timeout is a transfer deadline of the form base + perByte*n.
type Timeout struct {
	Base    time.Duration
	PerByte time.Duration
}

// For returns the deadline window for a transfer of n bytes.
func (t Timeout) For(n int) time.Duration {
	return t.Base + time.Duration(n)*t.PerByte
}

// OpenFunc opens a named serial device. serial.Open satisfies it.
type OpenFunc func(name string, mode *serial.Mode) (serial.Port, error)

// Conn is a byte channel to the bridge with timeout-bounded transfers
type Conn struct {
	name           string
	open           OpenFunc
	port           serial.Port
	mode           serial.Mode
	ctsFlowControl bool
	readTimeout    Timeout
	writeTimeout   Timeout
	pending        []byte // bytes fetched by BytesWaiting but not yet consumed
}

// Open opens the serial device at the given path with 8-N-1 at the default speed.
func Open(name string) (*Conn, error) {
	return OpenWith(name, serial.Open)
}

// OpenWith opens a serial device using the supplied open function.
func OpenWith(name string, open OpenFunc) (*Conn, error) {
	if open == nil {
		open = serial.Open
	}
	c := &Conn{
		name: name,
		open: open,
		mode: serial.Mode{
			BaudRate: DefaultBaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		readTimeout:  Timeout{Base: 2000 * time.Millisecond, PerByte: 200 * time.Millisecond},
		writeTimeout: Timeout{Base: 2000 * time.Millisecond, PerByte: 200 * time.Millisecond},
	}
	if err := c.Reopen(); err != nil {
		return nil, err
	}
	return c, nil
}

// classifyOpenError maps a driver error onto one of the typed failures
func classifyOpenError(err error) error {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		var portErrValue serial.PortError
		if !errors.As(err, &portErrValue) {
			if errors.Is(err, syscall.ENOENT) {
				return ErrPortNotFound
			}
			if errors.Is(err, syscall.EACCES) {
				return ErrAccessDenied
			}
			if errors.Is(err, syscall.EBUSY) {
				return ErrPortInUse
			}
			return ErrPortGeneric
		}
		portErr = &portErrValue
	}
	switch portErr.Code() {
	case serial.PortNotFound:
		return ErrPortNotFound
	case serial.PortBusy:
		return ErrPortInUse
	case serial.PermissionDenied:
		return ErrAccessDenied
	}
	return ErrPortGeneric
}

// Name returns the device path
func (c *Conn) Name() string {
	return c.name
}

// IsOpen reports whether the device is currently open
func (c *Conn) IsOpen() bool {
	return c.port != nil
}

// Reopen opens the device again with the last configured mode.
func (c *Conn) Reopen() error {
	if c.port != nil {
		return nil
	}
	mode := c.mode
	port, err := c.open(c.name, &mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w: %w", c.name, classifyOpenError(err), err)
	}
	c.port = port
	c.pending = nil
	return nil
}

// Configure sets the line speed and flow control. Framing is always 8-N-1.
func (c *Conn) Configure(baudRate int, ctsFlowControl bool) error {
	if c.port == nil {
		return ErrPortClosed
	}
	c.mode.BaudRate = baudRate
	c.ctsFlowControl = ctsFlowControl
	mode := c.mode
	if err := c.port.SetMode(&mode); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", c.name, err)
	}
	return nil
}

// SetCTSFlowControl turns CTS gating of writes on or off without
// touching the line settings
func (c *Conn) SetCTSFlowControl(enabled bool) {
	c.ctsFlowControl = enabled
}

// CTSFlowControl reports whether writes wait for CTS
func (c *Conn) CTSFlowControl() bool {
	return c.ctsFlowControl
}

// SetReadTimeout sets the read deadline to base + perByte*n
func (c *Conn) SetReadTimeout(base, perByte time.Duration) {
	c.readTimeout = Timeout{Base: base, PerByte: perByte}
}

// SetWriteTimeout sets the write deadline to base + perByte*n
func (c *Conn) SetWriteTimeout(base, perByte time.Duration) {
	c.writeTimeout = Timeout{Base: base, PerByte: perByte}
}

// ReadTimeout returns the current read timeout
func (c *Conn) ReadTimeout() Timeout {
	return c.readTimeout
}

// retryable reports errors the polling loops simply try again after
func retryable(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN)
}

// Read reads up to len(p) bytes before the read deadline expires.
// A short count with a nil error means the deadline was reached.
func (c *Conn) Read(p []byte) (int, error) {
	if c.port == nil {
		return 0, ErrPortClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]

	deadline := time.Now().Add(c.readTimeout.For(len(p)))
	for n < len(p) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := c.port.SetReadTimeout(remaining); err != nil {
			return n, fmt.Errorf("failed to set read timeout on %s: %w", c.name, err)
		}
		got, err := c.port.Read(p[n:])
		n += got
		if err != nil {
			if retryable(err) {
				continue
			}
			return n, fmt.Errorf("failed to read from %s: %w", c.name, err)
		}
		if got == 0 {
			// Driver timeout
			break
		}
	}
	return n, nil
}

// Write writes p before the write deadline expires and returns the number
// of bytes actually sent. With CTS flow control enabled, each chunk waits
// for the bridge to assert CTS.
func (c *Conn) Write(p []byte) (int, error) {
	if c.port == nil {
		return 0, ErrPortClosed
	}

	chunk := writeChunk
	if c.ctsFlowControl {
		chunk = writeChunkCTS
	}

	deadline := time.Now().Add(c.writeTimeout.For(len(p)))
	written := 0
	for written < len(p) {
		if time.Now().After(deadline) {
			break
		}
		if c.ctsFlowControl {
			ready, err := c.waitCTS(deadline)
			if err != nil {
				return written, err
			}
			if !ready {
				break
			}
		}

		end := written + chunk
		if end > len(p) {
			end = len(p)
		}
		n, err := c.port.Write(p[written:end])
		written += n
		if err != nil {
			if retryable(err) {
				continue
			}
			return written, fmt.Errorf("failed to write to %s: %w", c.name, err)
		}
	}
	return written, nil
}

// waitCTS polls the modem lines until CTS is asserted or the deadline passes
func (c *Conn) waitCTS(deadline time.Time) (bool, error) {
	for {
		cts, err := c.CTS()
		if err != nil {
			return false, err
		}
		if cts {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// BytesWaiting returns the number of received bytes that can be read
// without blocking.
func (c *Conn) BytesWaiting() int {
	if c.port == nil {
		return 0
	}
	if err := c.port.SetReadTimeout(0); err != nil {
		return len(c.pending)
	}
	var buf [512]byte
	n, err := c.port.Read(buf[:])
	if n > 0 {
		c.pending = append(c.pending, buf[:n]...)
	}
	if err != nil && !retryable(err) {
		return len(c.pending)
	}
	return len(c.pending)
}

// Purge discards everything in both directions
func (c *Conn) Purge() error {
	c.pending = nil
	if c.port == nil {
		return ErrPortClosed
	}
	if err := c.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to reset input buffer: %w", err)
	}
	if err := c.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("failed to reset output buffer: %w", err)
	}
	return nil
}

// SetDTR drives the DTR line
func (c *Conn) SetDTR(state bool) error {
	if c.port == nil {
		return ErrPortClosed
	}
	return c.port.SetDTR(state)
}

// SetRTS drives the RTS line
func (c *Conn) SetRTS(state bool) error {
	if c.port == nil {
		return ErrPortClosed
	}
	return c.port.SetRTS(state)
}

// CTS returns the state of the CTS line
func (c *Conn) CTS() (bool, error) {
	if c.port == nil {
		return false, ErrPortClosed
	}
	bits, err := c.port.GetModemStatusBits()
	if err != nil {
		return false, fmt.Errorf("failed to get modem status: %w", err)
	}
	return bits.CTS, nil
}

// Close closes the device. The Conn can be opened again with Reopen.
func (c *Conn) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	c.pending = nil
	return err
}
