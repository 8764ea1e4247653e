package drawbridge

import (
	"fmt"
	"time"
)

// EnableReading turns the drive motor on or off. With reset, the head is
// moved to track 0 and the upper surface is selected. With dontWait the
// firmware does not wait for the motor to spin up.
func (c *Client) EnableReading(enable, reset, dontWait bool) error {
	c.inWriteMode = false
	if !enable {
		c.lastOp = OP_DISABLE_MOTOR
		if _, err := c.run(Request{Command: CMD_DISABLE}); err != nil {
			return err
		}
		c.state = STATE_IDLE
		return nil
	}

	c.lastOp = OP_ENABLE_MOTOR
	cmd := CMD_ENABLE
	if dontWait {
		cmd = CMD_ENABLE_NOWAIT
	}
	if _, err := c.run(Request{Command: cmd}); err != nil {
		return err
	}
	c.state = STATE_READING

	if reset {
		if err := c.FindTrack0(); err != nil {
			return err
		}
		return c.SelectSurface(SURFACE_UPPER)
	}
	c.inWriteMode = c.version.FullControlMod
	return nil
}

// EnableWriting turns the drive on for writing.
// The firmware refuses with an error when the disk is write protected.
func (c *Client) EnableWriting(enable, reset bool) error {
	if !enable {
		c.lastOp = OP_DISABLE_MOTOR
		c.inWriteMode = false
		if _, err := c.run(Request{Command: CMD_DISABLE}); err != nil {
			return err
		}
		c.state = STATE_IDLE
		return nil
	}

	c.lastOp = OP_ENABLE_WRITE
	if _, err := c.run(Request{Command: CMD_ENABLEWRITE}); err != nil {
		if ResponseOf(err) == RESPONSE_ERROR {
			return c.fail(RESPONSE_WRITE_PROTECTED)
		}
		return err
	}
	c.inWriteMode = true
	c.state = STATE_WRITING

	if reset {
		if err := c.FindTrack0(); err != nil {
			return err
		}
		return c.SelectSurface(SURFACE_UPPER)
	}
	return nil
}

// FindTrack0 rewinds the head to the first track
func (c *Client) FindTrack0() error {
	c.lastOp = OP_REWIND
	status, err := c.run(Request{Command: CMD_REWIND})
	if err != nil && status == '#' {
		return c.fail(RESPONSE_REWIND_FAILURE)
	}
	return err
}

// SelectSurface switches the active head
func (c *Client) SelectSurface(side Surface) error {
	c.lastOp = OP_SELECT_SURFACE
	cmd := CMD_HEAD0
	if side == SURFACE_LOWER {
		cmd = CMD_HEAD1
	}
	_, err := c.run(Request{Command: cmd})
	return err
}

// SelectTrack seeks to the given track. Tracks above MaxTrack are
// rejected without talking to the bridge.
func (c *Client) SelectTrack(track int) error {
	c.lastOp = OP_GOTO_TRACK
	if track < 0 || track > MaxTrack {
		return c.fail(RESPONSE_TRACK_RANGE_ERROR)
	}

	c.lastCommand = CMD_GOTOTRACK
	request := fmt.Sprintf("%c%02d", CMD_GOTOTRACK, track)
	if !c.write([]byte(request)) {
		return c.fail(RESPONSE_SEND_FAILED)
	}

	var status byte
	if !c.readByte(&status) {
		return c.fail(RESPONSE_READ_RESPONSE_FAILED)
	}
	c.log.Debugf("goto track %d -> %c", track, status)

	switch status {
	case '2', '1':
		// '2' means the head was already there
		c.lastError = RESPONSE_OK
		return nil
	case '0':
		return c.fail(RESPONSE_SELECT_TRACK_ERROR)
	}
	return c.fail(RESPONSE_STATUS_ERROR)
}

// CheckForDisk reports whether a disk is in the drive. Without force the
// result of the previous check is returned. A forced check also refreshes
// the write protect state.
func (c *Client) CheckForDisk(force bool) (bool, error) {
	if !force {
		return c.diskInDrive, nil
	}
	c.lastOp = OP_CHECK_DISK_IN_DRIVE

	status, err := c.run(Request{Command: CMD_CHECKDISKEXISTS})
	if err != nil && ResponseOf(err) != RESPONSE_STATUS_ERROR {
		return c.diskInDrive, err
	}

	var result error
	switch status {
	case '#':
		c.diskInDrive = false
		result = c.fail(RESPONSE_NO_DISK_IN_DRIVE)
	case '1':
		c.diskInDrive = true
		c.lastError = RESPONSE_OK
	default:
		return c.diskInDrive, c.fail(RESPONSE_READ_RESPONSE_FAILED)
	}

	// Write protect state follows
	var wp byte
	if !c.readByte(&wp) {
		return c.diskInDrive, c.fail(RESPONSE_READ_RESPONSE_FAILED)
	}
	if wp == '1' || wp == '#' {
		c.writeProtected = wp == '1'
	}
	time.Sleep(time.Millisecond)

	return c.diskInDrive, result
}

// CheckWriteProtected reports whether the disk is write protected.
// A forced check probes the drive and returns RESPONSE_WRITE_PROTECTED
// when it is.
func (c *Client) CheckWriteProtected(force bool) (bool, error) {
	if !force {
		return c.writeProtected, nil
	}
	c.lastOp = OP_CHECK_DISK_WRITE_PROTECTED

	if _, err := c.CheckForDisk(true); err != nil {
		return c.writeProtected, err
	}
	if c.writeProtected {
		return true, c.fail(RESPONSE_WRITE_PROTECTED)
	}
	return false, nil
}

// CheckDiskCapacity asks the drive whether the inserted disk is high
// density. Firmware without density detection always reports double density.
func (c *Client) CheckDiskCapacity() (isHD bool, err error) {
	c.lastOp = OP_CHECK_DENSITY
	if !c.version.Has(FLAGS_DENSITYDETECT_ENABLED) {
		c.lastError = RESPONSE_OK
		return false, nil
	}

	if _, err := c.run(Request{Command: CMD_CHECK_DENSITY}); err != nil {
		return false, err
	}

	var status byte
	if !c.readByte(&status) {
		return false, c.fail(RESPONSE_READ_RESPONSE_FAILED)
	}
	c.log.Debugf("density -> %c", status)

	switch status {
	case 'x':
		// The cached disk state is left alone
		return false, c.fail(RESPONSE_NO_DISK_IN_DRIVE)
	case 'H':
		c.diskInDrive = true
		c.lastError = RESPONSE_OK
		return true, nil
	case 'D':
		c.diskInDrive = true
		c.lastError = RESPONSE_OK
		return false, nil
	}
	return false, c.fail(RESPONSE_STATUS_ERROR)
}

// SetDiskCapacity switches the bridge between double and high density
func (c *Client) SetDiskCapacity(isHD bool) error {
	c.lastOp = OP_SWITCH_DISK_MODE
	cmd := CMD_SWITCHTO_DD
	if isHD {
		cmd = CMD_SWITCHTO_HD
	}
	if _, err := c.run(Request{Command: cmd}); err != nil {
		return err
	}
	c.isHDMode = isHD
	return nil
}
