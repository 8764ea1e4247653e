package drawbridge

import (
	"fmt"

	"github.com/sergev/drawbridge/mfm"
)

// WriteCurrentTrack writes an MFM bitstream to the current track. In
// double density mode the data can be written with precompensation.
// The drive must have been enabled with EnableWriting.
func (c *Client) WriteCurrentTrack(bits []byte, fromIndex, precomp bool) error {
	c.lastOp = OP_WRITE_TRACK
	if c.isHDMode {
		return c.writeTrack(mfm.PackHD(bits), fromIndex)
	}
	packed := mfm.Pack(bits, precomp)
	if len(packed) > 0xFFFF {
		return c.fail(fmt.Errorf("failed to write track: %d bytes is too long: %w", len(packed), RESPONSE_SEND_PARAMETER_FAILED))
	}
	return c.writeTrack(packed, fromIndex)
}

// writeTrack transfers packed track data. Double density transfers are
// preceded by their length, high density ones end with a zero byte.
// Packed double density data always goes with the precomp command; the
// tags inside it turn precompensation on or off.
func (c *Client) writeTrack(packed []byte, fromIndex bool) error {
	cmd := CMD_WRITETRACK
	if !c.isHDMode {
		cmd = CMD_WRITETRACKPRECOMP
	}
	if _, err := c.run(Request{Command: cmd}); err != nil {
		return err
	}

	var reply byte
	if !c.readByte(&reply) {
		return c.fail(RESPONSE_READ_RESPONSE_FAILED)
	}
	switch reply {
	case 'Y':
	case 'N':
		return c.fail(RESPONSE_WRITE_PROTECTED)
	default:
		return c.fail(RESPONSE_STATUS_ERROR)
	}

	if !c.isHDMode {
		length := []byte{byte(len(packed) >> 8), byte(len(packed))}
		if !c.write(length) {
			return c.fail(RESPONSE_SEND_PARAMETER_FAILED)
		}
	}

	var index byte
	if fromIndex {
		index = 1
	}
	if !c.write([]byte{index}) {
		return c.fail(RESPONSE_SEND_PARAMETER_FAILED)
	}

	if !c.readByte(&reply) {
		return c.fail(RESPONSE_READ_RESPONSE_FAILED)
	}
	if reply != '!' {
		return c.fail(RESPONSE_STATUS_ERROR)
	}

	if !c.write(packed) {
		return c.fail(RESPONSE_SEND_DATA_FAILED)
	}
	c.log.Tracef("sent %d packed bytes", len(packed))

	if !c.readByte(&reply) {
		return c.fail(RESPONSE_TRACK_WRITE_RESPONSE_ERROR)
	}
	switch reply {
	case '1':
		c.lastError = RESPONSE_OK
		return nil
	case 'X':
		return c.fail(RESPONSE_WRITE_TIMEOUT)
	case 'Y':
		return c.fail(RESPONSE_FRAMING_ERROR)
	case 'Z':
		return c.fail(RESPONSE_SERIAL_OVERRUN)
	}
	return c.fail(RESPONSE_STATUS_ERROR)
}
