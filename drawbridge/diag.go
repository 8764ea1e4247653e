package drawbridge

import (
	"strconv"
	"strings"
	"time"
)

const ctsTestRounds = 10

// TestCTS toggles the CTS line from the firmware side and checks that the
// host sees every change. The port is closed when the test fails.
func (c *Client) TestCTS() error {
	c.lastOp = OP_RUN_DIAGNOSTICS
	if c.conn == nil {
		return c.fail(RESPONSE_SEND_FAILED)
	}

	// CTS goes low during the test, so writes must not wait for it
	if conn := c.conn; conn.CTSFlowControl() {
		conn.SetCTSFlowControl(false)
		defer conn.SetCTSFlowControl(true)
	}

	for round := 1; round <= ctsTestRounds; round++ {
		param := byte('2')
		if round&1 != 0 {
			param = '1'
		}
		if _, err := c.run(Request{Command: CMD_DIAGNOSTICS, Parameter: param}); err != nil {
			c.closePort()
			return err
		}
		time.Sleep(time.Millisecond)

		cts, err := c.conn.CTS()
		if err != nil {
			c.log.Debugf("read CTS: %v", err)
		}

		// Return the line to its default state
		c.run(Request{Command: CMD_DIAGNOSTICS})

		if cts != (round&1 != 0) {
			c.log.Warnf("CTS is %v in round %d", cts, round)
			c.closePort()
			return c.fail(RESPONSE_CTS_FAILURE)
		}
		time.Sleep(time.Millisecond)
	}
	c.lastError = RESPONSE_OK
	return nil
}

// TestIndexPulse asks the firmware to check that the drive produces index pulses
func (c *Client) TestIndexPulse() error {
	c.lastOp = OP_RUN_DIAGNOSTICS
	_, err := c.run(Request{Command: CMD_DIAGNOSTICS, Parameter: '3'})
	return err
}

// TestDataPulse asks the firmware to check that the drive produces read data
func (c *Client) TestDataPulse() error {
	c.lastOp = OP_RUN_DIAGNOSTICS
	_, err := c.run(Request{Command: CMD_DIAGNOSTICS, Parameter: '4'})
	return err
}

// MeasureRPM returns the spindle speed measured by the firmware.
// A speed below 10 RPM means there is no disk spinning.
func (c *Client) MeasureRPM() (float64, error) {
	c.lastOp = OP_MEASURE_RPM
	if _, err := c.run(Request{Command: CMD_TEST_RPM}); err != nil {
		return 0, err
	}

	// Up to 10 characters terminated by a newline
	var sb strings.Builder
	failures := 0
	for sb.Len() < 10 {
		var b byte
		if !c.readByte(&b) {
			failures++
			if failures > 10 {
				break
			}
			continue
		}
		if b == '\n' {
			break
		}
		sb.WriteByte(b)
	}

	rpm, err := strconv.ParseFloat(strings.TrimSpace(sb.String()), 64)
	if err != nil {
		c.log.Debugf("bad rpm %q: %v", sb.String(), err)
		rpm = 0
	}
	if rpm < 10 {
		return rpm, c.fail(RESPONSE_NO_DISK_IN_DRIVE)
	}
	return rpm, nil
}
