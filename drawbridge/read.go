package drawbridge

import (
	"time"

	"github.com/sergev/drawbridge/mfm"
)

const (
	streamChunk       = 64 // bytes read per poll while streaming
	streamMaxFailures = 30 // empty polls before the stream is given up
	readMaxFailures   = 4
)

// ReadCurrentTrack reads the raw MFM bitstream of the current track into
// buf, which must be RawTrackLengthDD bytes in double density mode or
// RawTrackLengthHD bytes in high density mode. In double density mode the
// read can be aligned to the index pulse.
func (c *Client) ReadCurrentTrack(buf []byte, fromIndex bool) error {
	c.lastOp = OP_READ_TRACK
	if len(buf) == RawTrackLengthDD && c.isHDMode || len(buf) == RawTrackLengthHD && !c.isHDMode {
		return c.fail(RESPONSE_MEDIA_TYPE_MISMATCH)
	}

	packed := make([]byte, len(buf))
	var err error
	if c.isHDMode {
		err = c.readStream(packed)
	} else {
		err = c.readTrack(packed, fromIndex)
	}
	if err != nil {
		return err
	}

	mfm.Unpack(packed, buf)
	c.lastError = RESPONSE_OK
	return nil
}

// readTrack fetches a double density track. The bridge sends packed run
// codes terminated by a zero byte.
func (c *Client) readTrack(packed []byte, fromIndex bool) error {
	if _, err := c.run(Request{Command: CMD_READTRACK}); err != nil {
		c.log.Debugf("read track: %v, retrying", err)
		c.drain()
		if _, err := c.run(Request{Command: CMD_READTRACK}); err != nil {
			return err
		}
	}

	var index byte
	if fromIndex {
		index = 1
	}
	if !c.write([]byte{index}) {
		return c.fail(RESPONSE_SEND_PARAMETER_FAILED)
	}

	pos := 0
	failures := 0
	for {
		var value byte
		if !c.readByte(&value) {
			failures++
			if failures > readMaxFailures {
				return c.fail(RESPONSE_READ_RESPONSE_FAILED)
			}
			continue
		}
		if value == 0 {
			break
		}
		if pos < len(packed) {
			packed[pos] = value
			pos++
		}
	}
	c.log.Tracef("read %d packed bytes", pos)
	return nil
}

// readStream fetches a high density track in streaming mode. Reception
// continues until the firmware acknowledges the abort.
func (c *Client) readStream(packed []byte) error {
	c.lastOp = OP_READ_TRACK_STREAM
	if _, err := c.run(Request{Command: CMD_READTRACKSTREAM}); err != nil {
		c.log.Debugf("read track stream: %v, retrying", err)
		c.drain()
		if _, err := c.run(Request{Command: CMD_READTRACKSTREAM}); err != nil {
			return err
		}
	}

	c.isStreaming = true
	c.abortStreaming = false
	c.abortSignalled = false
	c.applyTimeouts(true)

	var w window
	var chunk [streamChunk]byte
	pos := 0
	failures := 0
	for c.isStreaming {
		available := min(max(c.conn.BytesWaiting(), 1), streamChunk)
		if c.abortSignalled {
			available = 1
		}
		n, err := c.conn.Read(chunk[:available])
		if err != nil {
			c.log.Debugf("stream read: %v", err)
			n = 0
		}

		for _, b := range chunk[:n] {
			if c.abortSignalled {
				w.push(b)
				if w.isAbortAcknowledge() {
					c.isStreaming = false
					c.conn.Purge()
					c.applyTimeouts(false)
					break
				}
				continue
			}
			packed[pos] = mfm.FromStream(b)
			pos++
			if pos >= len(packed) {
				c.AbortReadStreaming()
			}
		}

		if n < 1 {
			failures++
			if failures > streamMaxFailures {
				c.log.Warn("stream stalled, giving up")
				c.abortStreaming = false // make sure the abort is sent
				c.AbortReadStreaming()
				c.isStreaming = false
				c.applyTimeouts(false)
				c.CheckForDisk(true)
				return c.fail(RESPONSE_READ_RESPONSE_FAILED)
			}
			time.Sleep(time.Millisecond)
		}
	}
	c.log.Tracef("streamed %d bytes", pos)
	return nil
}

// AbortReadStreaming asks the bridge to stop a streaming read. The stream
// ends once the firmware acknowledges; the reader keeps polling until then.
// It reports false when the abort could not be sent.
func (c *Client) AbortReadStreaming() bool {
	if !c.isStreaming {
		return true
	}
	ok := true
	if !c.abortStreaming {
		c.abortSignalled = true
		ok = c.write([]byte{SPECIAL_ABORT_CHAR})
	}
	c.abortStreaming = true
	return ok
}

// drain discards whatever the bridge has already sent
func (c *Client) drain() {
	var buf [streamChunk]byte
	failures := 0
	for c.conn != nil && c.conn.BytesWaiting() > 0 {
		n, err := c.conn.Read(buf[:min(c.conn.BytesWaiting(), len(buf))])
		if err != nil || n == 0 {
			failures++
			if failures > drainMaxFailures {
				return
			}
		}
	}
}
